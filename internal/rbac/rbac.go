// Package rbac holds the static role → permission table and the pure queries over it.
package rbac

import (
	"path"
	"slices"
	"strings"

	"github.com/and161185/toollink/internal/model"
)

// rolePermissions is fixed at build time and never mutated.
var rolePermissions = map[model.Role][]model.Permission{
	model.RoleAdmin: {model.PermissionAll},
	model.RoleWarehouse: {
		model.PermDashboardView,
		model.PermInventoryView,
		model.PermInventoryCreate,
		model.PermInventoryUpdate,
		model.PermOrdersView,
		model.PermOrdersApprove,
		model.PermDeliveriesView,
		model.PermDeliveriesAssign,
		model.PermReportsView,
	},
	model.RoleCashier: {
		model.PermDashboardView,
		model.PermInventoryView,
		model.PermOrdersView,
		model.PermOrdersCreate,
		model.PermPaymentsProcess,
		model.PermReportsView,
	},
	model.RoleCustomer: {
		model.PermInventoryView,
		model.PermOrdersView,
		model.PermOrdersCreate,
		model.PermOrdersCancel,
		model.PermDeliveriesView,
	},
	model.RoleDriver: {
		model.PermOrdersView,
		model.PermDeliveriesView,
		model.PermDeliveriesUpdateStatus,
	},
	model.RoleEditor: {
		model.PermDashboardView,
		model.PermInventoryView,
		model.PermContentEdit,
	},
	model.RoleUser: {
		model.PermDashboardView,
		model.PermInventoryView,
		model.PermOrdersView,
	},
}

// routePermissions lists the permissions of which a route needs at least one.
var routePermissions = map[string][]model.Permission{
	"/dashboard":     {model.PermDashboardView},
	"/inventory":     {model.PermInventoryView},
	"/inventory/new": {model.PermInventoryCreate},
	"/orders":        {model.PermOrdersView},
	"/orders/new":    {model.PermOrdersCreate},
	"/deliveries":    {model.PermDeliveriesView, model.PermDeliveriesUpdateStatus},
	"/users":         {model.PermUsersView, model.PermUsersManage},
	"/users/pending": {model.PermUsersApprove},
	"/reports":       {model.PermReportsView},
	"/payments":      {model.PermPaymentsProcess},
	"/content":       {model.PermContentEdit},
	"/settings":      {model.PermSettingsManage},
}

func isAdmin(r model.Role) bool { return model.NormalizeRole(r) == model.RoleAdmin }

// KnownRoles returns every role present in the table, sorted.
func KnownRoles() []model.Role {
	out := make([]model.Role, 0, len(rolePermissions))
	for r := range rolePermissions {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// RolePermissions returns a copy of the role's permission set; unknown roles yield an empty set.
func RolePermissions(role model.Role) []model.Permission {
	perms, ok := rolePermissions[model.NormalizeRole(role)]
	if !ok {
		return []model.Permission{}
	}
	return slices.Clone(perms)
}

// HasPermission reports whether role holds perm. Admin always does.
func HasPermission(role model.Role, perm model.Permission) bool {
	if strings.TrimSpace(string(perm)) == "" {
		return false
	}
	if isAdmin(role) {
		return true
	}
	perms, ok := rolePermissions[model.NormalizeRole(role)]
	if !ok {
		return false
	}
	return slices.Contains(perms, model.PermissionAll) || slices.Contains(perms, perm)
}

// HasAnyPermission reports whether role holds at least one of perms.
func HasAnyPermission(role model.Role, perms []model.Permission) bool {
	for _, p := range perms {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasRole compares the identity's role to role, ignoring case.
func HasRole(id *model.Identity, role model.Role) bool {
	if id == nil {
		return false
	}
	return model.NormalizeRole(id.Role) == model.NormalizeRole(role)
}

// HasAnyRole reports whether the identity's role is one of roles. Admin always matches.
func HasAnyRole(id *model.Identity, roles []model.Role) bool {
	if id == nil {
		return false
	}
	if isAdmin(id.Role) {
		return true
	}
	for _, r := range roles {
		if HasRole(id, r) {
			return true
		}
	}
	return false
}

// RouteRequiresAnyOf returns the permissions guarding route, or nil when the route is unrestricted.
// The longest registered prefix wins, so "/inventory/42" inherits "/inventory".
func RouteRequiresAnyOf(route string) []model.Permission {
	if route == "" {
		return nil
	}
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	p := path.Clean("/" + route)
	for p != "/" && p != "." {
		if perms, ok := routePermissions[p]; ok {
			return slices.Clone(perms)
		}
		p = path.Dir(p)
	}
	return nil
}
