package gate

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/toollink/internal/model"
	"github.com/and161185/toollink/internal/rbac"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id       *model.Identity
	authed   bool
	ready    chan struct{}
	verified bool
}

func (f *fakeSession) CurrentUser() *model.Identity { return f.id }
func (f *fakeSession) IsAuthenticated() bool        { return f.authed || f.id != nil }
func (f *fakeSession) Ready() <-chan struct{}       { return f.ready }
func (f *fakeSession) Verified() bool               { return f.verified }

var _ Session = (*fakeSession)(nil)

func readySession(id *model.Identity) *fakeSession {
	ch := make(chan struct{})
	close(ch)
	return &fakeSession{id: id, ready: ch, verified: true}
}

func TestDecide_AdminBypass(t *testing.T) {
	t.Parallel()

	admin := &model.Identity{ID: "1", Role: model.RoleAdmin}
	for _, role := range rbac.KnownRoles() {
		for _, p := range rbac.RolePermissions(model.RoleWarehouse) {
			req := Requirement{Roles: []model.Role{role}, Permissions: []model.Permission{p}}
			if got := Decide(admin, true, req, false, false); got != Grant {
				t.Fatalf("admin denied for %v: %v", req, got)
			}
		}
	}
	require.Equal(t, Grant, Decide(&model.Identity{Role: "Admin"}, true, Requirement{Roles: []model.Role{model.RoleDriver}}, false, false))
}

func TestDecide_StrictAdmin(t *testing.T) {
	t.Parallel()

	admin := &model.Identity{ID: "1", Role: model.RoleAdmin}
	require.Equal(t, RedirectToLogin, Decide(admin, true, Requirement{}, true, false))
	require.Equal(t, Grant, Decide(admin, true, Requirement{}, true, true))
}

func TestDecide(t *testing.T) {
	t.Parallel()

	customer := &model.Identity{ID: "2", Role: model.RoleCustomer}
	warehouse := &model.Identity{ID: "3", Role: "WAREHOUSE"}

	cases := []struct {
		name   string
		id     *model.Identity
		authed bool
		req    Requirement
		want   Decision
	}{
		{"anonymous", nil, false, Requirement{Permissions: []model.Permission{model.PermInventoryView}}, RedirectToLogin},
		{"anonymous open region", nil, false, Requirement{}, RedirectToLogin},
		{"authed without identity open", nil, true, Requirement{}, Grant},
		{"authed without identity restricted", nil, true, Requirement{Roles: []model.Role{model.RoleWarehouse}}, RedirectToFallback},
		{"customer in warehouse region", customer, true, Requirement{Roles: []model.Role{model.RoleAdmin, model.RoleWarehouse}}, RedirectToFallback},
		{"warehouse in warehouse region", warehouse, true, Requirement{Roles: []model.Role{model.RoleAdmin, model.RoleWarehouse}}, Grant},
		{"customer lacks permission", customer, true, Requirement{Permissions: []model.Permission{model.PermInventoryCreate}}, RedirectToFallback},
		{"warehouse any permission", warehouse, true, Requirement{Permissions: []model.Permission{model.PermUsersManage, model.PermInventoryView}}, Grant},
		{"no requirements", customer, true, Requirement{}, Grant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Decide(tc.id, tc.authed, tc.req, false, false))
		})
	}
}

func TestGate_Routes(t *testing.T) {
	t.Parallel()

	g := New(readySession(nil), Options{})
	res := g.Peek(Requirement{})
	require.Equal(t, RedirectToLogin, res.Decision)
	require.Equal(t, DefaultLoginRoute, res.Route)

	g = New(readySession(&model.Identity{ID: "2", Role: model.RoleCustomer}), Options{})
	res = g.Peek(Requirement{Roles: []model.Role{model.RoleWarehouse}, FallbackRoute: "/customer"})
	require.Equal(t, Result{Decision: RedirectToFallback, Route: "/customer"}, res)

	res = g.Peek(Requirement{Roles: []model.Role{model.RoleWarehouse}})
	require.Equal(t, DefaultFallbackRoute, res.Route)

	require.Equal(t, Result{Decision: Grant}, g.Peek(Requirement{Roles: []model.Role{model.RoleCustomer}}))
}

func TestGate_CheckRoute(t *testing.T) {
	t.Parallel()

	g := New(readySession(&model.Identity{ID: "5", Role: model.RoleDriver}), Options{})
	require.Equal(t, Grant, g.CheckRoute(context.Background(), "/deliveries/17").Decision)
	require.Equal(t, RedirectToFallback, g.CheckRoute(context.Background(), "/users").Decision)
	require.Equal(t, Grant, g.CheckRoute(context.Background(), "/profile").Decision)
}

func TestGate_PendingIsBounded(t *testing.T) {
	t.Parallel()

	// Ready never closes, as if /auth/me hung forever.
	s := &fakeSession{ready: make(chan struct{})}
	g := New(s, Options{PendingTimeout: 30 * time.Millisecond})

	require.Equal(t, Pending, g.Peek(Requirement{}).Decision)

	start := time.Now()
	res := g.Check(context.Background(), Requirement{Permissions: []model.Permission{model.PermInventoryView}})
	require.Less(t, time.Since(start), time.Second)
	require.NotEqual(t, Pending, res.Decision)
	require.Equal(t, RedirectToLogin, res.Decision)
}

func TestGate_CheckHonoursContext(t *testing.T) {
	t.Parallel()

	s := &fakeSession{ready: make(chan struct{}), id: &model.Identity{ID: "1", Role: model.RoleEditor}}
	g := New(s, Options{PendingTimeout: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := g.Check(ctx, Requirement{Permissions: []model.Permission{model.PermContentEdit}})
	require.Equal(t, Grant, res.Decision)
}

func TestDecision_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pending", Pending.String())
	require.Equal(t, "grant", Grant.String())
	require.Equal(t, "redirect_to_login", RedirectToLogin.String())
	require.Equal(t, "redirect_to_fallback", RedirectToFallback.String())
}
