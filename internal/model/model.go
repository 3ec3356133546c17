// Package model defines the identity, role and wire types shared by the session layers.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Role is the coarse-grained identity category issued by the backend.
type Role string

// Known roles.
const (
	RoleAdmin     Role = "admin"
	RoleUser      Role = "user"
	RoleWarehouse Role = "warehouse"
	RoleCashier   Role = "cashier"
	RoleCustomer  Role = "customer"
	RoleDriver    Role = "driver"
	RoleEditor    Role = "editor"
)

// NormalizeRole returns the canonical (trimmed, lower-case) form of a role tag.
func NormalizeRole(r Role) Role {
	return Role(strings.ToLower(strings.TrimSpace(string(r))))
}

// UnmarshalJSON canonicalizes the role tag on decode.
func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*r = NormalizeRole(Role(s))
	return nil
}

// Permission is a fine-grained capability tag.
type Permission string

// PermissionAll is the wildcard meaning "every permission".
const PermissionAll Permission = "*"

// Known permissions.
const (
	PermDashboardView Permission = "dashboard.view"

	PermInventoryView   Permission = "inventory.view"
	PermInventoryCreate Permission = "inventory.create"
	PermInventoryUpdate Permission = "inventory.update"
	PermInventoryDelete Permission = "inventory.delete"

	PermOrdersView    Permission = "orders.view"
	PermOrdersCreate  Permission = "orders.create"
	PermOrdersApprove Permission = "orders.approve"
	PermOrdersCancel  Permission = "orders.cancel"

	PermDeliveriesView         Permission = "deliveries.view"
	PermDeliveriesAssign       Permission = "deliveries.assign"
	PermDeliveriesUpdateStatus Permission = "deliveries.update_status"

	PermUsersView    Permission = "users.view"
	PermUsersManage  Permission = "users.manage"
	PermUsersApprove Permission = "users.approve"

	PermReportsView     Permission = "reports.view"
	PermPaymentsProcess Permission = "payments.process"
	PermContentEdit     Permission = "content.edit"
	PermSettingsManage  Permission = "settings.manage"
)

// UserID accepts both JSON strings and numbers; backends disagree on the id type.
type UserID string

// UnmarshalJSON decodes a string or numeric id.
func (id *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("user id: want string or number")
	}
	*id = UserID(n.String())
	return nil
}

// Identity is the authenticated user's profile as held client-side.
type Identity struct {
	ID            UserID    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	WarehouseCode string    `json:"warehouseCode,omitempty"`
}

// Clone returns a copy safe to hand out to readers.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// ErrorType is the backend-supplied failure code.
type ErrorType string

// Wire error codes.
const (
	ErrorNone                   ErrorType = ""
	ErrorNetworkTimeout         ErrorType = "NETWORK_TIMEOUT"
	ErrorBackendUnreachable     ErrorType = "BACKEND_UNREACHABLE"
	ErrorInvalidCredentials     ErrorType = "INVALID_CREDENTIALS"
	ErrorAccountPendingApproval ErrorType = "ACCOUNT_PENDING_APPROVAL"
	ErrorAccountLocked          ErrorType = "ACCOUNT_LOCKED"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the body returned by POST /auth/login.
type LoginResponse struct {
	Success           bool      `json:"success"`
	User              *Identity `json:"user,omitempty"`
	AccessToken       string    `json:"accessToken,omitempty"`
	Token             string    `json:"token,omitempty"`
	Error             string    `json:"error,omitempty"`
	ErrorType         ErrorType `json:"errorType,omitempty"`
	RemainingAttempts *int      `json:"remainingAttempts,omitempty"`
}

// BearerToken returns the issued token under either field name.
func (r LoginResponse) BearerToken() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.Token
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Company  string `json:"company,omitempty"`
	Role     Role   `json:"role,omitempty"`
}

// RegisterResponse is the body returned by POST /auth/register.
type RegisterResponse struct {
	Success          bool      `json:"success"`
	User             *Identity `json:"user,omitempty"`
	AccessToken      string    `json:"accessToken,omitempty"`
	Token            string    `json:"token,omitempty"`
	RequiresApproval bool      `json:"requiresApproval,omitempty"`
	Error            string    `json:"error,omitempty"`
	ErrorType        ErrorType `json:"errorType,omitempty"`
}

// BearerToken returns the issued token under either field name.
func (r RegisterResponse) BearerToken() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.Token
}

// RefreshResponse is the body returned by POST /auth/refresh-token.
type RefreshResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}

// BasicResponse is the minimal {success, error} envelope.
type BasicResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// LoginResult is what the session manager reports to the UI layer.
type LoginResult struct {
	Success            bool
	Error              string
	ErrorType          ErrorType
	RemainingAttempts  *int
	ShowForgotPassword bool
}

// RegisterResult is what the session manager reports after registration.
type RegisterResult struct {
	Success          bool
	RequiresApproval bool
	Error            string
	ErrorType        ErrorType
}

// ShowForgotPassword reports whether the UI should offer password recovery.
func ShowForgotPassword(t ErrorType, remaining *int) bool {
	if t == ErrorAccountLocked {
		return true
	}
	return remaining != nil && *remaining <= 0
}
