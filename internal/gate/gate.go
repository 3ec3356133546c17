// Package gate decides whether the current session may enter a protected region.
package gate

import (
	"context"
	"time"

	"github.com/and161185/toollink/internal/model"
	"github.com/and161185/toollink/internal/rbac"
)

// Decision is the outcome of an access check.
type Decision int

const (
	Pending Decision = iota
	Grant
	RedirectToLogin
	RedirectToFallback
)

func (d Decision) String() string {
	switch d {
	case Pending:
		return "pending"
	case Grant:
		return "grant"
	case RedirectToLogin:
		return "redirect_to_login"
	case RedirectToFallback:
		return "redirect_to_fallback"
	default:
		return "invalid"
	}
}

const (
	DefaultLoginRoute    = "/login"
	DefaultFallbackRoute = "/unauthorized"
)

// Requirement describes what a protected region needs. Empty lists mean no restriction of that kind.
type Requirement struct {
	Roles         []model.Role
	Permissions   []model.Permission
	FallbackRoute string
	LoginRoute    string
}

func (r Requirement) loginRoute() string {
	if r.LoginRoute == "" {
		return DefaultLoginRoute
	}
	return r.LoginRoute
}

func (r Requirement) fallbackRoute() string {
	if r.FallbackRoute == "" {
		return DefaultFallbackRoute
	}
	return r.FallbackRoute
}

// Session is the read side of the session manager.
type Session interface {
	CurrentUser() *model.Identity
	IsAuthenticated() bool
}

type readier interface{ Ready() <-chan struct{} }

type verifier interface{ Verified() bool }

// Options configures a Gate.
type Options struct {
	// PendingTimeout bounds how long Check waits for the initial session check.
	PendingTimeout time.Duration
	// StrictAdmin refuses the admin bypass until the backend has confirmed the identity.
	StrictAdmin bool
}

// Decide is the pure decision. verified only matters when strictAdmin is set.
func Decide(id *model.Identity, authenticated bool, req Requirement, strictAdmin, verified bool) Decision {
	if id == nil {
		if !authenticated {
			return RedirectToLogin
		}
		// storage says logged in but the identity is not restored yet
		if len(req.Roles) == 0 && len(req.Permissions) == 0 {
			return Grant
		}
		return RedirectToFallback
	}
	if model.NormalizeRole(id.Role) == model.RoleAdmin {
		if strictAdmin && !verified {
			return RedirectToLogin
		}
		return Grant
	}
	if len(req.Roles) > 0 && !rbac.HasAnyRole(id, req.Roles) {
		return RedirectToFallback
	}
	if len(req.Permissions) > 0 && !rbac.HasAnyPermission(id.Role, req.Permissions) {
		return RedirectToFallback
	}
	return Grant
}

// Result pairs a decision with the route to redirect to, if any.
type Result struct {
	Decision Decision
	Route    string
}

// Gate evaluates requirements against a live session.
type Gate struct {
	s    Session
	opts Options
}

// New returns a gate over s. A zero PendingTimeout means 5s.
func New(s Session, opts Options) *Gate {
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = 5 * time.Second
	}
	return &Gate{s: s, opts: opts}
}

func (g *Gate) ready() bool {
	r, ok := g.s.(readier)
	if !ok {
		return true
	}
	select {
	case <-r.Ready():
		return true
	default:
		return false
	}
}

func (g *Gate) verified() bool {
	v, ok := g.s.(verifier)
	return ok && v.Verified()
}

// Peek decides without waiting; it reports Pending while the initial session check is outstanding.
func (g *Gate) Peek(req Requirement) Result {
	if !g.ready() {
		return Result{Decision: Pending}
	}
	return g.decide(req)
}

// Check waits at most PendingTimeout for the session to become ready, then decides
// on whatever state is available. It never returns Pending.
func (g *Gate) Check(ctx context.Context, req Requirement) Result {
	if r, ok := g.s.(readier); ok {
		t := time.NewTimer(g.opts.PendingTimeout)
		defer t.Stop()
		select {
		case <-r.Ready():
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return g.decide(req)
}

// CheckRoute checks the permissions registered for route.
func (g *Gate) CheckRoute(ctx context.Context, route string) Result {
	return g.Check(ctx, Requirement{Permissions: rbac.RouteRequiresAnyOf(route)})
}

func (g *Gate) decide(req Requirement) Result {
	d := Decide(g.s.CurrentUser(), g.s.IsAuthenticated(), req, g.opts.StrictAdmin, g.verified())
	switch d {
	case RedirectToLogin:
		return Result{Decision: d, Route: req.loginRoute()}
	case RedirectToFallback:
		return Result{Decision: d, Route: req.fallbackRoute()}
	default:
		return Result{Decision: d}
	}
}
