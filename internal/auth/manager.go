// Package auth owns the session lifecycle: restore, login, logout, refresh and cross-tab reconciliation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/toollink/internal/backend"
	"github.com/and161185/toollink/internal/errs"
	"github.com/and161185/toollink/internal/model"
	"github.com/and161185/toollink/internal/session"
	"github.com/and161185/toollink/internal/store"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Backend is the subset of the REST API the manager depends on.
type Backend interface {
	Login(ctx context.Context, email, password string) (model.LoginResponse, error)
	Register(ctx context.Context, req model.RegisterRequest) (model.RegisterResponse, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*model.Identity, error)
	RefreshToken(ctx context.Context) (string, error)
}

var (
	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("auth: already initialized")
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("auth: already started")
)

// Options tunes timeouts and background cadence. Zero values take DefaultOptions.
type Options struct {
	LoginTimeout         time.Duration // 0: rely on the backend's own limits
	RefreshTimeout       time.Duration
	InitTimeout          time.Duration
	LogoutTimeout        time.Duration
	TokenRefreshInterval time.Duration
	ReconcileInterval    time.Duration
	// MaxRefreshFailures consecutive token renewal failures force a logout.
	MaxRefreshFailures int
	// EventInterval is the minimum spacing of event-triggered reconciliations.
	EventInterval time.Duration

	Logger       *zap.Logger
	Metrics      *Metrics
	OnTransition func(from, to State)
	Now          func() time.Time
}

// DefaultOptions returns the production cadence.
func DefaultOptions() Options {
	return Options{
		RefreshTimeout:       3 * time.Second,
		InitTimeout:          5 * time.Second,
		LogoutTimeout:        3 * time.Second,
		TokenRefreshInterval: 14 * time.Minute,
		ReconcileInterval:    2 * time.Second,
		MaxRefreshFailures:   1,
		EventInterval:        100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = d.RefreshTimeout
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = d.InitTimeout
	}
	if o.LogoutTimeout <= 0 {
		o.LogoutTimeout = d.LogoutTimeout
	}
	if o.TokenRefreshInterval <= 0 {
		o.TokenRefreshInterval = d.TokenRefreshInterval
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = d.ReconcileInterval
	}
	if o.MaxRefreshFailures <= 0 {
		o.MaxRefreshFailures = d.MaxRefreshFailures
	}
	if o.EventInterval <= 0 {
		o.EventInterval = d.EventInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type transition struct{ from, to State }

// Manager is the only writer of the session store.
type Manager struct {
	store *session.Store
	be    Backend
	kv    store.Storage
	opts  Options
	log   *zap.Logger
	id    uuid.UUID

	sf      singleflight.Group
	evLimit *rate.Limiter

	mu              sync.Mutex
	state           State
	gen             uint64
	verified        bool
	initialized     bool
	started         bool
	refreshFailures int
	pending         []transition

	ready     chan struct{}
	readyOnce sync.Once

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New wires a manager. st and kv must share the same storage.
func New(st *session.Store, be Backend, kv store.Storage, opts Options) (*Manager, error) {
	if st == nil || be == nil || kv == nil {
		return nil, errors.New("auth: store, backend and storage are required")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Manager{
		store:   st,
		be:      be,
		kv:      kv,
		opts:    opts,
		log:     opts.Logger.With(zap.String("instance", id.String())),
		id:      id,
		evLimit: rate.NewLimiter(rate.Every(opts.EventInterval), 1),
		state:   StateUnknown,
		ready:   make(chan struct{}),
	}, nil
}

// InstanceID identifies this manager (one per tab/process) in logs.
func (m *Manager) InstanceID() string { return m.id.String() }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Verified reports whether the current identity was confirmed by the backend
// (login or /auth/me) rather than only restored from storage.
func (m *Manager) Verified() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verified && m.store.InMemory() != nil
}

// Ready is closed once Initialize has finished, successfully or not.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// CurrentUser reads through the session store.
func (m *Manager) CurrentUser() *model.Identity { return m.store.Get() }

// IsAuthenticated is true when an identity is held, or when storage holds both a token and a user.
func (m *Manager) IsAuthenticated() bool {
	if m.store.InMemory() != nil {
		return true
	}
	tok, _ := m.token()
	return tok != "" && m.store.Raw()
}

func (m *Manager) token() (string, error) {
	tok, ok, err := m.kv.Get(store.KeyAccessToken)
	if err != nil || !ok {
		return "", err
	}
	return tok, nil
}

// Initialize restores the session from storage and revalidates it against the backend
// within InitTimeout. A network failure keeps the cached identity; a rejected token drops it.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.initialized = true
	defer m.markReady()
	m.setStateLocked(StateRestoring)

	tok, terr := m.token()
	if terr != nil {
		// storage may recover; leave persisted keys for a later Reconcile.
		m.log.Warn("read persisted token", zap.Error(terr))
		m.setStateLocked(StateAnonymous)
		m.unlock()
		return nil
	}
	cached, perr := m.store.Persisted()
	if perr != nil {
		m.log.Warn("persisted user unreadable", zap.Error(perr))
	}

	if perr != nil || tok == "" || cached == nil || backend.TokenExpired(tok, m.opts.Now()) {
		pinned := m.clearLocked("no valid persisted session")
		m.unlock()
		m.markReady()
		m.serverLogout(ctx, pinned)
		return nil
	}

	if err := m.store.Set(cached); err != nil {
		m.log.Warn("restore identity", zap.Error(err))
	}
	m.setStateLocked(StateAuthenticated)
	gen := m.gen
	m.unlock()

	vctx, cancel := context.WithTimeout(ctx, m.opts.InitTimeout)
	fresh, err := m.be.Me(vctx)
	cancel()

	m.mu.Lock()
	defer m.unlock()
	if m.gen != gen {
		m.log.Debug("discard initial validation", zap.Error(errs.ErrStaleSession))
		return nil
	}
	switch {
	case err == nil:
		m.applyIdentityLocked(fresh)
	case errors.Is(err, errs.ErrUnauthorized):
		m.log.Info("persisted token rejected", zap.Error(err))
		m.clearLocked("token rejected")
	default:
		m.log.Warn("initial validation failed; trusting cache", zap.Error(err))
	}
	return nil
}

func (m *Manager) markReady() { m.readyOnce.Do(func() { close(m.ready) }) }

// Login authenticates with the backend. Backend rejection fields are passed through verbatim;
// the returned error matches the sentinel for the error type.
func (m *Manager) Login(ctx context.Context, email, password string) (model.LoginResult, error) {
	lctx, cancel := m.withTimeout(ctx, m.opts.LoginTimeout)
	defer cancel()

	resp, err := m.be.Login(lctx, email, password)
	if err != nil {
		typ := model.ErrorTypeOf(err)
		m.opts.Metrics.login(typ)
		m.log.Warn("login call failed", zap.Error(err))
		return model.LoginResult{Error: err.Error(), ErrorType: typ}, err
	}
	if !resp.Success {
		m.opts.Metrics.login(resp.ErrorType)
		res := model.LoginResult{
			Error:              resp.Error,
			ErrorType:          resp.ErrorType,
			RemainingAttempts:  resp.RemainingAttempts,
			ShowForgotPassword: model.ShowForgotPassword(resp.ErrorType, resp.RemainingAttempts),
		}
		return res, rejection(resp.ErrorType, resp.Error)
	}
	if resp.User == nil || resp.BearerToken() == "" {
		err := fmt.Errorf("login: response without user or token: %w", errs.ErrBackendUnreachable)
		m.opts.Metrics.login(model.ErrorBackendUnreachable)
		return model.LoginResult{Error: err.Error(), ErrorType: model.ErrorBackendUnreachable}, err
	}

	if err := m.establish(resp.User, resp.BearerToken()); err != nil {
		return model.LoginResult{Error: err.Error()}, err
	}
	m.opts.Metrics.login(model.ErrorNone)
	return model.LoginResult{Success: true}, nil
}

// Register creates an account. Accounts awaiting approval stay anonymous.
func (m *Manager) Register(ctx context.Context, req model.RegisterRequest) (model.RegisterResult, error) {
	rctx, cancel := m.withTimeout(ctx, m.opts.LoginTimeout)
	defer cancel()

	resp, err := m.be.Register(rctx, req)
	if err != nil {
		typ := model.ErrorTypeOf(err)
		return model.RegisterResult{Error: err.Error(), ErrorType: typ}, err
	}
	if !resp.Success {
		return model.RegisterResult{Error: resp.Error, ErrorType: resp.ErrorType}, rejection(resp.ErrorType, resp.Error)
	}
	if resp.RequiresApproval {
		m.log.Info("registered; awaiting approval")
		return model.RegisterResult{Success: true, RequiresApproval: true}, nil
	}
	if resp.User == nil || resp.BearerToken() == "" {
		// registered without auto-login
		return model.RegisterResult{Success: true}, nil
	}
	if err := m.establish(resp.User, resp.BearerToken()); err != nil {
		return model.RegisterResult{Error: err.Error()}, err
	}
	return model.RegisterResult{Success: true}, nil
}

func rejection(t model.ErrorType, msg string) error {
	sentinel := t.Err()
	if sentinel == nil {
		sentinel = errs.ErrInvalidCredentials
	}
	if msg == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// establish persists a fresh session and starts a new generation.
func (m *Manager) establish(id *model.Identity, tok string) error {
	m.mu.Lock()
	defer m.unlock()

	m.gen++
	if err := m.kv.Set(store.KeyAccessToken, tok); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := m.store.Set(id); err != nil {
		_ = m.kv.Delete(store.KeyAccessToken)
		return fmt.Errorf("persist user: %w", err)
	}
	m.verified = true
	m.refreshFailures = 0
	m.setStateLocked(StateAuthenticated)
	m.log.Info("logged in", zap.String("user", string(id.ID)), zap.String("role", string(id.Role)))
	return nil
}

// Logout clears the session locally first, then tells the backend. A backend failure is only logged.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	pinned := m.clearLocked("logout")
	m.unlock()
	m.serverLogout(ctx, pinned)
}

// SignalForceLogout drops the session immediately without a server call; used when
// the backend already answered 401 to some request.
func (m *Manager) SignalForceLogout() {
	m.mu.Lock()
	defer m.unlock()
	if m.store.InMemory() == nil && m.state == StateAnonymous {
		return
	}
	m.clearLocked("force logout")
}

func (m *Manager) serverLogout(ctx context.Context, pinned string) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.LogoutTimeout)
	defer cancel()
	if err := m.be.Logout(backend.ContextWithToken(lctx, pinned)); err != nil {
		m.log.Warn("backend logout failed; session cleared locally", zap.Error(err))
	}
}

// clearLocked destroys the session everywhere and returns the token that was held.
func (m *Manager) clearLocked(reason string) string {
	tok, _ := m.token()
	m.gen++
	if err := m.kv.Delete(store.KeyUser); err != nil {
		m.log.Warn("clear persisted user", zap.Error(err))
	}
	if err := m.kv.Delete(store.KeyAccessToken); err != nil {
		m.log.Warn("clear persisted token", zap.Error(err))
	}
	_ = m.store.Set(nil)
	m.verified = false
	m.refreshFailures = 0
	if m.state != StateAnonymous {
		m.log.Info("session cleared", zap.String("reason", reason))
	}
	m.setStateLocked(StateAnonymous)
	return tok
}

// RefreshUser re-fetches the identity within RefreshTimeout. Errors are logged, never returned;
// a result that arrives after a logout or re-login is discarded.
func (m *Manager) RefreshUser(ctx context.Context) {
	m.mu.Lock()
	gen, st := m.gen, m.state
	m.unlock()
	if st != StateAuthenticated {
		return
	}

	// callers only share a request made for their own generation; the shared call
	// outlives any single caller's cancellation.
	v, err, _ := m.sf.Do(fmt.Sprintf("me-%d", gen), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.RefreshTimeout)
		defer cancel()
		return m.be.Me(rctx)
	})

	m.mu.Lock()
	defer m.unlock()
	if m.gen != gen || m.state != StateAuthenticated {
		m.opts.Metrics.refresh("user", "stale")
		m.log.Debug("discard refresh result", zap.Error(errs.ErrStaleSession))
		return
	}
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			m.opts.Metrics.refresh("user", "rejected")
			m.clearLocked("token rejected on refresh")
			return
		}
		m.opts.Metrics.refresh("user", "error")
		m.log.Warn("refresh user failed", zap.Error(err))
		return
	}
	m.opts.Metrics.refresh("user", "ok")
	m.applyIdentityLocked(v.(*model.Identity))
}

func (m *Manager) applyIdentityLocked(id *model.Identity) {
	if id == nil {
		return
	}
	if err := m.store.Set(id); err != nil {
		m.log.Warn("persist refreshed identity", zap.Error(err))
	}
	m.verified = true
}

// RefreshToken renews the bearer token. After MaxRefreshFailures consecutive failures the session is dropped.
func (m *Manager) RefreshToken(ctx context.Context) error {
	m.mu.Lock()
	gen, st := m.gen, m.state
	m.unlock()
	if st != StateAuthenticated {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, m.opts.RefreshTimeout)
	tok, err := m.be.RefreshToken(rctx)
	cancel()

	m.mu.Lock()
	if m.gen != gen {
		m.unlock()
		m.opts.Metrics.refresh("token", "stale")
		return nil
	}
	if err != nil {
		m.refreshFailures++
		m.opts.Metrics.refresh("token", "error")
		m.log.Warn("token refresh failed", zap.Error(err), zap.Int("failures", m.refreshFailures))
		if m.refreshFailures < m.opts.MaxRefreshFailures {
			m.unlock()
			return err
		}
		pinned := m.clearLocked("token refresh failed")
		m.unlock()
		m.serverLogout(ctx, pinned)
		return err
	}
	defer m.unlock()
	if err := m.kv.Set(store.KeyAccessToken, tok); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	m.refreshFailures = 0
	m.opts.Metrics.refresh("token", "ok")
	return nil
}

// Reconcile converges this manager's state with persistent storage, which other tabs may have changed.
func (m *Manager) Reconcile(_ context.Context) {
	m.mu.Lock()
	defer m.unlock()

	if m.state == StateUnknown || m.state == StateRestoring {
		return
	}

	tok, terr := m.token()
	persisted, perr := m.store.Persisted()
	if terr != nil || (perr != nil && !errors.Is(perr, errs.ErrCorruptPersistedState)) {
		m.opts.Metrics.reconcile("read_error")
		m.log.Warn("reconcile: storage read failed", zap.NamedError("token", terr), zap.NamedError("user", perr))
		return
	}
	if perr != nil {
		m.opts.Metrics.reconcile("corrupt")
		m.log.Warn("reconcile: dropping corrupt session", zap.Error(perr))
		m.clearLocked("corrupt persisted state")
		return
	}

	cur := m.store.InMemory()
	valid := tok != "" && persisted != nil && !backend.TokenExpired(tok, m.opts.Now())

	if cur == nil {
		if valid {
			// another tab logged in
			m.gen++
			_ = m.store.Set(persisted)
			m.verified = false
			m.setStateLocked(StateAuthenticated)
			m.opts.Metrics.reconcile("adopted")
			return
		}
		m.opts.Metrics.reconcile("noop")
		return
	}

	if !valid {
		m.opts.Metrics.reconcile("cleared")
		m.clearLocked("storage cleared or token expired")
		return
	}
	if !sameIdentity(persisted, cur) {
		m.gen++
		if persisted.ID != cur.ID {
			m.verified = false
		}
		_ = m.store.Set(persisted)
		m.opts.Metrics.reconcile("replaced")
	} else {
		m.opts.Metrics.reconcile("noop")
	}
	m.setStateLocked(StateAuthenticated)
}

// Start launches the token-refresh and reconciliation loops until ctx is done or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	var events <-chan store.Event
	if w, ok := m.kv.(store.Watcher); ok {
		ch, err := w.Watch(ctx)
		if err != nil {
			m.log.Warn("storage watch unavailable; polling only", zap.Error(err))
		} else {
			events = ch
		}
	}

	m.wg.Add(2)
	go m.tokenRefreshLoop(ctx)
	go m.reconcileLoop(ctx, events)
	return nil
}

// Close stops the background loops and waits for them. Safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		cancel := m.cancel
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		m.wg.Wait()
	})
}

func (m *Manager) tokenRefreshLoop(ctx context.Context) {
	defer m.wg.Done()
	t := time.NewTicker(m.opts.TokenRefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.State() == StateAuthenticated {
				_ = m.RefreshToken(ctx)
			}
		}
	}
}

func (m *Manager) reconcileLoop(ctx context.Context, events <-chan store.Event) {
	defer m.wg.Done()
	t := time.NewTicker(m.opts.ReconcileInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.State() == StateAuthenticated {
				m.Reconcile(ctx)
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !sessionKey(ev.Key) {
				continue
			}
			drain(events)
			if err := m.evLimit.Wait(ctx); err != nil {
				return
			}
			m.Reconcile(ctx)
		}
	}
}

func sameIdentity(a, b *model.Identity) bool {
	return a.ID == b.ID && a.Email == b.Email && a.Name == b.Name && a.Role == b.Role &&
		a.IsActive == b.IsActive && a.CreatedAt.Equal(b.CreatedAt) && a.WarehouseCode == b.WarehouseCode
}

func sessionKey(k string) bool { return k == store.KeyAccessToken || k == store.KeyUser }

// drain coalesces a burst of queued events into one reconciliation.
func drain(events <-chan store.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (m *Manager) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (m *Manager) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.opts.Metrics.transition(to)
	m.log.Debug("state", zap.Stringer("from", from), zap.Stringer("to", to))
	if m.opts.OnTransition != nil {
		m.pending = append(m.pending, transition{from: from, to: to})
	}
}

// unlock releases mu and then delivers queued transitions outside the lock.
func (m *Manager) unlock() {
	trs := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, tr := range trs {
		m.opts.OnTransition(tr.from, tr.to)
	}
}
