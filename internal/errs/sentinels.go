// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/backend/session layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the backend rejected the bearer token (HTTP 401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the current identity lacks the required role or permission.
	ErrForbidden = errors.New("forbidden")

	// ErrNetworkTimeout indicates a backend call exceeded its time budget. Transient.
	ErrNetworkTimeout = errors.New("network timeout")

	// ErrBackendUnreachable indicates a backend failure other than a credential rejection.
	ErrBackendUnreachable = errors.New("backend unreachable")

	// ErrInvalidCredentials indicates a rejected login (see RemainingAttempts).
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountPendingApproval indicates the account exists but is not approved yet.
	ErrAccountPendingApproval = errors.New("account pending approval")

	// ErrAccountLocked indicates the account is locked after too many attempts.
	ErrAccountLocked = errors.New("account locked")

	// ErrCorruptPersistedState indicates a malformed payload in persistent storage.
	ErrCorruptPersistedState = errors.New("corrupt persisted state")

	// ErrStaleSession indicates a result computed for an older session generation.
	ErrStaleSession = errors.New("stale session")
)
