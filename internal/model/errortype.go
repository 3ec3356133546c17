package model

import (
	"errors"

	"github.com/and161185/toollink/internal/errs"
)

// Err maps a wire code to its sentinel; unknown non-empty codes map to ErrInvalidCredentials.
func (t ErrorType) Err() error {
	switch t {
	case ErrorNone:
		return nil
	case ErrorNetworkTimeout:
		return errs.ErrNetworkTimeout
	case ErrorBackendUnreachable:
		return errs.ErrBackendUnreachable
	case ErrorAccountPendingApproval:
		return errs.ErrAccountPendingApproval
	case ErrorAccountLocked:
		return errs.ErrAccountLocked
	default:
		return errs.ErrInvalidCredentials
	}
}

// ErrorTypeOf is the inverse of Err for transport failures.
func ErrorTypeOf(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, errs.ErrNetworkTimeout):
		return ErrorNetworkTimeout
	case errors.Is(err, errs.ErrAccountLocked):
		return ErrorAccountLocked
	case errors.Is(err, errs.ErrAccountPendingApproval):
		return ErrorAccountPendingApproval
	case errors.Is(err, errs.ErrInvalidCredentials):
		return ErrorInvalidCredentials
	default:
		return ErrorBackendUnreachable
	}
}
