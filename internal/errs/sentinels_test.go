package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinels_DistinctAndWrappable(t *testing.T) {
	t.Parallel()

	all := []error{
		ErrNotFound, ErrUnauthorized, ErrForbidden, ErrNetworkTimeout, ErrBackendUnreachable,
		ErrInvalidCredentials, ErrAccountPendingApproval, ErrAccountLocked,
		ErrCorruptPersistedState, ErrStaleSession,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Fatalf("%v must not match %v", a, b)
			}
		}
		if !errors.Is(fmt.Errorf("ctx: %w", a), a) {
			t.Fatalf("wrapped %v must match", a)
		}
	}
}
