package trustcore

import (
	"errors"
	"fmt"
	"testing"
)

func TestPublicAuthError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"rate limited stays visible", ErrLoginRateLimited, ErrLoginRateLimited},
		{"wrapped rate limited stays visible", fmt.Errorf("login: %w", ErrLoginRateLimited), ErrLoginRateLimited},
		{"bad password collapses", ErrInvalidCredentials, ErrInvalidCredentials},
		{"inactive collapses", ErrPrincipalInactive, ErrInvalidCredentials},
		{"replay collapses", ErrReplayDetected, ErrInvalidCredentials},
		{"bad mfa code collapses", ErrMFAInvalid, ErrInvalidCredentials},
		{"store failure collapses", fmt.Errorf("%w: %v", ErrStoreUnavailable, errors.New("down")), ErrInvalidCredentials},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PublicAuthError(tc.in)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("PublicAuthError(nil) = %v", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("PublicAuthError(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
