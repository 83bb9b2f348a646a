package trustcore

import "errors"

var (
	// ErrEngineNotReady means the Engine was not built or a required
	// dependency is missing.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidCredentials covers unknown principal and wrong password
	// alike; callers must not be able to tell them apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPrincipalInactive means the account exists but may not log in.
	ErrPrincipalInactive = errors.New("principal inactive")
	// ErrLoginRateLimited means the login attempt budget is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRotateRateLimited means the rotation attempt budget is exhausted.
	ErrRotateRateLimited = errors.New("rotation rate limited")

	// ErrTokenInvalid covers malformed, forged, wrong-kind, and unknown
	// tokens with one indistinguishable rejection.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired means the token was well formed and genuine but
	// past its lifetime.
	ErrTokenExpired = errors.New("token expired")
	// ErrReplayDetected means an already-rotated refresh token was
	// presented again; the whole lineage has been revoked in response.
	// Presenting a token revoked by logout reports the same way.
	ErrReplayDetected = errors.New("refresh token replay detected")

	// ErrNotEnrolled means the principal has no MFA enrollment to act on.
	ErrNotEnrolled = errors.New("mfa not enrolled")
	// ErrMFAInvalid means the supplied TOTP or backup code did not
	// verify. Used and malformed codes are reported identically.
	ErrMFAInvalid = errors.New("mfa code invalid")
	// ErrTOTPCodeRequired means the operation accepts only a live TOTP
	// code, not a backup code.
	ErrTOTPCodeRequired = errors.New("totp code required")

	// ErrStoreUnavailable wraps backend failures on the persistence path.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAuditChainBroken means chain verification found a violation.
	ErrAuditChainBroken = errors.New("audit chain broken")
)

// PublicAuthError collapses internal failure detail into the generic
// rejection suitable for user-facing transports. Rate limiting stays
// distinguishable so clients can back off; everything else becomes
// ErrInvalidCredentials. The MFA gate is not an error: Login signals
// it through LoginResult.MFARequired.
func PublicAuthError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrLoginRateLimited):
		return ErrLoginRateLimited
	default:
		return ErrInvalidCredentials
	}
}
