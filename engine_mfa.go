package trustcore

import (
	"context"
	"fmt"

	"github.com/clinforge/trustcore/store"
)

// EnrollMFA generates a fresh TOTP secret for the principal and stores
// it encrypted. Enrolling again overwrites any previous enrollment,
// enabled or not; losing an authenticator must not lock the door to
// re-enrollment. The raw secret exists only in the returned result.
func (e *Engine) EnrollMFA(ctx context.Context, principalID string) (*EnrollmentResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	p, err := e.provider.PrincipalByID(ctx, principalID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	_, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	encrypted, err := e.cipher.Encrypt(secretBase32)
	if err != nil {
		return nil, err
	}

	cfg, err := e.store.GetMFAConfig(ctx, principalID)
	switch {
	case err == nil:
	case isNotFound(err):
		cfg = &store.MFAConfig{PrincipalID: principalID, TenantID: p.TenantID}
	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	next := cfg.WithEnrollment(encrypted, p.Identifier)
	if err := e.store.PutMFAConfig(ctx, next); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, _ = e.appendAudit(ctx, p.TenantID, principalID, ActionMFAEnrolled, "mfa", principalID, nil)

	return &EnrollmentResult{
		SecretBase32: secretBase32,
		ProvisionURI: e.totp.ProvisionURI(secretBase32, p.Identifier),
	}, nil
}

// ConfirmMFAEnrollment proves possession of the enrolled secret with a
// live TOTP code and flips MFA on. Backup codes are generated exactly
// here, returned raw exactly once, and stored only as salted hashes.
// Reconfirming an already-enabled config verifies the code and
// re-stamps VerifiedAt but never re-issues codes.
func (e *Engine) ConfirmMFAEnrollment(ctx context.Context, principalID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	cfg, err := e.getMFAConfig(ctx, principalID)
	if err != nil {
		return nil, err
	}

	if err := e.verifyTOTP(cfg, code); err != nil {
		return nil, err
	}

	if cfg.Enabled {
		next := cfg.WithEnabled(e.now(), nil)
		if err := e.store.PutMFAConfig(ctx, next); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricTOTPSuccess)
		return nil, nil
	}

	rawCodes := make([]string, 0, e.config.MFA.BackupCodeCount)
	hashed := make([]store.BackupCode, 0, e.config.MFA.BackupCodeCount)
	for i := 0; i < e.config.MFA.BackupCodeCount; i++ {
		raw, err := newBackupCode(e.config.MFA.BackupCodeLength)
		if err != nil {
			return nil, err
		}
		rawCodes = append(rawCodes, formatBackupCode(raw))
		hashed = append(hashed, store.BackupCode{
			Hash: backupCodeHash(principalID, canonicalizeBackupCode(raw)),
		})
	}

	next := cfg.WithEnabled(e.now(), hashed)
	if err := e.store.PutMFAConfig(ctx, next); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricTOTPSuccess)
	_, _ = e.appendAudit(ctx, cfg.TenantID, principalID, ActionMFAEnabled, "mfa", principalID, nil)

	return rawCodes, nil
}

// VerifyMFACode checks a second factor for an enabled principal. A
// live TOTP code is tried first; failing that, the code is treated as a
// backup code and consumed atomically on success. Used, malformed, and
// wrong codes all fail with ErrMFAInvalid.
func (e *Engine) VerifyMFACode(ctx context.Context, principalID, code string) (VerifiedFactor, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	cfg, err := e.getMFAConfig(ctx, principalID)
	if err != nil {
		return "", err
	}
	if !cfg.Enabled {
		return "", ErrNotEnrolled
	}

	if err := e.verifyTOTP(cfg, code); err == nil {
		e.metricInc(MetricTOTPSuccess)
		return FactorTOTP, nil
	}

	canonical := canonicalizeBackupCode(code)
	if canonical != "" {
		used, err := e.store.ConsumeBackupCode(ctx, principalID, backupCodeHash(principalID, canonical))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if used {
			e.metricInc(MetricBackupCodeUsed)
			_, _ = e.appendAudit(ctx, cfg.TenantID, principalID, ActionBackupCodeUsed, "mfa", principalID, nil)
			return FactorBackupCode, nil
		}
	}

	e.metricInc(MetricTOTPFailure)
	e.metricInc(MetricBackupCodeFailed)
	return "", ErrMFAInvalid
}

// DisableMFA turns MFA off for the principal. Any currently valid
// second factor authorizes the change, a backup code included; the
// point is proof of factor possession, not of a specific factor.
func (e *Engine) DisableMFA(ctx context.Context, principalID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	factor, err := e.VerifyMFACode(ctx, principalID, code)
	if err != nil {
		return err
	}

	cfg, err := e.getMFAConfig(ctx, principalID)
	if err != nil {
		return err
	}

	next := cfg.WithDisabled()
	if err := e.store.PutMFAConfig(ctx, next); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, _ = e.appendAudit(ctx, cfg.TenantID, principalID, ActionMFADisabled, "mfa", principalID, map[string]string{
		"factor": string(factor),
	})
	return nil
}

// RegenerateBackupCodes replaces the principal's backup code set. Only
// a live TOTP code authorizes this: a thief holding one stolen backup
// code must not be able to mint ten more.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID, totpCode string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	cfg, err := e.getMFAConfig(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, ErrNotEnrolled
	}

	if err := e.verifyTOTP(cfg, totpCode); err != nil {
		return nil, ErrTOTPCodeRequired
	}

	rawCodes := make([]string, 0, e.config.MFA.BackupCodeCount)
	hashed := make([]store.BackupCode, 0, e.config.MFA.BackupCodeCount)
	for i := 0; i < e.config.MFA.BackupCodeCount; i++ {
		raw, err := newBackupCode(e.config.MFA.BackupCodeLength)
		if err != nil {
			return nil, err
		}
		rawCodes = append(rawCodes, formatBackupCode(raw))
		hashed = append(hashed, store.BackupCode{
			Hash: backupCodeHash(principalID, canonicalizeBackupCode(raw)),
		})
	}

	next := cfg.WithBackupCodes(hashed)
	if err := e.store.PutMFAConfig(ctx, next); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	_, _ = e.appendAudit(ctx, cfg.TenantID, principalID, ActionBackupRegenerated, "mfa", principalID, nil)

	return rawCodes, nil
}

// MFAStatus reports enrollment state without any secret material.
func (e *Engine) MFAStatus(ctx context.Context, principalID string) (MFAStatusInfo, error) {
	if e == nil {
		return MFAStatusInfo{}, ErrEngineNotReady
	}

	cfg, err := e.store.GetMFAConfig(ctx, principalID)
	if err != nil {
		if isNotFound(err) {
			return MFAStatusInfo{}, nil
		}
		return MFAStatusInfo{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return MFAStatusInfo{
		Enrolled:             cfg.SecretEncrypted != "",
		Enabled:              cfg.Enabled,
		VerifiedAt:           cfg.VerifiedAt,
		RecoveryContact:      cfg.RecoveryContact,
		RemainingBackupCodes: cfg.RemainingBackupCodes(),
	}, nil
}

func (e *Engine) getMFAConfig(ctx context.Context, principalID string) (store.MFAConfig, error) {
	cfg, err := e.store.GetMFAConfig(ctx, principalID)
	if err != nil {
		if isNotFound(err) {
			return store.MFAConfig{}, ErrNotEnrolled
		}
		return store.MFAConfig{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if cfg.SecretEncrypted == "" {
		return store.MFAConfig{}, ErrNotEnrolled
	}
	return *cfg, nil
}

// verifyTOTP decrypts the stored seed and checks a live code. A
// decryption failure is a hard error: the seed is unusable, not just
// the code wrong.
func (e *Engine) verifyTOTP(cfg store.MFAConfig, code string) error {
	secretBase32, err := e.cipher.Decrypt(cfg.SecretEncrypted)
	if err != nil {
		return err
	}

	secret, err := decodeBase32Secret(secretBase32)
	if err != nil {
		return err
	}

	ok, _, err := e.totp.VerifyCode(secret, code, e.now())
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		return ErrMFAInvalid
	}
	return nil
}
