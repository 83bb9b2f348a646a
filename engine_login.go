package trustcore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/clinforge/trustcore/internal/rate"
	"github.com/clinforge/trustcore/jwt"
)

// Login authenticates a password. Unknown identifiers and wrong
// passwords produce the same ErrInvalidCredentials after the same
// amount of work. When the principal has MFA enabled the result carries
// only a short-lived pending token; tokens, role, and everything else
// wait until the second factor verifies.
func (e *Engine) Login(ctx context.Context, tenantID, identifier, pass, ip string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if ip == "" {
		ip = clientIPFromContext(ctx)
	}

	throttleKey := tenantID + ":" + identifier
	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, throttleKey, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			if errors.Is(err, rate.ErrRateLimited) {
				return nil, ErrLoginRateLimited
			}
			return nil, ErrStoreUnavailable
		}
	}

	p, err := e.provider.PrincipalByIdentifier(ctx, tenantID, identifier)
	if err != nil {
		// Burn a hash verification anyway so unknown identifiers cost
		// the same as wrong passwords.
		_, _ = e.hasher.Verify(pass, dummyPasswordHash)
		return nil, e.failLogin(ctx, tenantID, identifier, throttleKey, ip)
	}

	ok, err := e.hasher.Verify(pass, p.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, tenantID, identifier, throttleKey, ip)
	}

	if !p.Active {
		e.metricInc(MetricLoginFailure)
		_, _ = e.appendAudit(ctx, tenantID, p.ID, ActionLoginFailure, "principal", p.ID, map[string]string{
			"reason": "inactive",
		})
		return nil, ErrPrincipalInactive
	}

	if e.config.Password.UpgradeOnLogin {
		if upgrade, err := e.hasher.NeedsRehash(p.PasswordHash); err == nil && upgrade {
			if newHash, err := e.hasher.Hash(pass); err == nil {
				if err := e.provider.UpdatePasswordHash(ctx, p.ID, newHash); err != nil {
					e.logger.WithFields(logFields(tenantID, "password_upgrade", err)).
						Warn("transparent hash upgrade failed")
				}
			}
		}
	}

	status, err := e.MFAStatus(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if status.Enabled {
		pending, err := e.jwtManager.Sign(jwt.KindMFAPending, jwt.Claims{
			TenantID: p.TenantID,
			RegisteredClaims: jwtlib.RegisteredClaims{
				Subject: p.ID,
				ID:      uuid.NewString(),
			},
		}, e.now())
		if err != nil {
			return nil, err
		}

		e.metricInc(MetricMFAPendingIssued)
		_, _ = e.appendAudit(ctx, tenantID, p.ID, ActionMFAPending, "principal", p.ID, nil)
		return &LoginResult{MFARequired: true, PendingToken: pending}, nil
	}

	pair, err := e.finishLogin(ctx, p, false)
	if err != nil {
		return nil, err
	}
	if e.limiter != nil {
		_ = e.limiter.ResetLogin(ctx, throttleKey, ip)
	}
	return &LoginResult{Tokens: pair}, nil
}

// ConfirmLoginMFA completes a pending login with a TOTP or backup code.
// The pending token is the only state carried between the two steps.
func (e *Engine) ConfirmLoginMFA(ctx context.Context, pendingToken, code string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.Parse(pendingToken, jwt.KindMFAPending)
	if err != nil {
		e.metricInc(MetricMFALoginFailure)
		return nil, mapTokenError(err)
	}

	p, err := e.provider.PrincipalByID(ctx, claims.Subject)
	if err != nil || !p.Active {
		e.metricInc(MetricMFALoginFailure)
		return nil, ErrInvalidCredentials
	}

	if _, err := e.VerifyMFACode(ctx, p.ID, code); err != nil {
		e.metricInc(MetricMFALoginFailure)
		return nil, err
	}

	pair, err := e.finishLogin(ctx, p, true)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricMFALoginSuccess)
	_, _ = e.appendAudit(ctx, p.TenantID, p.ID, ActionMFALoginSuccess, "principal", p.ID, nil)
	return pair, nil
}

func (e *Engine) finishLogin(ctx context.Context, p Principal, mfaVerified bool) (*TokenPair, error) {
	pair, err := e.issueTokens(ctx, p.ID, p.TenantID, string(p.Role), mfaVerified)
	if err != nil {
		return nil, err
	}

	if err := e.provider.TouchLastLogin(ctx, p.ID, e.now()); err != nil {
		e.logger.WithFields(logFields(p.TenantID, "touch_last_login", err)).
			Warn("last login stamp failed")
	}

	e.metricInc(MetricLoginSuccess)
	_, _ = e.appendAudit(ctx, p.TenantID, p.ID, ActionLoginSuccess, "principal", p.ID, nil)
	return pair, nil
}

func (e *Engine) failLogin(ctx context.Context, tenantID, identifier, throttleKey, ip string) error {
	e.metricInc(MetricLoginFailure)

	if e.limiter != nil {
		if err := e.limiter.IncrementLogin(ctx, throttleKey, ip); errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			return ErrLoginRateLimited
		}
	}

	_, _ = e.appendAudit(ctx, tenantID, identifier, ActionLoginFailure, "principal", "", map[string]string{
		"reason": "credentials",
	})
	return ErrInvalidCredentials
}

// dummyPasswordHash keeps the work factor identical for unknown
// identifiers. Generated once from a random password nobody knows.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=3,p=2$" +
	"p5WyS1slWbAo0J5MEzQ9bQ$P9t1xEyr4u0Qn0LBOx1HY4pUJbNssOE2yJpeLOuuVqU"
