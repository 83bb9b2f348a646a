package trustcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/clinforge/trustcore/jwt"
	"github.com/clinforge/trustcore/store"
)

// refreshTokenHash is the only representation of a refresh token that
// ever reaches storage: sha256 over the full compact JWT, hex encoded.
func refreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IssueTokens signs a fresh access/refresh pair for the principal and
// persists the refresh token's hash. The raw refresh token appears only
// in the returned pair.
func (e *Engine) IssueTokens(ctx context.Context, p Principal, mfaVerified bool) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.issueTokens(ctx, p.ID, p.TenantID, string(p.Role), mfaVerified)
}

func (e *Engine) issueTokens(ctx context.Context, principalID, tenantID, role string, mfaVerified bool) (*TokenPair, error) {
	now := e.now()

	access, err := e.jwtManager.Sign(jwt.KindAccess, jwt.Claims{
		Role:        role,
		TenantID:    tenantID,
		MFAVerified: mfaVerified,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject: principalID,
			ID:      uuid.NewString(),
		},
	}, now)
	if err != nil {
		return nil, err
	}

	refresh, err := e.jwtManager.Sign(jwt.KindRefresh, jwt.Claims{
		Role:        role,
		TenantID:    tenantID,
		MFAVerified: mfaVerified,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject: principalID,
			ID:      uuid.NewString(),
		},
	}, now)
	if err != nil {
		return nil, err
	}

	record := store.RefreshTokenRecord{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		TenantID:    tenantID,
		TokenHash:   refreshTokenHash(refresh),
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.JWT.RefreshTTL),
	}
	if err := e.store.CreateRefreshToken(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, _ = e.appendAudit(ctx, tenantID, principalID, ActionTokenIssued, "refresh_token", record.ID, nil)

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(e.config.JWT.AccessTTL),
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// ValidateAccess parses and verifies an access token. Forged tokens,
// tokens of the wrong kind, and malformed input are all ErrTokenInvalid.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*jwt.Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := e.clock()

	claims, err := e.jwtManager.Parse(token, jwt.KindAccess)
	if e.metrics != nil {
		e.metrics.Observe(MetricValidateLatency, e.clock().Sub(start))
	}
	if err != nil {
		return nil, mapTokenError(err)
	}
	return claims, nil
}

// Rotate trades a live refresh token for a fresh pair. The presented
// token is retired atomically; exactly one concurrent caller wins.
// Presenting an already-rotated token is treated as credential theft:
// every token the principal holds is revoked before ErrReplayDetected
// is returned.
func (e *Engine) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.Parse(refreshToken, jwt.KindRefresh)
	if err != nil {
		e.metricInc(MetricRotateFailure)
		return nil, mapTokenError(err)
	}

	if e.limiter != nil {
		if err := e.limiter.CheckRotate(ctx, claims.Subject); err != nil {
			return nil, ErrRotateRateLimited
		}
	}

	hash := refreshTokenHash(refreshToken)
	record, err := e.store.GetRefreshToken(ctx, hash)
	if err != nil {
		e.metricInc(MetricRotateFailure)
		if isNotFound(err) {
			// Unknown hash is indistinguishable from a forged token.
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if record.Revoked {
		return nil, e.containReplay(ctx, *record)
	}
	if !record.Live(e.now()) {
		e.metricInc(MetricRotateFailure)
		return nil, ErrTokenExpired
	}

	won, err := e.store.RevokeRefreshToken(ctx, hash)
	if err != nil {
		e.metricInc(MetricRotateFailure)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !won {
		// A concurrent rotation retired this token first. For the loser
		// that is a replay of a no-longer-live token.
		return nil, e.containReplay(ctx, *record)
	}

	pair, err := e.issueTokens(ctx, record.PrincipalID, record.TenantID, claims.Role, claims.MFAVerified)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRotateSuccess)
	_, _ = e.appendAudit(ctx, record.TenantID, record.PrincipalID, ActionTokenRotated, "refresh_token", record.ID, nil)
	return pair, nil
}

// containReplay handles presentation of a retired refresh token:
// revoke everything the principal holds, record the event, and report
// the replay.
func (e *Engine) containReplay(ctx context.Context, record store.RefreshTokenRecord) error {
	e.metricInc(MetricReplayDetected)

	revoked, err := e.store.RevokeAllForPrincipal(ctx, record.PrincipalID)
	if err != nil {
		e.logger.WithFields(logFields(record.TenantID, ActionCascadeRevocation, err)).
			Error("cascade revocation failed")
	} else {
		e.metricInc(MetricRevokeCascade)
	}

	_, _ = e.appendAudit(ctx, record.TenantID, record.PrincipalID, ActionReplayDetected, "refresh_token", record.ID, map[string]string{
		"revoked_tokens": fmt.Sprintf("%d", revoked),
	})

	e.logger.WithFields(logFields(record.TenantID, ActionReplayDetected, nil)).
		WithField("principal", record.PrincipalID).Warn("refresh token replay detected")

	return ErrReplayDetected
}

// Revoke retires a refresh token. It reports whether this call did the
// revoking; revoking an already-revoked or unknown token is not an
// error.
func (e *Engine) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}

	hash := refreshTokenHash(refreshToken)
	record, err := e.store.GetRefreshToken(ctx, hash)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	won, err := e.store.RevokeRefreshToken(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if won {
		e.metricInc(MetricRevoke)
		_, _ = e.appendAudit(ctx, record.TenantID, record.PrincipalID, ActionTokenRevoked, "refresh_token", record.ID, nil)
	}
	return won, nil
}

// RevokeAllForPrincipal retires every refresh token the principal
// holds and returns how many were live.
func (e *Engine) RevokeAllForPrincipal(ctx context.Context, tenantID, principalID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	revoked, err := e.store.RevokeAllForPrincipal(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if revoked > 0 {
		e.metricInc(MetricRevokeCascade)
		_, _ = e.appendAudit(ctx, tenantID, principalID, ActionCascadeRevocation, "principal", principalID, map[string]string{
			"revoked_tokens": fmt.Sprintf("%d", revoked),
		})
	}
	return revoked, nil
}

func mapTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrExpiredToken):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}
