package trustcore

import (
	"context"

	"github.com/clinforge/trustcore/store"
)

// Audit action tags. These are stable identifiers persisted into the
// chain; renaming one invalidates nothing but confuses every consumer.
const (
	ActionLoginSuccess      = "login_success"
	ActionLoginFailure      = "login_failure"
	ActionMFAPending        = "mfa_pending_issued"
	ActionMFALoginSuccess   = "mfa_login_success"
	ActionTokenIssued       = "token_issued"
	ActionTokenRotated      = "token_rotated"
	ActionTokenRevoked      = "token_revoked"
	ActionReplayDetected    = "replay_detected"
	ActionCascadeRevocation = "cascade_revocation"
	ActionMFAEnrolled       = "mfa_enrolled"
	ActionMFAEnabled        = "mfa_enabled"
	ActionMFADisabled       = "mfa_disabled"
	ActionBackupCodeUsed    = "backup_code_used"
	ActionBackupRegenerated = "backup_codes_regenerated"
)

// RecordAuditEvent appends an application-level event to the tenant's
// chain. This is the public entry point for callers recording their own
// domain actions (screening created, report released) through the same
// tamper-evident trail the engine uses internally.
func (e *Engine) RecordAuditEvent(ctx context.Context, tenantID, actor, action, entityType, entityID string, details map[string]string) (*store.AuditEntry, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.appendAudit(ctx, tenantID, actor, action, entityType, entityID, details)
}

// appendAudit writes through the chain and mirrors the entry to the
// sink dispatcher. A chain append failure is the caller's failure; a
// sink failure is invisible here and shows up only in AuditDropped.
func (e *Engine) appendAudit(ctx context.Context, tenantID, actor, action, entityType, entityID string, details map[string]string) (*store.AuditEntry, error) {
	entry, err := e.chain.Append(ctx, tenantID, actor, action, entityType, entityID, details)
	if err != nil {
		e.metricInc(MetricAuditAppendFailure)
		e.logger.WithFields(logFields(tenantID, action, err)).Error("audit append failed")
		return nil, err
	}
	e.metricInc(MetricAuditAppended)

	e.audit.Emit(ctx, AuditEvent{
		Timestamp:  entry.Timestamp,
		Action:     entry.Action,
		Actor:      entry.Actor,
		TenantID:   entry.TenantID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Sequence:   entry.Sequence,
		EntryHash:  entry.EntryHash,
		Success:    true,
		Details:    entry.Details,
	})
	return entry, nil
}

// VerifyAuditChain recomputes the tenant's chain over [from, to]. A to
// of zero means "through the latest entry". The report carries the
// first broken sequence when verification fails.
func (e *Engine) VerifyAuditChain(ctx context.Context, tenantID string, from, to uint64) (ChainReport, error) {
	if e == nil {
		return ChainReport{}, ErrEngineNotReady
	}

	if to == 0 {
		last, err := e.store.LastAuditEntry(ctx, tenantID)
		switch {
		case err == nil:
			to = last.Sequence
		case isNotFound(err):
			// Empty chain verifies trivially.
			return ChainReport{TenantID: tenantID, OK: true}, nil
		default:
			return ChainReport{}, err
		}
	}

	ok, firstBroken, err := e.chain.VerifyRange(ctx, tenantID, from, to)
	if err != nil {
		return ChainReport{}, err
	}
	if !ok {
		e.metricInc(MetricAuditVerifyFailure)
		e.logger.WithFields(logFields(tenantID, "verify_chain", ErrAuditChainBroken)).
			WithField("first_broken", firstBroken).Warn("audit chain verification failed")
	}
	return ChainReport{
		TenantID:    tenantID,
		From:        from,
		To:          to,
		OK:          ok,
		FirstBroken: firstBroken,
	}, nil
}

// AuditRange returns stored entries for external inspection or export.
func (e *Engine) AuditRange(ctx context.Context, tenantID string, from, to uint64) ([]store.AuditEntry, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.store.AuditRange(ctx, tenantID, from, to)
}
