// Package store defines the persistence contracts of the trust core and the
// record types that cross them.
//
// Records are plain values. State changes are expressed as transition
// functions returning a new record value, persisted through a conditional
// write (compare-and-set), never as in-place mutation assumed to be durable.
// Three implementations ship with the module: memstore (tests, demos),
// redistore (Redis), and pgstore (PostgreSQL).
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when a conditional write loses a
	// compare-and-set race. Callers reload and retry or surface failure.
	ErrVersionConflict = errors.New("record version conflict")

	// ErrUnavailable wraps backend connectivity failures.
	ErrUnavailable = errors.New("store unavailable")
)

// RefreshTokenRecord is the persisted shadow of an issued refresh token.
// Only the one-way hash of the raw token is stored; theft of the store
// never yields a usable token.
type RefreshTokenRecord struct {
	ID          string
	PrincipalID string
	TenantID    string
	TokenHash   string // sha256 hex of the raw token
	Revoked     bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Live reports whether the record can still be rotated.
func (r RefreshTokenRecord) Live(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// WithRevoked returns a copy of the record in the revoked terminal state.
func (r RefreshTokenRecord) WithRevoked() RefreshTokenRecord {
	r.Revoked = true
	return r
}

// BackupCode is one single-use fallback credential. Only the salted hash
// of the code is kept.
type BackupCode struct {
	Hash [32]byte
	Used bool
}

// MFAConfig is the per-principal MFA state. Enabled implies a non-empty
// encrypted seed and a set VerifiedAt. Version carries the optimistic
// concurrency token for conditional writes.
type MFAConfig struct {
	PrincipalID     string
	TenantID        string
	Enabled         bool
	SecretEncrypted string
	RecoveryContact string
	BackupCodes     []BackupCode
	VerifiedAt      *time.Time
	Version         uint64
}

// RemainingBackupCodes counts codes not yet consumed.
func (c MFAConfig) RemainingBackupCodes() int {
	n := 0
	for _, code := range c.BackupCodes {
		if !code.Used {
			n++
		}
	}
	return n
}

// WithEnrollment returns a copy reset to the disabled, unverified state
// with a fresh encrypted seed. Any prior seed and backup codes are
// discarded.
func (c MFAConfig) WithEnrollment(secretEncrypted, recoveryContact string) MFAConfig {
	c.Enabled = false
	c.SecretEncrypted = secretEncrypted
	c.RecoveryContact = recoveryContact
	c.BackupCodes = nil
	c.VerifiedAt = nil
	c.Version++
	return c
}

// WithEnabled returns a copy flipped to the enabled state.
func (c MFAConfig) WithEnabled(verifiedAt time.Time, codes []BackupCode) MFAConfig {
	c.Enabled = true
	c.VerifiedAt = &verifiedAt
	if codes != nil {
		c.BackupCodes = codes
	}
	c.Version++
	return c
}

// WithBackupCodes returns a copy with the backup-code set replaced.
func (c MFAConfig) WithBackupCodes(codes []BackupCode) MFAConfig {
	c.BackupCodes = codes
	c.Version++
	return c
}

// WithDisabled returns a copy cleared of all MFA material.
func (c MFAConfig) WithDisabled() MFAConfig {
	c.Enabled = false
	c.SecretEncrypted = ""
	c.BackupCodes = nil
	c.VerifiedAt = nil
	c.Version++
	return c
}

// AuditEntry is one link of the per-tenant hash chain. Entries are
// write-once: no store exposes an update or delete.
type AuditEntry struct {
	ID           string // ULID, sortable
	TenantID     string
	Sequence     uint64
	Actor        string
	Action       string
	EntityType   string
	EntityID     string
	Details      map[string]string
	PreviousHash string
	EntryHash    string
	Signature    string
	Timestamp    time.Time
}

// RefreshTokenStore persists refresh-token records with atomic revocation.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, rec RefreshTokenRecord) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error)

	// RevokeRefreshToken flips the record to revoked iff it is currently
	// live. Exactly one of any set of concurrent callers observes true.
	RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error)

	// RevokeAllForPrincipal revokes every live record of the principal
	// and reports how many were flipped. Used by replay cascade.
	RevokeAllForPrincipal(ctx context.Context, principalID string) (int, error)
}

// MFAStore persists MFA configurations with optimistic concurrency.
type MFAStore interface {
	GetMFAConfig(ctx context.Context, principalID string) (*MFAConfig, error)

	// PutMFAConfig writes cfg iff the stored version is exactly
	// cfg.Version-1 (cfg.Version == 1 creates). Otherwise
	// ErrVersionConflict.
	PutMFAConfig(ctx context.Context, cfg MFAConfig) error

	// ConsumeBackupCode atomically marks the matching unused code as used.
	// Returns false when no unused code matches; a consumed code can
	// never be spent twice.
	ConsumeBackupCode(ctx context.Context, principalID string, hash [32]byte) (bool, error)
}

// AuditStore is the append-only backing of the audit chain. Sequencing
// and hashing are computed by the chain manager, which serializes appends
// per tenant before calling in here.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	LastAuditEntry(ctx context.Context, tenantID string) (*AuditEntry, error)

	// AuditRange returns entries with from <= Sequence <= to in ascending
	// order. Missing sequence numbers are simply absent from the result;
	// gap detection happens in the verifier.
	AuditRange(ctx context.Context, tenantID string, from, to uint64) ([]AuditEntry, error)
}

// Store is the full persistence surface consumed by the engine.
type Store interface {
	RefreshTokenStore
	MFAStore
	AuditStore

	Ping(ctx context.Context) error
}
