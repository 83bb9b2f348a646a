// Package pgstore is the PostgreSQL implementation of the store
// contracts, built on pgxpool.
//
// Conditional transitions are expressed as guarded UPDATEs: the
// compare and the write are one statement, so the row-count tells the
// caller whether it won the race. pgx errors never leak past the
// package boundary; callers see the store sentinels.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinforge/trustcore/store"
)

const uniqueViolationCode = "23505"

// Schema is the DDL for all pgstore tables. Run it through
// EnsureSchema or an external migration tool.
const Schema = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
    token_hash   TEXT PRIMARY KEY,
    id           TEXT NOT NULL,
    principal_id TEXT NOT NULL,
    tenant_id    TEXT NOT NULL,
    revoked      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL,
    expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS refresh_tokens_principal_idx
    ON refresh_tokens (principal_id) WHERE NOT revoked;

CREATE TABLE IF NOT EXISTS mfa_configs (
    principal_id     TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    enabled          BOOLEAN NOT NULL DEFAULT FALSE,
    secret_encrypted TEXT NOT NULL DEFAULT '',
    recovery_contact TEXT NOT NULL DEFAULT '',
    verified_at      TIMESTAMPTZ,
    version          BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS mfa_backup_codes (
    principal_id TEXT NOT NULL REFERENCES mfa_configs (principal_id) ON DELETE CASCADE,
    hash         BYTEA NOT NULL,
    used         BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (principal_id, hash)
);

CREATE TABLE IF NOT EXISTS audit_entries (
    tenant_id     TEXT NOT NULL,
    sequence      BIGINT NOT NULL,
    id            TEXT NOT NULL,
    actor         TEXT NOT NULL,
    action        TEXT NOT NULL,
    entity_type   TEXT NOT NULL,
    entity_id     TEXT NOT NULL,
    details       JSONB,
    previous_hash TEXT NOT NULL,
    entry_hash    TEXT NOT NULL,
    signature     TEXT NOT NULL,
    occurred_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, sequence)
);
`

// Store implements store.Store over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for liveness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool: pool,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the pgstore tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

/*
====================================
REFRESH TOKENS
====================================
*/

func (s *Store) CreateRefreshToken(ctx context.Context, rec store.RefreshTokenRecord) error {
	const query = `
		INSERT INTO refresh_tokens (token_hash, id, principal_id, tenant_id, revoked, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		rec.TokenHash, rec.ID, rec.PrincipalID, rec.TenantID,
		rec.Revoked, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return wrapPgError("create refresh token", err)
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*store.RefreshTokenRecord, error) {
	const query = `
		SELECT token_hash, id, principal_id, tenant_id, revoked, created_at, expires_at
		FROM refresh_tokens
		WHERE token_hash = $1`

	var rec store.RefreshTokenRecord
	err := s.pool.QueryRow(ctx, query, tokenHash).Scan(
		&rec.TokenHash, &rec.ID, &rec.PrincipalID, &rec.TenantID,
		&rec.Revoked, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapPgError("get refresh token", err)
	}
	return &rec, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	const query = `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE token_hash = $1 AND NOT revoked AND expires_at > $2`

	tag, err := s.pool.Exec(ctx, query, tokenHash, s.now())
	if err != nil {
		return false, wrapPgError("revoke refresh token", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RevokeAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	const query = `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE principal_id = $1 AND NOT revoked AND expires_at > $2`

	tag, err := s.pool.Exec(ctx, query, principalID, s.now())
	if err != nil {
		return 0, wrapPgError("revoke all for principal", err)
	}
	return int(tag.RowsAffected()), nil
}

/*
====================================
MFA CONFIGS
====================================
*/

func (s *Store) GetMFAConfig(ctx context.Context, principalID string) (*store.MFAConfig, error) {
	const configQuery = `
		SELECT principal_id, tenant_id, enabled, secret_encrypted, recovery_contact, verified_at, version
		FROM mfa_configs
		WHERE principal_id = $1`

	var cfg store.MFAConfig
	err := s.pool.QueryRow(ctx, configQuery, principalID).Scan(
		&cfg.PrincipalID, &cfg.TenantID, &cfg.Enabled,
		&cfg.SecretEncrypted, &cfg.RecoveryContact, &cfg.VerifiedAt, &cfg.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapPgError("get mfa config", err)
	}

	const codesQuery = `
		SELECT hash, used
		FROM mfa_backup_codes
		WHERE principal_id = $1
		ORDER BY hash`

	rows, err := s.pool.Query(ctx, codesQuery, principalID)
	if err != nil {
		return nil, wrapPgError("get backup codes", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		var used bool
		if err := rows.Scan(&raw, &used); err != nil {
			return nil, wrapPgError("scan backup code", err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("corrupt backup code hash for principal %s", principalID)
		}
		code := store.BackupCode{Used: used}
		copy(code.Hash[:], raw)
		cfg.BackupCodes = append(cfg.BackupCodes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError("read backup codes", err)
	}
	return &cfg, nil
}

func (s *Store) PutMFAConfig(ctx context.Context, cfg store.MFAConfig) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapPgError("begin", err)
	}
	defer tx.Rollback(ctx)

	if cfg.Version == 1 {
		const insert = `
			INSERT INTO mfa_configs (principal_id, tenant_id, enabled, secret_encrypted, recovery_contact, verified_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, 1)
			ON CONFLICT (principal_id) DO NOTHING`

		tag, err := tx.Exec(ctx, insert,
			cfg.PrincipalID, cfg.TenantID, cfg.Enabled,
			cfg.SecretEncrypted, cfg.RecoveryContact, cfg.VerifiedAt,
		)
		if err != nil {
			return wrapPgError("insert mfa config", err)
		}
		if tag.RowsAffected() != 1 {
			return store.ErrVersionConflict
		}
	} else {
		const update = `
			UPDATE mfa_configs
			SET tenant_id = $2, enabled = $3, secret_encrypted = $4,
			    recovery_contact = $5, verified_at = $6, version = $7
			WHERE principal_id = $1 AND version = $8`

		tag, err := tx.Exec(ctx, update,
			cfg.PrincipalID, cfg.TenantID, cfg.Enabled,
			cfg.SecretEncrypted, cfg.RecoveryContact, cfg.VerifiedAt,
			cfg.Version, cfg.Version-1,
		)
		if err != nil {
			return wrapPgError("update mfa config", err)
		}
		if tag.RowsAffected() != 1 {
			return store.ErrVersionConflict
		}
	}

	// The config row carries the whole code set: replace, never merge.
	if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE principal_id = $1`, cfg.PrincipalID); err != nil {
		return wrapPgError("clear backup codes", err)
	}
	for _, code := range cfg.BackupCodes {
		const insertCode = `
			INSERT INTO mfa_backup_codes (principal_id, hash, used)
			VALUES ($1, $2, $3)`
		if _, err := tx.Exec(ctx, insertCode, cfg.PrincipalID, code.Hash[:], code.Used); err != nil {
			return wrapPgError("insert backup code", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapPgError("commit", err)
	}
	return nil
}

func (s *Store) ConsumeBackupCode(ctx context.Context, principalID string, hash [32]byte) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, wrapPgError("begin", err)
	}
	defer tx.Rollback(ctx)

	const spend = `
		UPDATE mfa_backup_codes
		SET used = TRUE
		WHERE principal_id = $1 AND hash = $2 AND NOT used`

	tag, err := tx.Exec(ctx, spend, principalID, hash[:])
	if err != nil {
		return false, wrapPgError("consume backup code", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	// Spending a code is a config mutation: bump the version so
	// concurrent conditional writes see it.
	if _, err := tx.Exec(ctx, `UPDATE mfa_configs SET version = version + 1 WHERE principal_id = $1`, principalID); err != nil {
		return false, wrapPgError("bump mfa version", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, wrapPgError("commit", err)
	}
	return true, nil
}

/*
====================================
AUDIT CHAIN
====================================
*/

func (s *Store) AppendAudit(ctx context.Context, entry store.AuditEntry) error {
	const query = `
		INSERT INTO audit_entries (tenant_id, sequence, id, actor, action, entity_type, entity_id,
		                           details, previous_hash, entry_hash, signature, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		entry.TenantID, entry.Sequence, entry.ID, entry.Actor, entry.Action,
		entry.EntityType, entry.EntityID, entry.Details,
		entry.PreviousHash, entry.EntryHash, entry.Signature, entry.Timestamp,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("%w: audit sequence %d already written", store.ErrVersionConflict, entry.Sequence)
		}
		return wrapPgError("append audit", err)
	}
	return nil
}

func (s *Store) LastAuditEntry(ctx context.Context, tenantID string) (*store.AuditEntry, error) {
	const query = `
		SELECT tenant_id, sequence, id, actor, action, entity_type, entity_id,
		       details, previous_hash, entry_hash, signature, occurred_at
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY sequence DESC
		LIMIT 1`

	entry, err := scanAuditEntry(s.pool.QueryRow(ctx, query, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapPgError("last audit entry", err)
	}
	return entry, nil
}

func (s *Store) AuditRange(ctx context.Context, tenantID string, from, to uint64) ([]store.AuditEntry, error) {
	const query = `
		SELECT tenant_id, sequence, id, actor, action, entity_type, entity_id,
		       details, previous_hash, entry_hash, signature, occurred_at
		FROM audit_entries
		WHERE tenant_id = $1 AND sequence BETWEEN $2 AND $3
		ORDER BY sequence ASC`

	rows, err := s.pool.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, wrapPgError("audit range", err)
	}
	defer rows.Close()

	var out []store.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, wrapPgError("scan audit entry", err)
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError("read audit range", err)
	}
	return out, nil
}

func scanAuditEntry(row pgx.Row) (*store.AuditEntry, error) {
	var entry store.AuditEntry
	err := row.Scan(
		&entry.TenantID, &entry.Sequence, &entry.ID, &entry.Actor, &entry.Action,
		&entry.EntityType, &entry.EntityID, &entry.Details,
		&entry.PreviousHash, &entry.EntryHash, &entry.Signature, &entry.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func wrapPgError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, op, err)
}
