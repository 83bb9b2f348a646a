// Package memstore is an in-memory [store.Store] used by tests and the
// demo binary. All operations are guarded by a single RWMutex, which makes
// the compare-and-set paths trivially atomic.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/clinforge/trustcore/store"
)

// Store implements store.Store in process memory.
type Store struct {
	mu       sync.RWMutex
	refresh  map[string]store.RefreshTokenRecord // token hash -> record
	mfa      map[string]store.MFAConfig          // principal -> config
	audit    map[string][]store.AuditEntry       // tenant -> entries in append order
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		refresh: make(map[string]store.RefreshTokenRecord),
		mfa:     make(map[string]store.MFAConfig),
		audit:   make(map[string][]store.AuditEntry),
	}
}

// CreateRefreshToken persists a new refresh-token record.
func (s *Store) CreateRefreshToken(_ context.Context, rec store.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[rec.TokenHash] = rec
	return nil
}

// GetRefreshToken looks a record up by its token hash.
func (s *Store) GetRefreshToken(_ context.Context, tokenHash string) (*store.RefreshTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.refresh[tokenHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := rec
	return &out, nil
}

// RevokeRefreshToken flips the record to revoked iff currently unrevoked.
func (s *Store) RevokeRefreshToken(_ context.Context, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[tokenHash]
	if !ok || rec.Revoked {
		return false, nil
	}
	s.refresh[tokenHash] = rec.WithRevoked()
	return true, nil
}

// RevokeAllForPrincipal revokes every live record of the principal.
func (s *Store) RevokeAllForPrincipal(_ context.Context, principalID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for hash, rec := range s.refresh {
		if rec.PrincipalID == principalID && !rec.Revoked {
			s.refresh[hash] = rec.WithRevoked()
			n++
		}
	}
	return n, nil
}

// GetMFAConfig returns the principal's MFA configuration.
func (s *Store) GetMFAConfig(_ context.Context, principalID string) (*store.MFAConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.mfa[principalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneMFA(cfg)
	return &out, nil
}

// PutMFAConfig writes cfg under optimistic concurrency on Version.
func (s *Store) PutMFAConfig(_ context.Context, cfg store.MFAConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.mfa[cfg.PrincipalID]
	if exists {
		if current.Version != cfg.Version-1 {
			return store.ErrVersionConflict
		}
	} else if cfg.Version != 1 {
		return store.ErrVersionConflict
	}
	s.mfa[cfg.PrincipalID] = cloneMFA(cfg)
	return nil
}

// ConsumeBackupCode atomically spends the matching unused backup code.
func (s *Store) ConsumeBackupCode(_ context.Context, principalID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.mfa[principalID]
	if !ok {
		return false, nil
	}
	for i, code := range cfg.BackupCodes {
		if !code.Used && code.Hash == hash {
			cfg.BackupCodes[i].Used = true
			cfg.Version++
			s.mfa[principalID] = cfg
			return true, nil
		}
	}
	return false, nil
}

// AppendAudit stores a chain entry. The chain manager has already
// serialized appends per tenant; the map append here preserves order.
func (s *Store) AppendAudit(_ context.Context, entry store.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[entry.TenantID] = append(s.audit[entry.TenantID], entry)
	return nil
}

// LastAuditEntry returns the highest-sequence entry for the tenant.
func (s *Store) LastAuditEntry(_ context.Context, tenantID string) (*store.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.audit[tenantID]
	if len(entries) == 0 {
		return nil, store.ErrNotFound
	}
	out := entries[len(entries)-1]
	return &out, nil
}

// AuditRange returns entries with from <= Sequence <= to, ascending.
func (s *Store) AuditRange(_ context.Context, tenantID string, from, to uint64) ([]store.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.AuditEntry
	for _, e := range s.audit[tenantID] {
		if e.Sequence >= from && e.Sequence <= to {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(context.Context) error {
	return nil
}

// TamperAuditEntry overwrites one stored field of an audit entry in place.
// Test hook only: it exists so chain verification tests can simulate
// storage-level tampering that the public contract forbids.
func (s *Store) TamperAuditEntry(tenantID string, seq uint64, mutate func(*store.AuditEntry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.audit[tenantID]
	for i := range entries {
		if entries[i].Sequence == seq {
			mutate(&entries[i])
			return true
		}
	}
	return false
}

func cloneMFA(cfg store.MFAConfig) store.MFAConfig {
	out := cfg
	if cfg.BackupCodes != nil {
		out.BackupCodes = make([]store.BackupCode, len(cfg.BackupCodes))
		copy(out.BackupCodes, cfg.BackupCodes)
	}
	if cfg.VerifiedAt != nil {
		at := *cfg.VerifiedAt
		out.VerifiedAt = &at
	}
	return out
}
