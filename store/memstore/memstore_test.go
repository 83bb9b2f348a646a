package memstore

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinforge/trustcore/store"
)

func testRecord(hash, principal string) store.RefreshTokenRecord {
	now := time.Now()
	return store.RefreshTokenRecord{
		ID:          "id-" + hash,
		PrincipalID: principal,
		TenantID:    "org-1",
		TokenHash:   hash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}
}

func TestRevokeRefreshTokenSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRefreshToken(ctx, testRecord("h1", "p1")))

	const callers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.RevokeRefreshToken(ctx, "h1")
			require.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	total := 0
	for won := range wins {
		if won {
			total++
		}
	}
	require.Equal(t, 1, total, "exactly one concurrent revoker must win")
}

func TestRevokeAllForPrincipal(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRefreshToken(ctx, testRecord("h1", "p1")))
	require.NoError(t, s.CreateRefreshToken(ctx, testRecord("h2", "p1")))
	require.NoError(t, s.CreateRefreshToken(ctx, testRecord("h3", "p2")))

	n, err := s.RevokeAllForPrincipal(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rec, err := s.GetRefreshToken(ctx, "h3")
	require.NoError(t, err)
	require.False(t, rec.Revoked, "other principals must be untouched")

	// Idempotent: nothing left to revoke.
	n, err = s.RevokeAllForPrincipal(ctx, "p1")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestGetRefreshTokenNotFound(t *testing.T) {
	s := New()
	_, err := s.GetRefreshToken(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutMFAConfigVersionCAS(t *testing.T) {
	ctx := context.Background()
	s := New()

	cfg := store.MFAConfig{PrincipalID: "p1", TenantID: "org-1", Version: 1}
	require.NoError(t, s.PutMFAConfig(ctx, cfg))

	// Stale write (same version again) must conflict.
	require.ErrorIs(t, s.PutMFAConfig(ctx, cfg), store.ErrVersionConflict)

	// Proper successor version succeeds.
	cfg.Version = 2
	require.NoError(t, s.PutMFAConfig(ctx, cfg))

	// Creation must start at version 1.
	require.ErrorIs(t, s.PutMFAConfig(ctx, store.MFAConfig{PrincipalID: "p2", Version: 3}), store.ErrVersionConflict)
}

func TestConsumeBackupCodeDoubleSpend(t *testing.T) {
	ctx := context.Background()
	s := New()

	hash := sha256.Sum256([]byte("p1\x00CODE1234"))
	cfg := store.MFAConfig{
		PrincipalID: "p1",
		Enabled:     true,
		BackupCodes: []store.BackupCode{{Hash: hash}},
		Version:     1,
	}
	require.NoError(t, s.PutMFAConfig(ctx, cfg))

	const callers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeBackupCode(ctx, "p1", hash)
			require.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	total := 0
	for ok := range wins {
		if ok {
			total++
		}
	}
	require.Equal(t, 1, total, "a backup code is single-use")
}

func TestConsumeBackupCodeUnknown(t *testing.T) {
	s := New()
	ok, err := s.ConsumeBackupCode(context.Background(), "nobody", sha256.Sum256([]byte("x")))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuditAppendAndRange(t *testing.T) {
	ctx := context.Background()
	s := New()

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, s.AppendAudit(ctx, store.AuditEntry{
			TenantID: "org-1",
			Sequence: seq,
			Action:   "login_success",
		}))
	}

	last, err := s.LastAuditEntry(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, uint64(5), last.Sequence)

	entries, err := s.AuditRange(ctx, "org-1", 2, 4)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, uint64(2), entries[0].Sequence)
	require.Equal(t, uint64(4), entries[2].Sequence)

	_, err = s.LastAuditEntry(ctx, "org-2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMFAConfigIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()

	cfg := store.MFAConfig{
		PrincipalID: "p1",
		BackupCodes: []store.BackupCode{{Hash: sha256.Sum256([]byte("a"))}},
		Version:     1,
	}
	require.NoError(t, s.PutMFAConfig(ctx, cfg))

	got, err := s.GetMFAConfig(ctx, "p1")
	require.NoError(t, err)
	got.BackupCodes[0].Used = true

	again, err := s.GetMFAConfig(ctx, "p1")
	require.NoError(t, err)
	require.False(t, again.BackupCodes[0].Used, "returned configs must not alias stored state")
}
