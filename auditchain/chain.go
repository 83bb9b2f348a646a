// Package auditchain maintains the append-only, hash-linked, signed audit
// trail. Every entry binds its predecessor's hash, so retroactive tampering,
// deletion, or reordering is detectable from the stored fields alone,
// independently of the database that holds them.
package auditchain

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clinforge/trustcore/store"
)

// GenesisHash is the fixed previous-hash of the first entry in every
// tenant's chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ErrSigningKeyMissing is returned when the chain is constructed without
// an audit signing key. Fatal at startup, never per-request.
var ErrSigningKeyMissing = errors.New("audit signing key not configured")

// Signer produces and checks HMAC-SHA512 entry signatures.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer from the audit signing key.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrSigningKeyMissing
	}
	out := make([]byte, len(key))
	copy(out, key)
	return &Signer{key: out}, nil
}

// Sign returns the hex HMAC-SHA512 of an entry hash.
func (s *Signer) Sign(entryHash string) string {
	mac := hmac.New(sha512.New, s.key)
	_, _ = mac.Write([]byte(entryHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a stored signature in constant time.
func (s *Signer) Verify(entryHash, signature string) bool {
	expected, err := hex.DecodeString(s.Sign(entryHash))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// EntryHash computes the chain hash of an entry from its stored fields:
// sha256 over the previous hash and the entry's payload fields joined by
// newlines, with details in canonical (key-sorted) JSON.
func EntryHash(previousHash string, e store.AuditEntry) string {
	payload := strings.Join([]string{
		previousHash,
		e.Actor,
		e.Action,
		e.EntityType,
		e.EntityID,
		canonicalDetails(e.Details),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	}, "\n")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func canonicalDetails(details map[string]string) string {
	if len(details) == 0 {
		return "{}"
	}
	// encoding/json sorts map keys, which makes this deterministic.
	raw, err := json.Marshal(details)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Chain appends and verifies audit entries. Appends for one tenant are
// serialized on a per-tenant mutex so sequence allocation and hash
// chaining can never race; appends for different tenants proceed in
// parallel.
type Chain struct {
	store  store.AuditStore
	signer *Signer
	clock  func() time.Time

	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// New creates a Chain over the given store and signing key.
func New(st store.AuditStore, signingKey []byte, clock func() time.Time) (*Chain, error) {
	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return &Chain{
		store:   st,
		signer:  signer,
		clock:   clock,
		tenants: make(map[string]*sync.Mutex),
	}, nil
}

func (c *Chain) tenantLock(tenantID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.tenants[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		c.tenants[tenantID] = lock
	}
	return lock
}

// Append writes the next entry of the tenant's chain. Sequence numbers
// start at 1 and are strictly monotonic with no gaps.
func (c *Chain) Append(ctx context.Context, tenantID, actor, action, entityType, entityID string, details map[string]string) (*store.AuditEntry, error) {
	lock := c.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	previousHash := GenesisHash
	var sequence uint64 = 1

	last, err := c.store.LastAuditEntry(ctx, tenantID)
	switch {
	case err == nil:
		previousHash = last.EntryHash
		sequence = last.Sequence + 1
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}

	entry := store.AuditEntry{
		ID:           ulid.Make().String(),
		TenantID:     tenantID,
		Sequence:     sequence,
		Actor:        actor,
		Action:       action,
		EntityType:   entityType,
		EntityID:     entityID,
		Details:      details,
		PreviousHash: previousHash,
		Timestamp:    c.clock().UTC(),
	}
	entry.EntryHash = EntryHash(previousHash, entry)
	entry.Signature = c.signer.Sign(entry.EntryHash)

	if err := c.store.AppendAudit(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// VerifyRange recomputes the chain over [from, to]. It returns ok when
// every entry's hash, signature, linkage, and sequence check out;
// otherwise the sequence number of the first violation. A gap counts as a
// violation at the missing sequence.
func (c *Chain) VerifyRange(ctx context.Context, tenantID string, from, to uint64) (bool, uint64, error) {
	if from == 0 {
		from = 1
	}
	if to < from {
		return true, 0, nil
	}

	anchor := GenesisHash
	if from > 1 {
		prev, err := c.store.AuditRange(ctx, tenantID, from-1, from-1)
		if err != nil {
			return false, 0, err
		}
		if len(prev) == 0 {
			return false, from, nil
		}
		anchor = prev[0].EntryHash
	}

	entries, err := c.store.AuditRange(ctx, tenantID, from, to)
	if err != nil {
		return false, 0, err
	}

	expected := from
	prevHash := anchor
	for _, e := range entries {
		if e.Sequence != expected {
			return false, expected, nil
		}
		if e.PreviousHash != prevHash {
			return false, e.Sequence, nil
		}
		if EntryHash(prevHash, e) != e.EntryHash {
			return false, e.Sequence, nil
		}
		if !c.signer.Verify(e.EntryHash, e.Signature) {
			return false, e.Sequence, nil
		}
		prevHash = e.EntryHash
		expected++
	}
	if expected <= to {
		// The store holds fewer entries than requested: entries were
		// deleted or never written. Either way the chain is broken there.
		return false, expected, nil
	}

	return true, 0, nil
}
