// Package redistore is the Redis implementation of the store contracts.
//
// Records are stored as JSON values. Every conditional transition
// (refresh-token revocation, MFA version check, backup-code consumption,
// audit append) runs as a Lua script so the compare and the write are a
// single atomic step even with multiple engine instances sharing one
// Redis.
package redistore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clinforge/trustcore/store"
)

const (
	refreshKeyPrefix   = "tc:rt:"
	principalKeyPrefix = "tc:rtp:"
	mfaKeyPrefix       = "tc:mfa:"
	auditKeyPrefix     = "tc:audit:"
	auditLastKeyPrefix = "tc:auditlast:"
)

// Expired refresh records stay readable for a while so a rotation of a
// stale token classifies as expired rather than unknown.
const expiredRetention = time.Hour

const (
	putStatusConflict int64 = 0
	putStatusWritten  int64 = 1
)

const revokeScriptSrc = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local rec = cjson.decode(data)
if rec.Revoked or rec.ExpiresUnix <= tonumber(ARGV[1]) then
  return 0
end
rec.Revoked = true
local ttl = redis.call("PTTL", KEYS[1])
redis.call("SET", KEYS[1], cjson.encode(rec))
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`

const revokeAllScriptSrc = `
local hashes = redis.call("SMEMBERS", KEYS[1])
local now = tonumber(ARGV[1])
local prefix = ARGV[2]
local n = 0
for _, h in ipairs(hashes) do
  local key = prefix .. h
  local data = redis.call("GET", key)
  if data then
    local rec = cjson.decode(data)
    if not rec.Revoked and rec.ExpiresUnix > now then
      rec.Revoked = true
      local ttl = redis.call("PTTL", key)
      redis.call("SET", key, cjson.encode(rec))
      if ttl > 0 then
        redis.call("PEXPIRE", key, ttl)
      end
      n = n + 1
    end
  else
    redis.call("SREM", KEYS[1], h)
  end
end
return n
`

const putMFAScriptSrc = `
local data = redis.call("GET", KEYS[1])
local want = tonumber(ARGV[2])
if not data then
  if want ~= 1 then
    return 0
  end
  redis.call("SET", KEYS[1], ARGV[1])
  return 1
end
local cur = cjson.decode(data)
if cur.Version ~= want - 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`

const consumeBackupScriptSrc = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local cfg = cjson.decode(data)
if type(cfg.BackupCodes) ~= "table" then
  return 0
end
for _, code in ipairs(cfg.BackupCodes) do
  if code.Hash == ARGV[1] and not code.Used then
    code.Used = true
    cfg.Version = cfg.Version + 1
    redis.call("SET", KEYS[1], cjson.encode(cfg))
    return 1
  end
end
return 0
`

const appendAuditScriptSrc = `
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
local last = tonumber(redis.call("GET", KEYS[2]) or "0")
if tonumber(ARGV[1]) > last then
  redis.call("SET", KEYS[2], ARGV[1])
end
return 1
`

var (
	revokeScript        = redis.NewScript(revokeScriptSrc)
	revokeAllScript     = redis.NewScript(revokeAllScriptSrc)
	putMFAScript        = redis.NewScript(putMFAScriptSrc)
	consumeBackupScript = redis.NewScript(consumeBackupScriptSrc)
	appendAuditScript   = redis.NewScript(appendAuditScriptSrc)
)

// Store implements store.Store over a Redis client.
type Store struct {
	client redis.UniversalClient
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for liveness checks and TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

/*
====================================
REFRESH TOKENS
====================================
*/

// refreshRecord is the wire form of a refresh-token record. Times are
// unix seconds so the Lua side can compare them numerically.
type refreshRecord struct {
	ID          string
	PrincipalID string
	TenantID    string
	TokenHash   string
	Revoked     bool
	CreatedUnix int64
	ExpiresUnix int64
}

func toRefreshRecord(rec store.RefreshTokenRecord) refreshRecord {
	return refreshRecord{
		ID:          rec.ID,
		PrincipalID: rec.PrincipalID,
		TenantID:    rec.TenantID,
		TokenHash:   rec.TokenHash,
		Revoked:     rec.Revoked,
		CreatedUnix: rec.CreatedAt.Unix(),
		ExpiresUnix: rec.ExpiresAt.Unix(),
	}
}

func (r refreshRecord) toDomain() store.RefreshTokenRecord {
	return store.RefreshTokenRecord{
		ID:          r.ID,
		PrincipalID: r.PrincipalID,
		TenantID:    r.TenantID,
		TokenHash:   r.TokenHash,
		Revoked:     r.Revoked,
		CreatedAt:   time.Unix(r.CreatedUnix, 0).UTC(),
		ExpiresAt:   time.Unix(r.ExpiresUnix, 0).UTC(),
	}
}

func (s *Store) CreateRefreshToken(ctx context.Context, rec store.RefreshTokenRecord) error {
	payload, err := json.Marshal(toRefreshRecord(rec))
	if err != nil {
		return fmt.Errorf("marshal refresh record: %w", err)
	}

	ttl := rec.ExpiresAt.Sub(s.now()) + expiredRetention
	if ttl <= 0 {
		ttl = expiredRetention
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, refreshKeyPrefix+rec.TokenHash, payload, ttl)
	pipe.SAdd(ctx, principalKeyPrefix+rec.PrincipalID, rec.TokenHash)
	pipe.Expire(ctx, principalKeyPrefix+rec.PrincipalID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*store.RefreshTokenRecord, error) {
	data, err := s.client.Get(ctx, refreshKeyPrefix+tokenHash).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var rec refreshRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal refresh record: %w", err)
	}
	out := rec.toDomain()
	return &out, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	res, err := revokeScript.Run(ctx, s.client,
		[]string{refreshKeyPrefix + tokenHash},
		s.now().Unix(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return res == 1, nil
}

func (s *Store) RevokeAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	res, err := revokeAllScript.Run(ctx, s.client,
		[]string{principalKeyPrefix + principalID},
		s.now().Unix(), refreshKeyPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return int(res), nil
}

/*
====================================
MFA CONFIGS
====================================
*/

// mfaRecord mirrors store.MFAConfig with hex backup-code hashes so the
// consume script can compare them as strings.
type mfaRecord struct {
	PrincipalID     string
	TenantID        string
	Enabled         bool
	SecretEncrypted string
	RecoveryContact string
	BackupCodes     []backupCodeRecord
	VerifiedUnix    int64 // 0 when unverified
	Version         uint64
}

type backupCodeRecord struct {
	Hash string
	Used bool
}

func toMFARecord(cfg store.MFAConfig) mfaRecord {
	rec := mfaRecord{
		PrincipalID:     cfg.PrincipalID,
		TenantID:        cfg.TenantID,
		Enabled:         cfg.Enabled,
		SecretEncrypted: cfg.SecretEncrypted,
		RecoveryContact: cfg.RecoveryContact,
		Version:         cfg.Version,
	}
	if cfg.VerifiedAt != nil {
		rec.VerifiedUnix = cfg.VerifiedAt.Unix()
	}
	for _, code := range cfg.BackupCodes {
		rec.BackupCodes = append(rec.BackupCodes, backupCodeRecord{
			Hash: hex.EncodeToString(code.Hash[:]),
			Used: code.Used,
		})
	}
	return rec
}

func (r mfaRecord) toDomain() (store.MFAConfig, error) {
	cfg := store.MFAConfig{
		PrincipalID:     r.PrincipalID,
		TenantID:        r.TenantID,
		Enabled:         r.Enabled,
		SecretEncrypted: r.SecretEncrypted,
		RecoveryContact: r.RecoveryContact,
		Version:         r.Version,
	}
	if r.VerifiedUnix != 0 {
		t := time.Unix(r.VerifiedUnix, 0).UTC()
		cfg.VerifiedAt = &t
	}
	for _, code := range r.BackupCodes {
		raw, err := hex.DecodeString(code.Hash)
		if err != nil || len(raw) != 32 {
			return store.MFAConfig{}, fmt.Errorf("corrupt backup code hash %q", code.Hash)
		}
		bc := store.BackupCode{Used: code.Used}
		copy(bc.Hash[:], raw)
		cfg.BackupCodes = append(cfg.BackupCodes, bc)
	}
	return cfg, nil
}

func (s *Store) GetMFAConfig(ctx context.Context, principalID string) (*store.MFAConfig, error) {
	data, err := s.client.Get(ctx, mfaKeyPrefix+principalID).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var rec mfaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal mfa config: %w", err)
	}
	cfg, err := rec.toDomain()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) PutMFAConfig(ctx context.Context, cfg store.MFAConfig) error {
	payload, err := json.Marshal(toMFARecord(cfg))
	if err != nil {
		return fmt.Errorf("marshal mfa config: %w", err)
	}

	res, err := putMFAScript.Run(ctx, s.client,
		[]string{mfaKeyPrefix + cfg.PrincipalID},
		payload, cfg.Version,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if res == putStatusConflict {
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) ConsumeBackupCode(ctx context.Context, principalID string, hash [32]byte) (bool, error) {
	res, err := consumeBackupScript.Run(ctx, s.client,
		[]string{mfaKeyPrefix + principalID},
		hex.EncodeToString(hash[:]),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return res == 1, nil
}

/*
====================================
AUDIT CHAIN
====================================
*/

func (s *Store) AppendAudit(ctx context.Context, entry store.AuditEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	res, err := appendAuditScript.Run(ctx, s.client,
		[]string{auditKeyPrefix + entry.TenantID, auditLastKeyPrefix + entry.TenantID},
		entry.Sequence, payload,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if res != 1 {
		return fmt.Errorf("%w: audit sequence %d already written", store.ErrVersionConflict, entry.Sequence)
	}
	return nil
}

func (s *Store) LastAuditEntry(ctx context.Context, tenantID string) (*store.AuditEntry, error) {
	last, err := s.client.Get(ctx, auditLastKeyPrefix+tenantID).Result()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	data, err := s.client.HGet(ctx, auditKeyPrefix+tenantID, last).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var entry store.AuditEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal audit entry: %w", err)
	}
	return &entry, nil
}

func (s *Store) AuditRange(ctx context.Context, tenantID string, from, to uint64) ([]store.AuditEntry, error) {
	if from == 0 {
		from = 1
	}
	if to < from {
		return nil, nil
	}

	fields := make([]string, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		fields = append(fields, strconv.FormatUint(seq, 10))
	}

	values, err := s.client.HMGet(ctx, auditKeyPrefix+tenantID, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	out := make([]store.AuditEntry, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // absent sequence, the verifier reports the gap
		}
		var entry store.AuditEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal audit entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}
