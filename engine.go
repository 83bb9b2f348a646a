package trustcore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/clinforge/trustcore/auditchain"
	"github.com/clinforge/trustcore/fieldcipher"
	internalaudit "github.com/clinforge/trustcore/internal/audit"
	"github.com/clinforge/trustcore/internal/rate"
	"github.com/clinforge/trustcore/jwt"
	"github.com/clinforge/trustcore/password"
	"github.com/clinforge/trustcore/store"
)

// Engine is the assembled trust core. All methods are safe for
// concurrent use; the Engine holds no per-request state.
type Engine struct {
	config     Config
	store      store.Store
	redis      redis.UniversalClient
	provider   PrincipalProvider
	cipher     *fieldcipher.Cipher
	hasher     *password.Hasher
	jwtManager *jwt.Manager
	totp       *totpManager
	chain      *auditchain.Chain
	limiter    *rate.Limiter
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *logrus.Logger
	clock      func() time.Time
}

// Close flushes and stops the audit dispatcher. The Engine must not be
// used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// AuditDropped reports events discarded by the sink dispatcher under
// backpressure. Chain appends are never dropped.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of all engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// EncryptField encrypts a sensitive value for storage. Fails closed
// when the field cipher is not configured.
func (e *Engine) EncryptField(plaintext string) (string, error) {
	out, err := e.cipher.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricFieldEncrypt)
	return out, nil
}

// DecryptField reverses EncryptField. Any tampering or key mismatch
// yields fieldcipher.ErrCrypto with no partial output.
func (e *Engine) DecryptField(ciphertext string) (string, error) {
	out, err := e.cipher.Decrypt(ciphertext)
	if err != nil {
		e.metricInc(MetricFieldDecryptFailure)
		return "", err
	}
	e.metricInc(MetricFieldDecrypt)
	return out, nil
}

func logFields(tenantID, action string, err error) logrus.Fields {
	f := logrus.Fields{
		"tenant": tenantID,
		"action": action,
	}
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// Health probes each dependency. Absent optional dependencies report
// healthy so Ready() means "everything I was built with works" with
// one exception: a missing field-cipher key is reported here, not
// discovered mid-request by the first MFA enrollment.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	h := HealthStatus{
		FieldCipher: true,
		AuditChain:  true,
		Redis:       true,
		Store:       true,
	}
	if e == nil {
		return HealthStatus{}
	}

	if err := e.store.Ping(ctx); err != nil {
		h.Store = false
	}
	if e.redis != nil {
		if err := e.redis.Ping(ctx).Err(); err != nil {
			h.Redis = false
		}
	}
	// Ready is nil-safe and false for an unconfigured cipher.
	if !e.cipher.Ready() {
		h.FieldCipher = false
	}
	return h
}
