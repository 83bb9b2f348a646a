package trustcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricMFAPendingIssued
	MetricMFALoginSuccess
	MetricMFALoginFailure
	MetricRotateSuccess
	MetricRotateFailure
	MetricReplayDetected
	MetricRevoke
	MetricRevokeCascade
	MetricTOTPSuccess
	MetricTOTPFailure
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodeRegenerated
	MetricFieldEncrypt
	MetricFieldDecrypt
	MetricFieldDecryptFailure
	MetricAuditAppended
	MetricAuditAppendFailure
	MetricAuditVerifyFailure
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps each counter on its own cache line so hot
// counters do not false-share under concurrent load.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the engine's lock-free counter set. A nil or disabled
// Metrics accepts every call and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a validation latency sample. Only
// MetricValidateLatency carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricValidateLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

// bucketIndex maps a latency to one of eight exponential buckets:
// <=100µs, <=250µs, <=500µs, <=1ms, <=2.5ms, <=5ms, <=10ms, rest.
func bucketIndex(d time.Duration) int {
	switch {
	case d <= 100*time.Microsecond:
		return 0
	case d <= 250*time.Microsecond:
		return 1
	case d <= 500*time.Microsecond:
		return 2
	case d <= time.Millisecond:
		return 3
	case d <= 2500*time.Microsecond:
		return 4
	case d <= 5*time.Millisecond:
		return 5
	case d <= 10*time.Millisecond:
		return 6
	default:
		return 7
	}
}

// MetricName returns a stable snake_case name for exporters.
func MetricName(id MetricID) string {
	switch id {
	case MetricLoginSuccess:
		return "login_success"
	case MetricLoginFailure:
		return "login_failure"
	case MetricLoginRateLimited:
		return "login_rate_limited"
	case MetricMFAPendingIssued:
		return "mfa_pending_issued"
	case MetricMFALoginSuccess:
		return "mfa_login_success"
	case MetricMFALoginFailure:
		return "mfa_login_failure"
	case MetricRotateSuccess:
		return "rotate_success"
	case MetricRotateFailure:
		return "rotate_failure"
	case MetricReplayDetected:
		return "replay_detected"
	case MetricRevoke:
		return "revoke"
	case MetricRevokeCascade:
		return "revoke_cascade"
	case MetricTOTPSuccess:
		return "totp_success"
	case MetricTOTPFailure:
		return "totp_failure"
	case MetricBackupCodeUsed:
		return "backup_code_used"
	case MetricBackupCodeFailed:
		return "backup_code_failed"
	case MetricBackupCodeRegenerated:
		return "backup_code_regenerated"
	case MetricFieldEncrypt:
		return "field_encrypt"
	case MetricFieldDecrypt:
		return "field_decrypt"
	case MetricFieldDecryptFailure:
		return "field_decrypt_failure"
	case MetricAuditAppended:
		return "audit_appended"
	case MetricAuditAppendFailure:
		return "audit_append_failure"
	case MetricAuditVerifyFailure:
		return "audit_verify_failure"
	case MetricValidateLatency:
		return "validate_latency"
	default:
		return "unknown"
	}
}

// MetricIDs returns every counter ID in declaration order.
func MetricIDs() []MetricID {
	out := make([]MetricID, 0, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		out = append(out, id)
	}
	return out
}
