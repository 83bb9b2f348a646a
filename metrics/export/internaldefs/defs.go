package internaldefs

import (
	trustcore "github.com/clinforge/trustcore"
)

// CounterDef binds an engine counter to its exposition name and help
// text. Names are stable; exporters must never rename them.
type CounterDef struct {
	ID   trustcore.MetricID
	Name string
	Help string
}

// HistogramDef binds a latency histogram to its exposition name.
type HistogramDef struct {
	ID   trustcore.MetricID
	Name string
	Help string
}

// HistogramBounds are the upper bucket bounds in seconds. The last
// engine bucket is the +Inf overflow and has no explicit bound here.
var HistogramBounds = []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01}

// CounterDefs lists every engine counter in declaration order.
var CounterDefs = []CounterDef{
	{trustcore.MetricLoginSuccess, "trustcore_login_success_total", "Successful password logins."},
	{trustcore.MetricLoginFailure, "trustcore_login_failure_total", "Rejected login attempts."},
	{trustcore.MetricLoginRateLimited, "trustcore_login_rate_limited_total", "Logins rejected by the rate limiter."},
	{trustcore.MetricMFAPendingIssued, "trustcore_mfa_pending_issued_total", "MFA pending tokens issued at the login gate."},
	{trustcore.MetricMFALoginSuccess, "trustcore_mfa_login_success_total", "Logins completed through the MFA gate."},
	{trustcore.MetricMFALoginFailure, "trustcore_mfa_login_failure_total", "Failed MFA gate completions."},
	{trustcore.MetricRotateSuccess, "trustcore_rotate_success_total", "Successful refresh token rotations."},
	{trustcore.MetricRotateFailure, "trustcore_rotate_failure_total", "Failed refresh token rotations."},
	{trustcore.MetricReplayDetected, "trustcore_replay_detected_total", "Refresh token replay detections."},
	{trustcore.MetricRevoke, "trustcore_revoke_total", "Explicit refresh token revocations."},
	{trustcore.MetricRevokeCascade, "trustcore_revoke_cascade_total", "Principal-wide revocation cascades."},
	{trustcore.MetricTOTPSuccess, "trustcore_totp_success_total", "Accepted TOTP codes."},
	{trustcore.MetricTOTPFailure, "trustcore_totp_failure_total", "Rejected TOTP codes."},
	{trustcore.MetricBackupCodeUsed, "trustcore_backup_code_used_total", "Backup codes consumed."},
	{trustcore.MetricBackupCodeFailed, "trustcore_backup_code_failed_total", "Backup code attempts that matched nothing."},
	{trustcore.MetricBackupCodeRegenerated, "trustcore_backup_code_regenerated_total", "Backup code set regenerations."},
	{trustcore.MetricFieldEncrypt, "trustcore_field_encrypt_total", "Field encryptions."},
	{trustcore.MetricFieldDecrypt, "trustcore_field_decrypt_total", "Field decryptions."},
	{trustcore.MetricFieldDecryptFailure, "trustcore_field_decrypt_failure_total", "Field decryptions that failed closed."},
	{trustcore.MetricAuditAppended, "trustcore_audit_appended_total", "Audit chain entries appended."},
	{trustcore.MetricAuditAppendFailure, "trustcore_audit_append_failure_total", "Audit chain append failures."},
	{trustcore.MetricAuditVerifyFailure, "trustcore_audit_verify_failure_total", "Audit chain verifications that found a break."},
}

// HistogramDefs lists every latency histogram.
var HistogramDefs = []HistogramDef{
	{trustcore.MetricValidateLatency, "trustcore_validate_latency_seconds", "Access token validation latency."},
}

// CumulativeBuckets folds per-bucket counts into the cumulative form
// Prometheus histograms expect. The final element includes overflow and
// equals the sample count.
func CumulativeBuckets(buckets []uint64) []uint64 {
	out := make([]uint64, len(buckets))
	var sum uint64
	for i, b := range buckets {
		sum += b
		out[i] = sum
	}
	return out
}
