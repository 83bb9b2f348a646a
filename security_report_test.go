package trustcore

import "testing"

func TestSecurityReportReflectsConfig(t *testing.T) {
	env := newTestEngine(t)

	report := env.engine.SecurityReport()
	if report.SigningAlgorithm != "hs256" {
		t.Fatalf("SigningAlgorithm = %q", report.SigningAlgorithm)
	}
	if report.AccessTTL != env.engine.config.JWT.AccessTTL {
		t.Fatalf("AccessTTL = %v", report.AccessTTL)
	}
	if !report.FieldCipherActive {
		t.Fatal("field cipher should be active in the test config")
	}
	if report.RateLimitingActive {
		t.Fatal("rate limiting should be off without Redis")
	}
	if !report.MetricsActive {
		t.Fatal("metrics are enabled in the test config")
	}
	if report.TOTPDigits != 6 || report.TOTPPeriod != 30 || report.TOTPSkew != 1 {
		t.Fatalf("TOTP parameters wrong: %+v", report)
	}
	if report.BackupCodeCount != 10 {
		t.Fatalf("BackupCodeCount = %d", report.BackupCodeCount)
	}
	if report.Argon2.Memory == 0 || report.Argon2.KeyLength == 0 {
		t.Fatalf("Argon2 report empty: %+v", report.Argon2)
	}

	var nilEngine *Engine
	if got := nilEngine.SecurityReport(); got != (SecurityReport{}) {
		t.Fatalf("nil engine report not zero: %+v", got)
	}
}
