package trustcore

import "time"

// SecurityReport is a point-in-time summary of the engine's security
// posture, derived entirely from configuration. It carries no secret
// material and is safe to log or expose on an admin surface.
type SecurityReport struct {
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	Argon2               PasswordConfigReport
	FieldCipherActive    bool
	TOTPDigits           int
	TOTPPeriod           int
	TOTPSkew             int
	BackupCodeCount      int
	RateLimitingActive   bool
	RotateThrottleActive bool
	AuditSinksActive     bool
	MetricsActive        bool
}

// PasswordConfigReport mirrors the Argon2id cost parameters in use.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecurityReport summarizes the running configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		SigningAlgorithm: e.config.JWT.SigningMethod,
		AccessTTL:        e.config.JWT.AccessTTL,
		RefreshTTL:       e.config.JWT.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		FieldCipherActive:    e.cipher != nil,
		TOTPDigits:           e.config.MFA.Digits,
		TOTPPeriod:           e.config.MFA.Period,
		TOTPSkew:             e.config.MFA.Skew,
		BackupCodeCount:      e.config.MFA.BackupCodeCount,
		RateLimitingActive:   e.limiter != nil,
		RotateThrottleActive: e.limiter != nil && e.config.RateLimit.EnableRotateThrottle,
		AuditSinksActive:     e.audit != nil,
		MetricsActive:        e.metrics.Enabled(),
	}
}
