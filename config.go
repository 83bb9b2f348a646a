package trustcore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

// Config is the full engine configuration. Instances are set up once
// and treated as immutable after Build.
type Config struct {
	JWT         JWTConfig
	FieldCipher FieldCipherConfig
	MFA         MFAConfig
	Password    PasswordConfig
	RateLimit   RateLimitConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
FIELD CIPHER CONFIG
====================================
*/

// FieldCipherConfig holds the 32-byte AES key protecting sensitive
// fields at rest. An empty key leaves the cipher unconfigured and every
// field operation fails closed.
type FieldCipherConfig struct {
	Key []byte
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls TOTP parameters and backup code shape.
type MFAConfig struct {
	Issuer           string
	Period           int
	Digits           int
	Skew             int
	Algorithm        string // SHA1 (default), SHA256, SHA512
	BackupCodeCount  int
	BackupCodeLength int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig carries Argon2id parameters, in KB for Memory.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls the Redis-backed throttles. Disabled unless
// a Redis client is supplied to the Builder.
type RateLimitConfig struct {
	Enabled              bool
	EnableIPThrottle     bool
	EnableRotateThrottle bool
	MaxLoginAttempts     int
	LoginWindow          time.Duration
	MaxRotateAttempts    int
	RotateWindow         time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig holds the chain signing key and sink dispatch tuning.
// The chain itself is always on; Enabled governs only sink mirroring.
type AuditConfig struct {
	SigningKey []byte
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles the counter set.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "trustcore",
			Leeway:        30 * time.Second,
		},
		MFA: MFAConfig{
			Issuer:           "trustcore",
			Period:           30,
			Digits:           6,
			Skew:             1,
			Algorithm:        "SHA1",
			BackupCodeCount:  10,
			BackupCodeLength: 8,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:              false,
			EnableIPThrottle:     true,
			EnableRotateThrottle: true,
			MaxLoginAttempts:     5,
			LoginWindow:          time.Minute,
			MaxRotateAttempts:    20,
			RotateWindow:         time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.FieldCipher.Key = cloneBytes(cfg.FieldCipher.Key)
	out.Audit.SigningKey = cloneBytes(cfg.Audit.SigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error. Called by Build;
// nothing lazily validates after that.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && (len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0) {
		return errors.New("ed25519 requires PrivateKey and PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	if len(c.FieldCipher.Key) != 0 && len(c.FieldCipher.Key) != 32 {
		return errors.New("FieldCipher Key must be exactly 32 bytes")
	}

	if c.MFA.Period <= 0 {
		return errors.New("MFA Period must be > 0")
	}
	if c.MFA.Digits < 6 || c.MFA.Digits > 10 {
		return errors.New("MFA Digits must be between 6 and 10")
	}
	if c.MFA.Skew < 0 {
		return errors.New("MFA Skew must be >= 0")
	}
	switch c.MFA.Algorithm {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("unsupported MFA algorithm")
	}
	if c.MFA.BackupCodeCount <= 0 {
		return errors.New("MFA BackupCodeCount must be > 0")
	}
	if c.MFA.BackupCodeLength < 8 {
		return errors.New("MFA BackupCodeLength must be >= 8")
	}

	if len(c.Audit.SigningKey) == 0 {
		return errors.New("Audit SigningKey is required")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 {
			return errors.New("RateLimit MaxLoginAttempts must be > 0")
		}
		if c.RateLimit.LoginWindow <= 0 {
			return errors.New("RateLimit LoginWindow must be > 0")
		}
		if c.RateLimit.EnableRotateThrottle && c.RateLimit.MaxRotateAttempts <= 0 {
			return errors.New("RateLimit MaxRotateAttempts must be > 0")
		}
	}

	return nil
}

/*
====================================
ENVIRONMENT
====================================
*/

type envConfig struct {
	AccessTTL     time.Duration `env:"TRUSTCORE_ACCESS_TTL" envDefault:"5m"`
	RefreshTTL    time.Duration `env:"TRUSTCORE_REFRESH_TTL" envDefault:"168h"`
	SigningMethod string        `env:"TRUSTCORE_JWT_METHOD" envDefault:"ed25519"`
	PrivateKeyB64 string        `env:"TRUSTCORE_JWT_PRIVATE_KEY"`
	PublicKeyB64  string        `env:"TRUSTCORE_JWT_PUBLIC_KEY"`
	Issuer        string        `env:"TRUSTCORE_ISSUER" envDefault:"trustcore"`

	FieldKeyB64 string `env:"TRUSTCORE_FIELD_KEY"`

	AuditKeyB64  string `env:"TRUSTCORE_AUDIT_KEY"`
	AuditEnabled bool   `env:"TRUSTCORE_AUDIT_SINKS" envDefault:"false"`

	RateLimitEnabled bool `env:"TRUSTCORE_RATE_LIMIT" envDefault:"false"`
	MetricsEnabled   bool `env:"TRUSTCORE_METRICS" envDefault:"false"`
}

// ConfigFromEnv builds a Config from TRUSTCORE_* environment variables
// on top of the defaults. Key material is expected base64-encoded.
func ConfigFromEnv() (Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg := defaultConfig()
	cfg.JWT.AccessTTL = ec.AccessTTL
	cfg.JWT.RefreshTTL = ec.RefreshTTL
	cfg.JWT.SigningMethod = ec.SigningMethod
	cfg.JWT.Issuer = ec.Issuer
	cfg.Audit.Enabled = ec.AuditEnabled
	cfg.RateLimit.Enabled = ec.RateLimitEnabled
	cfg.Metrics.Enabled = ec.MetricsEnabled

	var err error
	if cfg.JWT.PrivateKey, err = decodeKey(ec.PrivateKeyB64); err != nil {
		return Config{}, fmt.Errorf("TRUSTCORE_JWT_PRIVATE_KEY: %w", err)
	}
	if cfg.JWT.PublicKey, err = decodeKey(ec.PublicKeyB64); err != nil {
		return Config{}, fmt.Errorf("TRUSTCORE_JWT_PUBLIC_KEY: %w", err)
	}
	if cfg.FieldCipher.Key, err = decodeKey(ec.FieldKeyB64); err != nil {
		return Config{}, fmt.Errorf("TRUSTCORE_FIELD_KEY: %w", err)
	}
	if cfg.Audit.SigningKey, err = decodeKey(ec.AuditKeyB64); err != nil {
		return Config{}, fmt.Errorf("TRUSTCORE_AUDIT_KEY: %w", err)
	}

	return cfg, nil
}

func decodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}
