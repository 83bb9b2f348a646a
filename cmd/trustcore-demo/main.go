// Command trustcore-demo walks the full trust-core lifecycle against
// in-process backends: miniredis for rate limiting and the memory store
// for persistence. No external services are required.
//
// Run:
//
//	go run ./cmd/trustcore-demo
//
// Configuration is read from TRUSTCORE_* environment variables (a .env
// file is honored when present). Missing key material is generated for
// the duration of the run.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	trustcore "github.com/clinforge/trustcore"
	promexport "github.com/clinforge/trustcore/metrics/export/prometheus"
	"github.com/clinforge/trustcore/password"
	"github.com/clinforge/trustcore/store/memstore"
)

const (
	demoTenant     = "org-demo"
	demoIdentifier = "dr.jones@clinforge.example"
	demoPassword   = "correct-horse-battery"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "demo failed:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := trustcore.ConfigFromEnv()
	if err != nil {
		return err
	}
	fillDemoKeys(&cfg)
	cfg.RateLimit.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	mr, err := miniredis.Run()
	if err != nil {
		return err
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	st := memstore.New()
	provider, err := newDemoProvider()
	if err != nil {
		return err
	}

	engine, err := trustcore.New().
		WithConfig(cfg).
		WithStore(st).
		WithRedis(rdb).
		WithPrincipalProvider(provider).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := context.Background()

	logger.Info("=== password login ===")
	result, err := engine.Login(ctx, demoTenant, demoIdentifier, demoPassword, "127.0.0.1")
	if err != nil {
		return err
	}
	logger.WithField("mfa_required", result.MFARequired).Info("logged in")

	// Sensitive fields round-trip through the field cipher.
	sealed, err := engine.EncryptField("blood type: O-")
	if err != nil {
		return err
	}
	opened, err := engine.DecryptField(sealed)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"sealed": sealed[:24] + "...", "opened": opened}).Info("field cipher")

	logger.Info("=== token rotation and replay containment ===")
	pair := result.Tokens
	rotated, err := engine.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		return err
	}
	logger.Info("rotation succeeded")

	// Replaying the retired token triggers the cascade.
	if _, err := engine.Rotate(ctx, pair.RefreshToken); errors.Is(err, trustcore.ErrReplayDetected) {
		logger.Warn("replay detected, principal tokens revoked")
	} else {
		return fmt.Errorf("expected replay detection, got %v", err)
	}
	if _, err := engine.Rotate(ctx, rotated.RefreshToken); !errors.Is(err, trustcore.ErrReplayDetected) {
		logger.WithError(err).Warn("successor lineage state")
	} else {
		logger.Info("successor lineage dead after cascade")
	}

	logger.Info("=== MFA enrollment ===")
	enrollment, err := engine.EnrollMFA(ctx, provider.principal.ID)
	if err != nil {
		return err
	}
	logger.WithField("uri", enrollment.ProvisionURI).Info("enrolled")

	code, err := totpNow(enrollment.SecretBase32, cfg.MFA.Period, cfg.MFA.Digits)
	if err != nil {
		return err
	}
	backupCodes, err := engine.ConfirmMFAEnrollment(ctx, provider.principal.ID, code)
	if err != nil {
		return err
	}
	logger.WithField("backup_codes", len(backupCodes)).Info("MFA enabled")

	logger.Info("=== MFA login ===")
	result, err = engine.Login(ctx, demoTenant, demoIdentifier, demoPassword, "127.0.0.1")
	if err != nil {
		return err
	}
	if !result.MFARequired {
		return errors.New("expected MFA gate after enablement")
	}
	pair, err = engine.ConfirmLoginMFA(ctx, result.PendingToken, backupCodes[0])
	if err != nil {
		return err
	}
	claims, err := engine.ValidateAccess(ctx, pair.AccessToken)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"subject": claims.Subject, "mfa": claims.MFAVerified}).Info("MFA login complete")

	logger.Info("=== audit chain ===")
	report, err := engine.VerifyAuditChain(ctx, demoTenant, 1, 0)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"ok": report.OK, "to": report.To}).Info("chain verified")

	entries, err := engine.AuditRange(ctx, demoTenant, 1, report.To)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		logger.WithFields(logrus.Fields{
			"seq":    entry.Sequence,
			"action": entry.Action,
		}).Info("audit entry")
	}

	logger.Info("=== metrics ===")
	exporter := promexport.NewExporter(engine)
	_ = exporter // mount exporter.Handler() under /metrics in a real service
	for id, v := range engine.MetricsSnapshot().Counters {
		if v > 0 {
			logger.Infof("%s = %d", trustcore.MetricName(id), v)
		}
	}

	return nil
}

// fillDemoKeys generates ephemeral key material for anything the
// environment did not provide.
func fillDemoKeys(cfg *trustcore.Config) {
	if len(cfg.JWT.PrivateKey) == 0 {
		cfg.JWT.SigningMethod = "hs256"
		cfg.JWT.PrivateKey = randomBytes(32)
	}
	if len(cfg.FieldCipher.Key) == 0 {
		cfg.FieldCipher.Key = randomBytes(32)
	}
	if len(cfg.Audit.SigningKey) == 0 {
		cfg.Audit.SigningKey = randomBytes(32)
	}
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

var errNoSuchPrincipal = errors.New("no such principal")

// demoProvider is a single-principal in-memory provider.
type demoProvider struct {
	principal trustcore.Principal
}

func newDemoProvider() (*demoProvider, error) {
	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(demoPassword)
	if err != nil {
		return nil, err
	}
	return &demoProvider{
		principal: trustcore.Principal{
			ID:           "principal-1",
			TenantID:     demoTenant,
			Identifier:   demoIdentifier,
			PasswordHash: hash,
			Role:         trustcore.RoleDoctor,
			Active:       true,
		},
	}, nil
}

func (p *demoProvider) PrincipalByIdentifier(_ context.Context, tenantID, identifier string) (trustcore.Principal, error) {
	if tenantID != p.principal.TenantID || identifier != p.principal.Identifier {
		return trustcore.Principal{}, errNoSuchPrincipal
	}
	return p.principal, nil
}

func (p *demoProvider) PrincipalByID(_ context.Context, principalID string) (trustcore.Principal, error) {
	if principalID != p.principal.ID {
		return trustcore.Principal{}, errNoSuchPrincipal
	}
	return p.principal, nil
}

func (p *demoProvider) UpdatePasswordHash(_ context.Context, principalID, newHash string) error {
	if principalID == p.principal.ID {
		p.principal.PasswordHash = newHash
	}
	return nil
}

func (p *demoProvider) TouchLastLogin(_ context.Context, principalID string, at time.Time) error {
	if principalID == p.principal.ID {
		p.principal.LastLoginAt = &at
	}
	return nil
}

// totpNow derives the current RFC 6238 code for a base32 secret, the
// same way an authenticator app would.
func totpNow(secretBase32 string, period, digits int) (string, error) {
	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secretBase32))
	if err != nil {
		return "", err
	}

	counter := uint64(time.Now().Unix()) / uint64(period)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, code%mod), nil
}
