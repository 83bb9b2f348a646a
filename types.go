package trustcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/clinforge/trustcore/internal/audit"
)

// Role is the coarse authorization role carried in access token claims.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleLab    Role = "LAB"
	RoleDoctor Role = "DOCTOR"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLab, RoleDoctor:
		return true
	}
	return false
}

// Principal is the account record the engine authenticates. It is
// supplied by the caller's [PrincipalProvider]; the engine never
// creates or stores principals itself.
type Principal struct {
	ID           string
	TenantID     string
	Identifier   string
	PasswordHash string
	Role         Role
	Active       bool
	LastLoginAt  *time.Time
}

// PrincipalProvider is the caller-implemented lookup interface that
// connects the engine to the application's account database.
type PrincipalProvider interface {
	PrincipalByIdentifier(ctx context.Context, tenantID, identifier string) (Principal, error)
	PrincipalByID(ctx context.Context, principalID string) (Principal, error)
	// UpdatePasswordHash persists a transparently upgraded hash after a
	// successful login. Failures are logged, not fatal.
	UpdatePasswordHash(ctx context.Context, principalID, newHash string) error
	// TouchLastLogin stamps a successful authentication.
	TouchLastLogin(ctx context.Context, principalID string, at time.Time) error
}

// TokenPair is an access token plus the refresh token that renews it.
// The refresh token value appears here exactly once; only its hash is
// persisted.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is returned by [Engine.Login]. When MFARequired is set
// the pair is empty and PendingToken must be traded for tokens via
// [Engine.ConfirmLoginMFA]. Nothing about the account beyond the MFA
// requirement is disclosed before the second factor verifies.
type LoginResult struct {
	MFARequired  bool
	PendingToken string
	Tokens       *TokenPair
}

// EnrollmentResult is returned by [Engine.EnrollMFA]. The secret and
// provisioning URI exist only in this value; after enrollment the
// secret is held encrypted at rest.
type EnrollmentResult struct {
	SecretBase32 string
	ProvisionURI string
}

// MFAStatusInfo summarizes a principal's MFA state without exposing
// secret material.
type MFAStatusInfo struct {
	Enrolled             bool
	Enabled              bool
	VerifiedAt           *time.Time
	RecoveryContact      string
	RemainingBackupCodes int
}

// VerifiedFactor names which second factor satisfied a verification.
type VerifiedFactor string

const (
	FactorTOTP       VerifiedFactor = "totp"
	FactorBackupCode VerifiedFactor = "backup_code"
)

// ChainReport is returned by [Engine.VerifyAuditChain].
type ChainReport struct {
	TenantID    string
	From, To    uint64
	OK          bool
	FirstBroken uint64
}

// HealthStatus reports readiness of the engine's dependencies.
type HealthStatus struct {
	Store       bool
	Redis       bool
	FieldCipher bool
	AuditChain  bool
}

// Ready reports whether every configured dependency answered.
func (h HealthStatus) Ready() bool {
	return h.Store && h.Redis && h.FieldCipher && h.AuditChain
}

// AuditEvent is the structured record mirrored to sinks for every
// appended chain entry.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes JSON-encoded events, one per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
