package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind discriminates the three token families issued by the core.
// The kind travels in the token_type claim and is enforced on parse.
type Kind string

const (
	// KindAccess authorizes API calls. Stateless, never persisted.
	KindAccess Kind = "access"
	// KindRefresh is exchanged for a new token pair. Persisted as a hash.
	KindRefresh Kind = "refresh"
	// KindMFAPending bridges the password check to the MFA check.
	// Not valid for API access.
	KindMFAPending Kind = "mfa_pending"
)

// MFAPendingTTL is the fixed lifetime of an mfa_pending token.
const MFAPendingTTL = 5 * time.Minute

var (
	// ErrInvalidToken covers bad signatures, malformed input, and kind
	// confusion. Kind mismatch is deliberately indistinguishable from a
	// forged token to avoid oracle leakage.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is a structurally valid, correctly signed token past
	// its expiry. Distinguished so callers can prompt re-authentication.
	ErrExpiredToken = errors.New("token expired")
)

// SigningMethod selects the signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 selects EdDSA signatures.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 selects HMAC-SHA256 signatures.
	MethodHS256 SigningMethod = "hs256"
)

// Claims is the claim set carried by every token kind. Kind-specific
// fields (Role, TenantID, MFAVerified) are omitted where the kind does
// not carry them.
type Claims struct {
	Role        string `json:"role,omitempty"`
	TenantID    string `json:"org,omitempty"`
	MFAVerified bool   `json:"mfa,omitempty"`
	TokenKind   string `json:"token_type"`
	jwt.RegisteredClaims
}

// Config holds signing configuration. Instances are treated as immutable
// after [NewManager].
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	// TimeFunc overrides the clock used for expiry validation.
	// Defaults to time.Now.
	TimeFunc func() time.Time
}

// Manager signs and parses tokens. Safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates the configuration and fails fast on unusable key
// material so a misconfigured process never serves requests.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// TTL returns the configured lifetime for a token kind.
func (m *Manager) TTL(kind Kind) time.Duration {
	switch kind {
	case KindRefresh:
		return m.config.RefreshTTL
	case KindMFAPending:
		return MFAPendingTTL
	default:
		return m.config.AccessTTL
	}
}

// Sign issues a token of the given kind. The caller supplies identity
// claims plus a unique jti; expiry, issued-at, issuer, and the kind claim
// are stamped here.
func (m *Manager) Sign(kind Kind, claims Claims, now time.Time) (string, error) {
	claims.TokenKind = string(kind)
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.TTL(kind)))
	if m.config.Issuer != "" {
		claims.Issuer = m.config.Issuer
	}

	token := jwt.NewWithClaims(m.method(), claims)

	signKey, err := m.signKey()
	if err != nil {
		return "", err
	}
	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return signed, nil
}

// Parse verifies signature and expiry and enforces that the token carries
// the expected kind. Signature, structure, and kind failures collapse to
// ErrInvalidToken; only a verified-but-stale token yields ErrExpiredToken.
func (m *Manager) Parse(tokenStr string, expected Kind) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.TimeFunc != nil {
		options = append(options, jwt.WithTimeFunc(m.config.TimeFunc))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenKind != string(expected) {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (m *Manager) method() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) verifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

// ParseKind converts a stored kind string back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.TrimSpace(s)) {
	case KindAccess:
		return KindAccess, nil
	case KindRefresh:
		return KindRefresh, nil
	case KindMFAPending:
		return KindMFAPending, nil
	default:
		return "", fmt.Errorf("unknown token kind %q", s)
	}
}
