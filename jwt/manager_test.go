package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "trustcore",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestSignParseRoundTripAllKinds(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()

	for _, kind := range []Kind{KindAccess, KindRefresh, KindMFAPending} {
		token, err := m.Sign(kind, Claims{
			Role:     "DOCTOR",
			TenantID: "org-1",
			RegisteredClaims: gjwt.RegisteredClaims{
				Subject: "u1",
				ID:      "jti-" + string(kind),
			},
		}, now)
		if err != nil {
			t.Fatalf("sign %s: %v", kind, err)
		}

		claims, err := m.Parse(token, kind)
		if err != nil {
			t.Fatalf("parse %s: %v", kind, err)
		}
		if claims.Subject != "u1" || claims.TokenKind != string(kind) {
			t.Fatalf("unexpected claims for %s: %+v", kind, claims)
		}
	}
}

func TestParseRejectsKindConfusionUniformly(t *testing.T) {
	m := newTestManager(t)

	refresh, err := m.Sign(KindRefresh, Claims{RegisteredClaims: gjwt.RegisteredClaims{Subject: "u1"}}, time.Now())
	if err != nil {
		t.Fatalf("sign refresh: %v", err)
	}

	_, err = m.Parse(refresh, KindAccess)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on kind confusion, got %v", err)
	}

	// A forged token must map to the same sentinel so callers cannot
	// distinguish kind confusion from an invalid signature.
	_, forgedErr := m.Parse("not.a.token", KindAccess)
	if !errors.Is(forgedErr, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for forged token, got %v", forgedErr)
	}
}

func TestParseDistinguishesExpiry(t *testing.T) {
	m := newTestManager(t)

	token, err := m.Sign(KindAccess, Claims{RegisteredClaims: gjwt.RegisteredClaims{Subject: "u1"}},
		time.Now().Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = m.Parse(token, KindAccess)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	m := newTestManager(t)

	claims := Claims{TokenKind: string(KindAccess), RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.Parse(signed, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected wrong algorithm to be rejected, got %v", err)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	m1 := newTestManager(t)
	m2 := newTestManager(t)

	token, err := m1.Sign(KindAccess, Claims{RegisteredClaims: gjwt.RegisteredClaims{Subject: "u1"}}, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := m2.Parse(token, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected wrong key to be rejected, got %v", err)
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	pub, priv := newEdKeys(t)
	issue, err := NewManager(Config{
		AccessTTL: time.Minute, RefreshTTL: time.Hour,
		SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub,
		Issuer: "other",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	verify, err := NewManager(Config{
		AccessTTL: time.Minute, RefreshTTL: time.Hour,
		SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub,
		Issuer: "trustcore",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := issue.Sign(KindAccess, Claims{RegisteredClaims: gjwt.RegisteredClaims{Subject: "u1"}}, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verify.Parse(token, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch to be rejected, got %v", err)
	}
}

func TestMFAPendingTTLIsFixed(t *testing.T) {
	m := newTestManager(t)
	if got := m.TTL(KindMFAPending); got != MFAPendingTTL {
		t.Fatalf("expected fixed mfa_pending TTL, got %v", got)
	}
}

func TestHS256RoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		AccessTTL: time.Minute, RefreshTTL: time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := m.Sign(KindAccess, Claims{RegisteredClaims: gjwt.RegisteredClaims{Subject: "u1"}}, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := m.Parse(token, KindAccess)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	pub, _ := newEdKeys(t)

	cases := []Config{
		{RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PublicKey: pub},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: "rs512"},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected config rejection", i)
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, kind := range []Kind{KindAccess, KindRefresh, KindMFAPending} {
		got, err := ParseKind(string(kind))
		if err != nil || got != kind {
			t.Fatalf("ParseKind(%q) = %v, %v", kind, got, err)
		}
	}
	if _, err := ParseKind("session"); err == nil {
		t.Fatal("expected unknown kind to be rejected")
	}
}
