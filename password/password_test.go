package password

import (
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{
		Memory:      16 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := hasher.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=16384,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("correct horse battery", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected matching password to verify")
	}

	ok, err = hasher.Verify("wrong horse battery", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password to be rejected")
	}
}

func TestHashesAreSalted(t *testing.T) {
	hasher, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	first, err := hasher.Hash("same password here")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	second, err := hasher.Hash("same password here")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct salts to yield distinct hashes")
	}
}

func TestShortPasswordRejected(t *testing.T) {
	hasher, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	if _, err := hasher.Hash("tiny"); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestNeedsRehash(t *testing.T) {
	weak, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher(weak) error: %v", err)
	}
	hash, err := weak.Hash("legacy password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	strong, err := NewHasher(DefaultConfig())
	if err != nil {
		t.Fatalf("NewHasher(strong) error: %v", err)
	}

	upgrade, err := strong.NeedsRehash(hash)
	if err != nil {
		t.Fatalf("NeedsRehash error: %v", err)
	}
	if !upgrade {
		t.Fatal("expected weaker hash to need rehash")
	}

	current, err := strong.Hash("legacy password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	upgrade, err = strong.NeedsRehash(current)
	if err != nil {
		t.Fatalf("NeedsRehash error: %v", err)
	}
	if upgrade {
		t.Fatal("expected current-parameter hash to pass")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	for _, bad := range []string{
		"",
		"not-a-phc-string",
		"$bcrypt$v=19$m=16384,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=16384,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=16384,t=1,p=1$!!$aGFzaA",
	} {
		if _, err := hasher.Verify("whatever password", bad); err == nil {
			t.Fatalf("expected parse error for %q", bad)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 16384, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 16384, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		{Memory: 16384, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32},
		{Memory: 16384, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	}
	for i, cfg := range cases {
		if _, err := NewHasher(cfg); err == nil {
			t.Fatalf("case %d: expected config to be rejected", i)
		}
	}
}
