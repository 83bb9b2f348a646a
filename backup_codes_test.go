package trustcore

import (
	"strings"
	"testing"
)

func TestNewBackupCodeAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := newBackupCode(8)
		if err != nil {
			t.Fatalf("newBackupCode error: %v", err)
		}
		if len(code) != 8 {
			t.Fatalf("unexpected length: %q", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(backupCodeAlphabet, r) {
				t.Fatalf("character %q outside alphabet in %q", r, code)
			}
		}
		// Ambiguous characters never appear.
		if strings.ContainsAny(code, "01IO") {
			t.Fatalf("ambiguous character in %q", code)
		}
	}
}

func TestFormatAndCanonicalizeRoundTrip(t *testing.T) {
	raw := "ABCD2345"
	display := formatBackupCode(raw)
	if display != "ABCD-2345" {
		t.Fatalf("unexpected display form: %q", display)
	}

	for _, input := range []string{
		display,
		raw,
		"abcd-2345",
		" ABCD 2345 ",
		"abcd2345",
	} {
		if got := canonicalizeBackupCode(input); got != raw {
			t.Fatalf("canonicalize(%q) = %q, want %q", input, got, raw)
		}
	}
}

func TestBackupCodeHashBoundToPrincipal(t *testing.T) {
	a := backupCodeHash("u-1", "ABCD2345")
	b := backupCodeHash("u-2", "ABCD2345")
	if a == b {
		t.Fatal("same code must hash differently per principal")
	}
	if a != backupCodeHash("u-1", "ABCD2345") {
		t.Fatal("hash must be deterministic")
	}
}
