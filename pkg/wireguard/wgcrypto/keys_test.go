package wgcrypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(priv) != 44 || len(pub) != 44 {
		t.Fatalf("keys must be 44 base64 chars, got %d and %d", len(priv), len(pub))
	}

	// Clamping per RFC 7748.
	raw, err := base64.StdEncoding.DecodeString(priv)
	if err != nil {
		t.Fatalf("private key not base64: %v", err)
	}
	if raw[0]&7 != 0 {
		t.Fatalf("low bits not cleared")
	}
	if raw[31]&128 != 0 || raw[31]&64 == 0 {
		t.Fatalf("high bits not clamped")
	}
}

func TestDerivePublicKeyDeterministic(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	again, err := DerivePublicKey(priv)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if again != pub {
		t.Fatalf("public key derivation not deterministic")
	}
}

func TestValidateKey(t *testing.T) {
	priv, _, _ := GenerateKeyPair()
	if err := ValidateKey(priv); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}

	cases := []string{
		"",
		"short",
		strings.Repeat("A", 43),
		strings.Repeat("A", 45),
		strings.Repeat("!", 44), // not base64
	}
	for _, c := range cases {
		if err := ValidateKey(c); err == nil {
			t.Fatalf("invalid key %q accepted", c)
		}
	}
}

func TestGeneratePresharedKey(t *testing.T) {
	a, err := GeneratePresharedKey()
	if err != nil {
		t.Fatalf("generate psk: %v", err)
	}
	b, _ := GeneratePresharedKey()
	if a == b {
		t.Fatalf("two PSKs identical")
	}
	if err := ValidateKey(a); err != nil {
		t.Fatalf("psk failed key validation: %v", err)
	}
}
