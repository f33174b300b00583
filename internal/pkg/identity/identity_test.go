package identity

import (
	"testing"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// Property: permanent_guid is frozen at first assignment; rotation
// history records the transition but never touches the guid.
func TestRotatePreservesPermanentGUID(t *testing.T) {
	guid := "KA5f5G8h2j3k4l5m6n7o8p9q0r1s2t3u4v5w6x7y8z9="
	oldPub := guid

	for i := 0; i < 5; i++ {
		rot, err := Rotate(model.EntityRemote, "r1", guid, oldPub, "scheduled")
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if rot.History.PermanentGUID != guid {
			t.Fatalf("rotation %d changed permanent guid to %s", i, rot.History.PermanentGUID)
		}
		if rot.History.OldPublicKey != oldPub {
			t.Fatalf("rotation %d old key = %s, want %s", i, rot.History.OldPublicKey, oldPub)
		}
		if rot.History.NewPublicKey != rot.NewPublicKey {
			t.Fatalf("history new key does not match generated key")
		}
		if rot.NewPublicKey == oldPub {
			t.Fatalf("rotation produced an identical key")
		}
		if len(rot.NewPrivateKey) != 44 || len(rot.NewPublicKey) != 44 {
			t.Fatalf("generated keys are not 44-char base64")
		}
		oldPub = rot.NewPublicKey
	}
}

func TestAssign(t *testing.T) {
	if Assign("pubkey") != "pubkey" {
		t.Fatalf("permanent guid must be the first public key verbatim")
	}
}

func TestRedact(t *testing.T) {
	secret := "cHJpdmF0ZWtleXByaXZhdGVrZXlwcml2YXRla2V5cHI="
	r := Redact(secret)
	if r == secret {
		t.Fatalf("redact returned the full secret")
	}
	if len(r) > 10 {
		t.Fatalf("redacted value too long: %q", r)
	}
	if Redact("abc") != "***" {
		t.Fatalf("short secrets must be fully masked")
	}
}
