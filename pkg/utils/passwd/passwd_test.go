package passwd

import "testing"

func TestHashAndVerify(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	hash, err := HashSecret("the-secret", salt)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !VerifySecret("the-secret", salt, hash) {
		t.Fatalf("correct secret rejected")
	}
	if VerifySecret("wrong-secret", salt, hash) {
		t.Fatalf("wrong secret accepted")
	}
	if VerifySecret("the-secret", "wrongsalt", hash) {
		t.Fatalf("wrong salt accepted")
	}
}

func TestSaltsDiffer(t *testing.T) {
	a, _ := GenerateSalt()
	b, _ := GenerateSalt()
	if a == b {
		t.Fatalf("two salts identical")
	}
	if len(a) != SaltLength*2 { // hex encoding
		t.Fatalf("salt length = %d", len(a))
	}
}
