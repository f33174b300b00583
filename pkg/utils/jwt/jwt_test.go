package jwt

import (
	"testing"
	"time"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("t1", ScopeWrite, "signing-secret", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseToken(token, "signing-secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.TokenID != "t1" || claims.Scope != ScopeWrite {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, _ := GenerateToken("t1", ScopeRead, "right", time.Hour)
	if _, err := ParseToken(token, "wrong"); err == nil {
		t.Fatalf("wrong signing secret accepted")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	token, _ := GenerateToken("t1", ScopeRead, "s", -time.Minute)
	if _, err := ParseToken(token, "s"); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestScopeHierarchy(t *testing.T) {
	cases := []struct {
		have, need Scope
		want       bool
	}{
		{ScopeAdmin, ScopeRead, true},
		{ScopeAdmin, ScopeWrite, true},
		{ScopeWrite, ScopeRead, true},
		{ScopeWrite, ScopeAdmin, false},
		{ScopeRead, ScopeWrite, false},
		{ScopeRead, ScopeRead, true},
		{Scope("bogus"), ScopeRead, false},
	}
	for _, c := range cases {
		if got := Allows(c.have, c.need); got != c.want {
			t.Fatalf("Allows(%s, %s) = %v, want %v", c.have, c.need, got, c.want)
		}
	}
}
