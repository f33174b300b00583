package authz

import "testing"

func TestScopePermissions(t *testing.T) {
	cases := []struct {
		scope, obj, act string
		want            bool
	}{
		{"read", "status", "view", true},
		{"read", "peers", "view", true},
		{"read", "deploy", "mutate", false},
		{"write", "status", "view", true}, // write inherits read
		{"write", "deploy", "mutate", true},
		{"write", "tokens", "mutate", false},
		{"admin", "tokens", "mutate", true},
		{"admin", "deploy", "mutate", true}, // admin inherits write
		{"admin", "status", "view", true},
		{"bogus", "status", "view", false},
	}
	for _, c := range cases {
		if got := Allowed(c.scope, c.obj, c.act); got != c.want {
			t.Fatalf("Allowed(%s, %s, %s) = %v, want %v", c.scope, c.obj, c.act, got, c.want)
		}
	}
}
