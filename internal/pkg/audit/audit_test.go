package audit

import (
	"testing"
	"time"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// buildChain simulates what the store does: Append, assign the
// auto-increment id, FinalizeHash.
func buildChain(t *testing.T, n int) []*model.AuditEntry {
	t.Helper()
	prev := GenesisHash
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var out []*model.AuditEntry
	for i := 0; i < n; i++ {
		e := Append(EntryInput{
			EventType: model.EventAddPeer,
			Details:   map[string]string{"hostname": "peer", "n": string(rune('a' + i%26))},
		}, prev, now.Add(time.Duration(i)*time.Second))
		e.ID = int64(i + 1)
		FinalizeHash(e)
		prev = e.EntryHash
		out = append(out, e)
	}
	return out
}

func TestVerifyIntactChain(t *testing.T) {
	entries := buildChain(t, 10)
	if err := Verify(entries, nil); err != nil {
		t.Fatalf("intact chain rejected: %v", err)
	}
}

func TestVerifyDetectsTamperedDetails(t *testing.T) {
	entries := buildChain(t, 10)
	entries[4].DetailsJSON = "hostname=evil;"

	err := Verify(entries, nil)
	if err == nil {
		t.Fatalf("tampered details not detected")
	}
	ie, ok := err.(*IntegrityError)
	if !ok {
		t.Fatalf("expected IntegrityError, got %T", err)
	}
	if ie.EntryID != 5 {
		t.Fatalf("tampered entry id = %d, want 5", ie.EntryID)
	}
}

func TestVerifyDetectsTamperedHash(t *testing.T) {
	entries := buildChain(t, 5)
	// Flip one byte of a stored hash.
	h := []byte(entries[2].EntryHash)
	if h[0] == 'a' {
		h[0] = 'b'
	} else {
		h[0] = 'a'
	}
	entries[2].EntryHash = string(h)

	err := Verify(entries, nil)
	if err == nil {
		t.Fatalf("tampered hash not detected")
	}
	if ie := err.(*IntegrityError); ie.EntryID != 3 {
		t.Fatalf("tampered entry id = %d, want 3", ie.EntryID)
	}
}

func TestVerifyCheckpoints(t *testing.T) {
	entries := buildChain(t, 8)
	var hashes []string
	for _, e := range entries[:4] {
		hashes = append(hashes, e.EntryHash)
	}
	cp := &model.AuditCheckpoint{FromID: 1, ToID: 4, MerkleRoot: MerkleRoot(hashes)}

	if err := Verify(entries, []*model.AuditCheckpoint{cp}); err != nil {
		t.Fatalf("valid checkpoint rejected: %v", err)
	}

	cp.MerkleRoot = MerkleRoot(hashes[:3])
	if err := Verify(entries, []*model.AuditCheckpoint{cp}); err == nil {
		t.Fatalf("corrupt checkpoint not detected")
	}
}

func TestMerkleRoot(t *testing.T) {
	a := MerkleRoot([]string{"aa", "bb", "cc"})
	b := MerkleRoot([]string{"aa", "bb", "cc"})
	if a == "" || a != b {
		t.Fatalf("merkle root not deterministic: %q vs %q", a, b)
	}
	if MerkleRoot([]string{"aa", "bb"}) == MerkleRoot([]string{"bb", "aa"}) {
		t.Fatalf("merkle root must be order-sensitive")
	}
	if MerkleRoot(nil) != "" {
		t.Fatalf("empty range should have empty root")
	}
}

func TestCanonicalIsKeySorted(t *testing.T) {
	a := Canonical(map[string]string{"b": "2", "a": "1"})
	b := Canonical(map[string]string{"a": "1", "b": "2"})
	if a != b {
		t.Fatalf("canonical encoding depends on map order: %q vs %q", a, b)
	}
	if a != "a=1;b=2;" {
		t.Fatalf("canonical = %q", a)
	}
}

func TestShouldCheckpoint(t *testing.T) {
	cases := []struct {
		count int64
		want  bool
	}{
		{0, false}, {1, false}, {999, false}, {1000, true}, {1001, false}, {2000, true},
	}
	for _, c := range cases {
		if got := ShouldCheckpoint(c.count); got != c.want {
			t.Fatalf("ShouldCheckpoint(%d) = %v, want %v", c.count, got, c.want)
		}
	}
}
