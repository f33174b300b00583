// Package audit implements the append-only, hash-chained audit log
// : every state-changing service operation emits one
// entry inside the same datastore transaction as its mutation; entries
// are chained by SHA-256 over a canonical encoding of their fields, and
// periodic Merkle checkpoints over ranges of entry hashes are checked
// by Verify after it has walked the whole chain.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// CheckpointInterval is the default N in "every N entries, compute a
// Merkle root".
const CheckpointInterval = 1000

// GenesisHash is previous_hash for the first entry in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000000"

// Canonical renders details as a deterministic, key-sorted string
// suitable for hashing. It is intentionally simpler than full JSON
// canonicalization (RFC 8785): the details map here is always a flat
// string->string map produced by the service layer, so sorting keys
// and joining with unambiguous separators is sufficient and avoids
// pulling in a JSON canonicalization dependency for a one-call need.
func Canonical(details map[string]string) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(details[k])
		b.WriteByte(';')
	}
	return b.String()
}

// EntryInput is the caller-supplied content of a new audit entry;
// Timestamp, PreviousHash and a provisional EntryHash are set by
// Append, ID is assigned by the store, and FinalizeHash recomputes
// EntryHash once ID is known.
type EntryInput struct {
	EventType           model.AuditEventType
	Category            string
	Severity            string
	EntityType          model.EntityKind
	EntityID            string
	EntityPermanentGUID string
	Operator            string
	OperatorSource      string
	Details             map[string]string
}

// Append computes the hash for the next entry given the previous
// entry's hash (or GenesisHash for the first entry in the chain) and
// returns a fully-populated AuditEntry ready for insertion in the same
// transaction as the mutation it records. The caller assigns ID via
// the store's auto-increment.
func Append(in EntryInput, previousHash string, now time.Time) *model.AuditEntry {
	detailsJSON := Canonical(in.Details)
	e := &model.AuditEntry{
		EventType:           in.EventType,
		Category:            in.Category,
		Severity:            in.Severity,
		EntityType:          in.EntityType,
		EntityID:            in.EntityID,
		EntityPermanentGUID: in.EntityPermanentGUID,
		Operator:            in.Operator,
		OperatorSource:      in.OperatorSource,
		DetailsJSON:         detailsJSON,
		Timestamp:           now,
		PreviousHash:        previousHash,
	}
	e.EntryHash = HashEntry(0, e)
	return e
}

// HashEntry computes entry_hash = H(id || event_type || timestamp ||
// canonical(details) || previous_hash). id is supplied
// separately because it is only known after the store assigns the
// auto-increment primary key; rehashing with the final id happens in
// FinalizeHash once the row is inserted.
func HashEntry(id int64, e *model.AuditEntry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s", id, e.EventType, e.Timestamp.UTC().Format(time.RFC3339Nano), e.DetailsJSON, e.PreviousHash)
	return hex.EncodeToString(h.Sum(nil))
}

// FinalizeHash recomputes entry_hash once id is known (post-insert) and
// updates e in place. Stores call this inside the same transaction
// immediately after the insert assigns e.ID.
func FinalizeHash(e *model.AuditEntry) {
	e.EntryHash = HashEntry(e.ID, e)
}

// MerkleRoot computes a binary Merkle root over a contiguous range of
// entry hashes, for storage in audit_checkpoint every CheckpointInterval
// entries.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}
	level := make([][]byte, len(hashes))
	for i, h := range hashes {
		raw, _ := hex.DecodeString(h)
		level[i] = raw
	}
	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i])
			if i+1 < len(level) {
				h.Write(level[i+1])
			} else {
				h.Write(level[i]) // odd tail: duplicate last node
			}
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return hex.EncodeToString(level[0])
}

// IntegrityError reports the first tampered entry found by Verify.
type IntegrityError struct {
	EntryID      int64
	ExpectedHash string
	ActualHash   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("audit entry %d: expected hash %s, got %s", e.EntryID, e.ExpectedHash, e.ActualHash)
}

// Verify walks entries left-to-right (oldest first) recomputing hashes
// and checking the chain, and verifies any checkpoints against the
// entries they cover. It returns the first IntegrityError found, or
// nil if the whole chain (and every checkpoint) is intact.
func Verify(entries []*model.AuditEntry, checkpoints []*model.AuditCheckpoint) error {
	prev := GenesisHash
	byID := make(map[int64]*model.AuditEntry, len(entries))
	for _, e := range entries {
		expected := HashEntry(e.ID, &model.AuditEntry{
			EventType: e.EventType, Timestamp: e.Timestamp,
			DetailsJSON: e.DetailsJSON, PreviousHash: prev,
		})
		if e.PreviousHash != prev || e.EntryHash != expected {
			return &IntegrityError{EntryID: e.ID, ExpectedHash: expected, ActualHash: e.EntryHash}
		}
		prev = e.EntryHash
		byID[e.ID] = e
	}

	for _, cp := range checkpoints {
		var hashes []string
		for id := cp.FromID; id <= cp.ToID; id++ {
			e, ok := byID[id]
			if !ok {
				continue
			}
			hashes = append(hashes, e.EntryHash)
		}
		if got := MerkleRoot(hashes); got != cp.MerkleRoot {
			return &IntegrityError{EntryID: cp.ToID, ExpectedHash: cp.MerkleRoot, ActualHash: got}
		}
	}
	return nil
}

// ShouldCheckpoint reports whether the entry at position count (1-based,
// since the start of the log or the last checkpoint) completes a
// checkpoint interval.
func ShouldCheckpoint(count int64) bool {
	return count > 0 && count%CheckpointInterval == 0
}
