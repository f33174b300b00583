package service

import (
	"context"
	"strings"
	"time"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/audit"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/journal"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// mutate runs fn on the single writer worker, appends the audit entry
// describing it inside the same transaction, and publishes the journal
// event once the transaction commits. Partial failure rolls back both
// the mutation and the audit entry.
func (s *service) mutate(ctx context.Context, in audit.EntryInput, fn func(ctx context.Context) error) error {
	in.Operator = s.operator
	in.OperatorSource = s.source

	err := s.store.Writer().Do(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		return s.appendAudit(ctx, in)
	})
	if err != nil {
		return err
	}

	s.bus.Publish(journal.Event{
		Type:       in.EventType,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Operator:   s.operator,
		Details:    in.Details,
		Timestamp:  time.Now().UTC(),
	})
	return nil
}

// appendAudit chains and inserts one audit entry, then lays down a
// Merkle checkpoint when the entry completes a checkpoint interval.
// Always called inside a writer transaction.
func (s *service) appendAudit(ctx context.Context, in audit.EntryInput) error {
	as := s.store.Audit()

	prev, err := as.LastHash(ctx)
	if err != nil {
		return err
	}
	e := audit.Append(in, prev, time.Now().UTC())
	if err := as.Append(ctx, e); err != nil {
		return err
	}

	count, err := as.CountSinceLastCheckpoint(ctx)
	if err != nil {
		return err
	}
	if !audit.ShouldCheckpoint(count) {
		return nil
	}

	fromID := e.ID - count + 1
	entries, err := as.List(ctx, fromID, int(count))
	if err != nil {
		return err
	}
	hashes := make([]string, 0, len(entries))
	for _, en := range entries {
		hashes = append(hashes, en.EntryHash)
	}
	return as.AppendCheckpoint(ctx, &model.AuditCheckpoint{
		FromID:     fromID,
		ToID:       e.ID,
		MerkleRoot: audit.MerkleRoot(hashes),
		CreatedAt:  time.Now().UTC(),
	})
}

// bareAddr strips a trailing /prefix from a stored VPN address.
func bareAddr(a string) string {
	if i := strings.IndexByte(a, '/'); i >= 0 {
		return a[:i]
	}
	return a
}

// hostAddrs renders a remote's VPN addresses as the /32 and /128
// host-route list used in CS and exit peer blocks.
func hostAddrs(v4, v6 string) string {
	var parts []string
	if v4 != "" {
		parts = append(parts, bareAddr(v4)+"/32")
	}
	if v6 != "" {
		parts = append(parts, bareAddr(v6)+"/128")
	}
	return strings.Join(parts, ", ")
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
