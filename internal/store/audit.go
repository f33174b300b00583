package store

import (
	"context"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// AuditStore appends to and reads back the hash-chained audit log.
// Append-only: there is deliberately no Update/Delete.
type AuditStore interface {
	// LastHash returns the entry_hash of the most recently appended
	// entry, or audit.GenesisHash if the log is empty.
	LastHash(ctx context.Context) (string, error)
	Append(ctx context.Context, e *model.AuditEntry) error
	List(ctx context.Context, fromID int64, limit int) ([]*model.AuditEntry, error)
	All(ctx context.Context) ([]*model.AuditEntry, error)

	AppendCheckpoint(ctx context.Context, c *model.AuditCheckpoint) error
	Checkpoints(ctx context.Context) ([]*model.AuditCheckpoint, error)

	// CountSinceLastCheckpoint is the position used by
	// audit.ShouldCheckpoint to decide when to compute the next root.
	CountSinceLastCheckpoint(ctx context.Context) (int64, error)
}

// EncryptionStore persists the singleton EncryptionMetadata row used
// by the at-rest column encryption wrapper.
type EncryptionStore interface {
	Get(ctx context.Context) (*model.EncryptionMetadata, error)
	Set(ctx context.Context, m *model.EncryptionMetadata) error
}
