package service

import (
	"context"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/audit"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// AuditSrv reads back and verifies the audit log.
type AuditSrv interface {
	// Verify walks the full chain and every Merkle checkpoint,
	// returning an IntegrityError on the first tampered entry.
	Verify(ctx context.Context) error
	List(ctx context.Context, fromID int64, limit int) ([]*model.AuditEntry, error)
}

type auditSrv struct{ *service }

var _ AuditSrv = (*auditSrv)(nil)

func (a *auditSrv) Verify(ctx context.Context) error {
	entries, err := a.store.Audit().All(ctx)
	if err != nil {
		return err
	}
	checkpoints, err := a.store.Audit().Checkpoints(ctx)
	if err != nil {
		return err
	}
	return audit.Verify(entries, checkpoints)
}

func (a *auditSrv) List(ctx context.Context, fromID int64, limit int) ([]*model.AuditEntry, error) {
	return a.store.Audit().List(ctx, fromID, limit)
}
