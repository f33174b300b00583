package sqlite

import (
	"context"

	"gorm.io/gorm"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/audit"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

type auditStore struct{ db *gorm.DB }

func (r *auditStore) LastHash(ctx context.Context) (string, error) {
	var e model.AuditEntry
	err := txFrom(ctx, r.db).WithContext(ctx).Order("id desc").First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return audit.GenesisHash, nil
	}
	if err != nil {
		return "", errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return e.EntryHash, nil
}

// Append is always called from inside the writer transaction: the
// hash chain's "previous hash" read and this insert must be
// atomic, otherwise two concurrent appends could both chain off the
// same LastHash and silently fork the log.
func (r *auditStore) Append(ctx context.Context, e *model.AuditEntry) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if err := tx.Create(e).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	// The insert assigned e.ID; the hash must cover the final id.
	audit.FinalizeHash(e)
	if err := tx.Model(e).Update("entry_hash", e.EntryHash).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *auditStore) List(ctx context.Context, fromID int64, limit int) ([]*model.AuditEntry, error) {
	var out []*model.AuditEntry
	q := txFrom(ctx, r.db).WithContext(ctx).Where("id >= ?", fromID).Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *auditStore) All(ctx context.Context) ([]*model.AuditEntry, error) {
	var out []*model.AuditEntry
	if err := txFrom(ctx, r.db).WithContext(ctx).Order("id asc").Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *auditStore) AppendCheckpoint(ctx context.Context, c *model.AuditCheckpoint) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(c).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *auditStore) Checkpoints(ctx context.Context) ([]*model.AuditCheckpoint, error) {
	var out []*model.AuditCheckpoint
	if err := txFrom(ctx, r.db).WithContext(ctx).Order("id asc").Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *auditStore) CountSinceLastCheckpoint(ctx context.Context) (int64, error) {
	var lastEntryID int64
	var cp model.AuditCheckpoint
	err := txFrom(ctx, r.db).WithContext(ctx).Order("id desc").First(&cp).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		lastEntryID = 0
	case err != nil:
		return 0, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	default:
		lastEntryID = cp.ToID
	}

	var count int64
	if err := txFrom(ctx, r.db).WithContext(ctx).Model(&model.AuditEntry{}).Where("id > ?", lastEntryID).Count(&count).Error; err != nil {
		return 0, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return count, nil
}

type encryptionStore struct{ db *gorm.DB }

func (r *encryptionStore) Get(ctx context.Context) (*model.EncryptionMetadata, error) {
	var m model.EncryptionMetadata
	if err := txFrom(ctx, r.db).WithContext(ctx).First(&m).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &m, nil
}

func (r *encryptionStore) Set(ctx context.Context, m *model.EncryptionMetadata) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(m).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}
