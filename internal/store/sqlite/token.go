package sqlite

import (
	"context"

	"gorm.io/gorm"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

type apiTokens struct{ db *gorm.DB }

func (r *apiTokens) Create(ctx context.Context, t *model.APIToken) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(t).Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.WithCode(code.ErrStoreConflict, "%s", err.Error())
		}
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *apiTokens) Get(ctx context.Context, id string) (*model.APIToken, error) {
	var t model.APIToken
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &t, nil
}

func (r *apiTokens) GetByName(ctx context.Context, name string) (*model.APIToken, error) {
	var t model.APIToken
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("name = ?", name).First(&t).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &t, nil
}

func (r *apiTokens) List(ctx context.Context) ([]*model.APIToken, error) {
	var out []*model.APIToken
	if err := txFrom(ctx, r.db).WithContext(ctx).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *apiTokens) Update(ctx context.Context, t *model.APIToken) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(t).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *apiTokens) Delete(ctx context.Context, id string) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).Delete(&model.APIToken{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}
