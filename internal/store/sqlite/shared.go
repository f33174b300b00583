package sqlite

import (
	"context"

	"gorm.io/gorm"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

type sshHosts struct{ db *gorm.DB }

func (r *sshHosts) Create(ctx context.Context, h *model.SSHHost) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(h).Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.WithCode(code.ErrStoreConflict, "%s", err.Error())
		}
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *sshHosts) Get(ctx context.Context, id string) (*model.SSHHost, error) {
	var h model.SSHHost
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&h).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &h, nil
}

func (r *sshHosts) GetByName(ctx context.Context, name string) (*model.SSHHost, error) {
	var h model.SSHHost
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("name = ?", name).First(&h).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &h, nil
}

func (r *sshHosts) List(ctx context.Context) ([]*model.SSHHost, error) {
	var out []*model.SSHHost
	if err := txFrom(ctx, r.db).WithContext(ctx).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *sshHosts) Update(ctx context.Context, h *model.SSHHost) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(h).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

// Delete sets referencing FKs to NULL before removing the row, since
// SSHHost is shared and reference-counted rather than owned by any one
// entity.
func (r *sshHosts) Delete(ctx context.Context, id string) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if err := tx.Model(&model.CoordinationServer{}).Where("ssh_host_id = ?", id).Update("ssh_host_id", nil).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	if err := tx.Model(&model.SubnetRouter{}).Where("ssh_host_id = ?", id).Update("ssh_host_id", nil).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	if err := tx.Model(&model.LocalPeer{}).Where("ssh_host_id = ?", id).Update("ssh_host_id", nil).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	if err := tx.Where("id = ?", id).Delete(&model.SSHHost{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

type sponsors struct{ db *gorm.DB }

func (r *sponsors) Create(ctx context.Context, s *model.Sponsor) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.WithCode(code.ErrStoreConflict, "%s", err.Error())
		}
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *sponsors) Get(ctx context.Context, id string) (*model.Sponsor, error) {
	var s model.Sponsor
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &s, nil
}

func (r *sponsors) GetByName(ctx context.Context, name string) (*model.Sponsor, error) {
	var s model.Sponsor
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("name = ?", name).First(&s).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &s, nil
}

func (r *sponsors) List(ctx context.Context) ([]*model.Sponsor, error) {
	var out []*model.Sponsor
	if err := txFrom(ctx, r.db).WithContext(ctx).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *sponsors) Update(ctx context.Context, s *model.Sponsor) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(s).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *sponsors) Delete(ctx context.Context, id string) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	var configIDs []string
	if err := tx.Model(&model.ExtramuralConfig{}).Where("sponsor_id = ?", id).Pluck("id", &configIDs).Error; err != nil {
		return errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	if len(configIDs) > 0 {
		if err := tx.Where("config_id IN ?", configIDs).Delete(&model.ExtramuralPeer{}).Error; err != nil {
			return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
		}
		if err := tx.Where("sponsor_id = ?", id).Delete(&model.ExtramuralConfig{}).Error; err != nil {
			return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
		}
	}
	if err := tx.Where("id = ?", id).Delete(&model.Sponsor{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

type localPeers struct{ db *gorm.DB }

func (r *localPeers) Create(ctx context.Context, p *model.LocalPeer) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.WithCode(code.ErrStoreConflict, "%s", err.Error())
		}
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *localPeers) Get(ctx context.Context, id string) (*model.LocalPeer, error) {
	var p model.LocalPeer
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &p, nil
}

func (r *localPeers) GetByName(ctx context.Context, name string) (*model.LocalPeer, error) {
	var p model.LocalPeer
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("name = ?", name).First(&p).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &p, nil
}

func (r *localPeers) List(ctx context.Context) ([]*model.LocalPeer, error) {
	var out []*model.LocalPeer
	if err := txFrom(ctx, r.db).WithContext(ctx).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *localPeers) Update(ctx context.Context, p *model.LocalPeer) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(p).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *localPeers) Delete(ctx context.Context, id string) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).Delete(&model.LocalPeer{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

type extramural struct{ db *gorm.DB }

func (r *extramural) CreateConfig(ctx context.Context, c *model.ExtramuralConfig) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.WithCode(code.ErrStoreConflict, "%s", err.Error())
		}
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *extramural) GetConfig(ctx context.Context, id string) (*model.ExtramuralConfig, error) {
	var c model.ExtramuralConfig
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &c, nil
}

func (r *extramural) GetConfigByLocalPeerAndSponsor(ctx context.Context, localPeerID, sponsorID string) (*model.ExtramuralConfig, error) {
	var c model.ExtramuralConfig
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("local_peer_id = ? AND sponsor_id = ?", localPeerID, sponsorID).First(&c).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &c, nil
}

func (r *extramural) ListConfigs(ctx context.Context) ([]*model.ExtramuralConfig, error) {
	var out []*model.ExtramuralConfig
	if err := txFrom(ctx, r.db).WithContext(ctx).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *extramural) UpdateConfig(ctx context.Context, c *model.ExtramuralConfig) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(c).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *extramural) DeleteConfig(ctx context.Context, id string) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if err := tx.Where("config_id = ?", id).Delete(&model.ExtramuralPeer{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	if err := tx.Where("id = ?", id).Delete(&model.ExtramuralConfig{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *extramural) AddPeer(ctx context.Context, p *model.ExtramuralPeer) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.WithCode(code.ErrStoreConflict, "%s", err.Error())
		}
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *extramural) Peers(ctx context.Context, configID string) ([]*model.ExtramuralPeer, error) {
	var out []*model.ExtramuralPeer
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("config_id = ?", configID).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *extramural) GetPeer(ctx context.Context, id string) (*model.ExtramuralPeer, error) {
	var p model.ExtramuralPeer
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &p, nil
}

func (r *extramural) UpdatePeer(ctx context.Context, p *model.ExtramuralPeer) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(p).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *extramural) DeletePeer(ctx context.Context, id string) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).Delete(&model.ExtramuralPeer{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

// SwitchActivePeer flips is_active off for every sibling peer before
// setting it on peerID, all inside the writer's transaction, so a
// reader can never observe two peers active at once.
// A migration-installed trigger (see migrations/0002) enforces the
// same invariant at the database layer as defense in depth.
func (r *extramural) SwitchActivePeer(ctx context.Context, configID, peerID string) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if err := tx.Model(&model.ExtramuralPeer{}).Where("config_id = ?", configID).Update("is_active", false).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	res := tx.Model(&model.ExtramuralPeer{}).Where("id = ? AND config_id = ?", peerID, configID).Update("is_active", true)
	if res.Error != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", res.Error.Error())
	}
	if res.RowsAffected == 0 {
		return errors.WithCode(code.ErrStoreNotFound, "peer %s not found in config %s", peerID, configID)
	}
	return nil
}
