package sqlite

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/google/uuid"
)

type coordinationServers struct{ db *gorm.DB }

func (r *coordinationServers) Create(ctx context.Context, cs *model.CoordinationServer) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(cs).Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.WithCode(code.ErrStoreConflict, "%s", err.Error())
		}
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *coordinationServers) Get(ctx context.Context, id string) (*model.CoordinationServer, error) {
	var cs model.CoordinationServer
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&cs).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &cs, nil
}

func (r *coordinationServers) GetSingleton(ctx context.Context) (*model.CoordinationServer, error) {
	var cs model.CoordinationServer
	if err := txFrom(ctx, r.db).WithContext(ctx).First(&cs).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &cs, nil
}

func (r *coordinationServers) Update(ctx context.Context, cs *model.CoordinationServer) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(cs).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *coordinationServers) Delete(ctx context.Context, id string) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	// Cascade: subnet routers, remotes, exits, and peer-order rows.
	if err := tx.Where("cs_id = ?", id).Delete(&model.SubnetRouter{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	if err := tx.Where("cs_id = ?", id).Delete(&model.Remote{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	if err := tx.Where("cs_id = ?", id).Delete(&model.ExitNode{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	if err := tx.Where("cs_id = ?", id).Delete(&model.PeerOrderEntry{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	if err := tx.Where("id = ?", id).Delete(&model.CoordinationServer{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *coordinationServers) PeerOrder(ctx context.Context, csID string) ([]model.PeerOrderEntry, error) {
	var entries []model.PeerOrderEntry
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("cs_id = ?", csID).Order("position asc").Find(&entries).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return entries, nil
}

func (r *coordinationServers) AppendPeerOrder(ctx context.Context, csID string, kind model.EntityKind, entityID string) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	var maxPos int
	var row struct{ Max int }
	if err := tx.Model(&model.PeerOrderEntry{}).Where("cs_id = ?", csID).Select("COALESCE(MAX(position), -1) as max").Scan(&row).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	maxPos = row.Max + 1
	// A kind already in the order gets its new entry right after its
	// own last entry; every later entry moves down one position.
	var kindRow struct{ Max int }
	if err := tx.Model(&model.PeerOrderEntry{}).Where("cs_id = ? AND entity_kind = ?", csID, kind).Select("COALESCE(MAX(position), -1) as max").Scan(&kindRow).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	if kindRow.Max >= 0 && kindRow.Max+1 < maxPos {
		maxPos = kindRow.Max + 1
		if err := tx.Model(&model.PeerOrderEntry{}).Where("cs_id = ? AND position >= ?", csID, maxPos).Update("position", gorm.Expr("position + 1")).Error; err != nil {
			return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
		}
	}
	entry := model.PeerOrderEntry{ID: uuid.NewString(), CSID: csID, EntityKind: kind, EntityID: entityID, Position: maxPos}
	if err := tx.Create(&entry).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *coordinationServers) SetPeerOrder(ctx context.Context, csID string, entries []model.PeerOrderEntry) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if err := tx.Where("cs_id = ?", csID).Delete(&model.PeerOrderEntry{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	for i := range entries {
		entries[i].CSID = csID
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		entries[i].Position = i
	}
	if len(entries) > 0 {
		if err := tx.Create(&entries).Error; err != nil {
			return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
		}
	}
	return nil
}

func (r *coordinationServers) RemoveFromPeerOrder(ctx context.Context, csID, entityID string) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if err := tx.Where("cs_id = ? AND entity_id = ?", csID, entityID).Delete(&model.PeerOrderEntry{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *coordinationServers) Commands(ctx context.Context, ownerKind model.CommandOwnerKind, ownerID string) ([]model.CommandPair, error) {
	var cmds []model.CommandPair
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("owner_kind = ? AND owner_id = ?", ownerKind, ownerID).Order("sequence asc").Find(&cmds).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	for i := range cmds {
		if cmds[i].ParamsJSON != "" {
			_ = json.Unmarshal([]byte(cmds[i].ParamsJSON), &cmds[i].Params)
		}
	}
	return cmds, nil
}

func (r *coordinationServers) SetCommands(ctx context.Context, ownerKind model.CommandOwnerKind, ownerID string, cmds []model.CommandPair) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if err := tx.Where("owner_kind = ? AND owner_id = ?", ownerKind, ownerID).Delete(&model.CommandPair{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	for i := range cmds {
		cmds[i].OwnerKind = ownerKind
		cmds[i].OwnerID = ownerID
		if cmds[i].ID == "" {
			cmds[i].ID = uuid.NewString()
		}
		cmds[i].Sequence = i
		if len(cmds[i].Params) > 0 {
			b, err := json.Marshal(cmds[i].Params)
			if err != nil {
				return errors.WithCode(code.ErrStoreWriteFailed, "encode command params: %s", err.Error())
			}
			cmds[i].ParamsJSON = string(b)
		}
	}
	if len(cmds) > 0 {
		if err := tx.Create(&cmds).Error; err != nil {
			return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
		}
	}
	return nil
}

func (r *coordinationServers) RecordRotation(ctx context.Context, h *model.KeyRotationHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(h).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

type subnetRouters struct{ db *gorm.DB }

func (r *subnetRouters) Create(ctx context.Context, s *model.SubnetRouter) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.WithCode(code.ErrStoreConflict, "%s", err.Error())
		}
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *subnetRouters) Get(ctx context.Context, id string) (*model.SubnetRouter, error) {
	var s model.SubnetRouter
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &s, nil
}

func (r *subnetRouters) ListByCS(ctx context.Context, csID string) ([]*model.SubnetRouter, error) {
	var out []*model.SubnetRouter
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("cs_id = ?", csID).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *subnetRouters) Update(ctx context.Context, s *model.SubnetRouter) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(s).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *subnetRouters) Delete(ctx context.Context, id string) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if err := tx.Where("snr_id = ?", id).Delete(&model.SubnetRouterLAN{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	if err := tx.Where("id = ?", id).Delete(&model.SubnetRouter{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *subnetRouters) LANs(ctx context.Context, snrID string) ([]model.SubnetRouterLAN, error) {
	var lans []model.SubnetRouterLAN
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("snr_id = ?", snrID).Order("position asc").Find(&lans).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return lans, nil
}

func (r *subnetRouters) SetLANs(ctx context.Context, snrID string, cidrs []string) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if err := tx.Where("snr_id = ?", snrID).Delete(&model.SubnetRouterLAN{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	rows := make([]model.SubnetRouterLAN, 0, len(cidrs))
	for i, c := range cidrs {
		rows = append(rows, model.SubnetRouterLAN{ID: uuid.NewString(), SNRID: snrID, CIDR: c, Position: i})
	}
	if len(rows) > 0 {
		if err := tx.Create(&rows).Error; err != nil {
			return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
		}
	}
	return nil
}

type remotes struct{ db *gorm.DB }

// encodeLANSubset/decodeLANSubset carry the lan_only subset through
// its JSON column.
func encodeLANSubset(m *model.Remote) {
	if len(m.LANSubset) > 0 {
		if b, err := json.Marshal(m.LANSubset); err == nil {
			m.LANSubsetJSON = string(b)
		}
	} else {
		m.LANSubsetJSON = ""
	}
}

func decodeLANSubset(m *model.Remote) {
	if m.LANSubsetJSON != "" {
		_ = json.Unmarshal([]byte(m.LANSubsetJSON), &m.LANSubset)
	}
}

func (r *remotes) Create(ctx context.Context, m *model.Remote) error {
	encodeLANSubset(m)
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.WithCode(code.ErrStoreConflict, "%s", err.Error())
		}
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *remotes) Get(ctx context.Context, id string) (*model.Remote, error) {
	var m model.Remote
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFoundOr(err)
	}
	decodeLANSubset(&m)
	return &m, nil
}

func (r *remotes) GetByHostname(ctx context.Context, csID, hostname string) (*model.Remote, error) {
	var m model.Remote
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("cs_id = ? AND hostname = ?", csID, hostname).First(&m).Error; err != nil {
		return nil, notFoundOr(err)
	}
	decodeLANSubset(&m)
	return &m, nil
}

func (r *remotes) ListByCS(ctx context.Context, csID string) ([]*model.Remote, error) {
	var out []*model.Remote
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("cs_id = ?", csID).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	for _, m := range out {
		decodeLANSubset(m)
	}
	return out, nil
}

func (r *remotes) ListByExitGroup(ctx context.Context, groupID string) ([]*model.Remote, error) {
	var out []*model.Remote
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("exit_group_id = ?", groupID).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *remotes) ListByActiveExit(ctx context.Context, exitID string) ([]*model.Remote, error) {
	var out []*model.Remote
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("active_exit_id = ?", exitID).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *remotes) Update(ctx context.Context, m *model.Remote) error {
	encodeLANSubset(m)
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(m).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *remotes) Delete(ctx context.Context, id string) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).Delete(&model.Remote{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *remotes) UsedVPNAddresses(ctx context.Context, csID string, family int) (map[string]struct{}, error) {
	used := map[string]struct{}{}
	col := "vpn_address_v4"
	if family == 6 {
		col = "vpn_address_v6"
	}

	var addrs []string
	if err := txFrom(ctx, r.db).WithContext(ctx).Model(&model.Remote{}).Where("cs_id = ? AND "+col+" != ''", csID).Pluck(col, &addrs).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	for _, a := range addrs {
		used[a] = struct{}{}
	}

	var cs model.CoordinationServer
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", csID).First(&cs).Error; err == nil {
		if family == 6 && cs.V6Address != "" {
			used[cs.V6Address] = struct{}{}
		}
		if family == 4 && cs.V4Address != "" {
			used[cs.V4Address] = struct{}{}
		}
	}

	var snrs []model.SubnetRouter
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("cs_id = ?", csID).Find(&snrs).Error; err == nil {
		for _, s := range snrs {
			if s.VPNAddress != "" {
				used[s.VPNAddress] = struct{}{}
			}
		}
	}

	var exits []model.ExitNode
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("cs_id = ?", csID).Find(&exits).Error; err == nil {
		for _, e := range exits {
			if e.VPNAddress != "" {
				used[e.VPNAddress] = struct{}{}
			}
		}
	}

	return used, nil
}

type exitNodes struct{ db *gorm.DB }

func (r *exitNodes) Create(ctx context.Context, e *model.ExitNode) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(e).Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.WithCode(code.ErrStoreConflict, "%s", err.Error())
		}
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *exitNodes) Get(ctx context.Context, id string) (*model.ExitNode, error) {
	var e model.ExitNode
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &e, nil
}

func (r *exitNodes) ListByCS(ctx context.Context, csID string) ([]*model.ExitNode, error) {
	var out []*model.ExitNode
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("cs_id = ?", csID).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *exitNodes) Update(ctx context.Context, e *model.ExitNode) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(e).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *exitNodes) Delete(ctx context.Context, id string) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).Delete(&model.ExitNode{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *exitNodes) GetHealth(ctx context.Context, exitID string) (*model.ExitHealth, error) {
	var h model.ExitHealth
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("exit_node_id = ?", exitID).First(&h).Error; err != nil {
		return nil, notFoundOr(err)
	}
	if h.RecentLatenciesJSON != "" {
		_ = json.Unmarshal([]byte(h.RecentLatenciesJSON), &h.RecentLatenciesMS)
	}
	return &h, nil
}

func (r *exitNodes) UpsertHealth(ctx context.Context, h *model.ExitHealth) error {
	if len(h.RecentLatenciesMS) > 0 {
		b, err := json.Marshal(h.RecentLatenciesMS)
		if err != nil {
			return errors.WithCode(code.ErrStoreWriteFailed, "encode latency window: %s", err.Error())
		}
		h.RecentLatenciesJSON = string(b)
	}
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(h).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

type exitGroups struct{ db *gorm.DB }

func (r *exitGroups) Create(ctx context.Context, g *model.ExitGroup) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(g).Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.WithCode(code.ErrStoreConflict, "%s", err.Error())
		}
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *exitGroups) Get(ctx context.Context, id string) (*model.ExitGroup, error) {
	var g model.ExitGroup
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &g, nil
}

func (r *exitGroups) List(ctx context.Context) ([]*model.ExitGroup, error) {
	var out []*model.ExitGroup
	if err := txFrom(ctx, r.db).WithContext(ctx).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *exitGroups) Update(ctx context.Context, g *model.ExitGroup) error {
	if err := txFrom(ctx, r.db).WithContext(ctx).Save(g).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *exitGroups) Delete(ctx context.Context, id string) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if err := tx.Where("group_id = ?", id).Delete(&model.ExitGroupMember{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	if err := tx.Where("id = ?", id).Delete(&model.ExitGroup{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *exitGroups) Members(ctx context.Context, groupID string) ([]*model.ExitGroupMember, error) {
	var out []*model.ExitGroupMember
	if err := txFrom(ctx, r.db).WithContext(ctx).Where("group_id = ?", groupID).Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func (r *exitGroups) SetMember(ctx context.Context, m *model.ExitGroupMember) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := tx.Save(m).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *exitGroups) RemoveMember(ctx context.Context, groupID, exitNodeID string) error {
	tx := txFrom(ctx, r.db).WithContext(ctx)
	if err := tx.Where("group_id = ? AND exit_node_id = ?", groupID, exitNodeID).Delete(&model.ExitGroupMember{}).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *exitGroups) AppendFailoverHistory(ctx context.Context, h *model.FailoverHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if err := txFrom(ctx, r.db).WithContext(ctx).Create(h).Error; err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "%s", err.Error())
	}
	return nil
}

func (r *exitGroups) FailoverHistory(ctx context.Context, groupID string, limit int) ([]*model.FailoverHistory, error) {
	var out []*model.FailoverHistory
	q := txFrom(ctx, r.db).WithContext(ctx).Where("group_id = ?", groupID).Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	return out, nil
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.WithCode(code.ErrStoreNotFound, "%s", err.Error())
	}
	return errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
}
