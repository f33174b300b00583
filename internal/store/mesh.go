package store

import (
	"context"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// CoordinationServerStore persists the (at most one, in the default
// topology) CoordinationServer and its peer ordering.
type CoordinationServerStore interface {
	Create(ctx context.Context, cs *model.CoordinationServer) error
	Get(ctx context.Context, id string) (*model.CoordinationServer, error)
	GetSingleton(ctx context.Context) (*model.CoordinationServer, error)
	Update(ctx context.Context, cs *model.CoordinationServer) error
	Delete(ctx context.Context, id string) error // cascades SNR/remote/exit + peer order rows

	// PeerOrder returns the CS's persisted total peer order.
	PeerOrder(ctx context.Context, csID string) ([]model.PeerOrderEntry, error)
	// AppendPeerOrder appends entityID at the end of its category (or at
	// the end of the whole order when it is the first of its kind).
	AppendPeerOrder(ctx context.Context, csID string, kind model.EntityKind, entityID string) error
	// SetPeerOrder replaces the full order, used by import to preserve
	// the observed ordering exactly.
	SetPeerOrder(ctx context.Context, csID string, entries []model.PeerOrderEntry) error
	RemoveFromPeerOrder(ctx context.Context, csID string, entityID string) error

	Commands(ctx context.Context, ownerKind model.CommandOwnerKind, ownerID string) ([]model.CommandPair, error)
	SetCommands(ctx context.Context, ownerKind model.CommandOwnerKind, ownerID string, cmds []model.CommandPair) error

	RecordRotation(ctx context.Context, h *model.KeyRotationHistory) error
}

// SubnetRouterStore persists SubnetRouter entities and their LAN lists.
type SubnetRouterStore interface {
	Create(ctx context.Context, s *model.SubnetRouter) error
	Get(ctx context.Context, id string) (*model.SubnetRouter, error)
	ListByCS(ctx context.Context, csID string) ([]*model.SubnetRouter, error)
	Update(ctx context.Context, s *model.SubnetRouter) error
	Delete(ctx context.Context, id string) error

	LANs(ctx context.Context, snrID string) ([]model.SubnetRouterLAN, error)
	SetLANs(ctx context.Context, snrID string, cidrs []string) error
}

// RemoteStore persists Remote (client) entities.
type RemoteStore interface {
	Create(ctx context.Context, r *model.Remote) error
	Get(ctx context.Context, id string) (*model.Remote, error)
	GetByHostname(ctx context.Context, csID, hostname string) (*model.Remote, error)
	ListByCS(ctx context.Context, csID string) ([]*model.Remote, error)
	ListByExitGroup(ctx context.Context, groupID string) ([]*model.Remote, error)
	ListByActiveExit(ctx context.Context, exitID string) ([]*model.Remote, error)
	Update(ctx context.Context, r *model.Remote) error
	Delete(ctx context.Context, id string) error

	UsedVPNAddresses(ctx context.Context, csID string, family int) (map[string]struct{}, error)
}

// ExitNodeStore persists ExitNode entities and their health rows.
type ExitNodeStore interface {
	Create(ctx context.Context, e *model.ExitNode) error
	Get(ctx context.Context, id string) (*model.ExitNode, error)
	ListByCS(ctx context.Context, csID string) ([]*model.ExitNode, error)
	Update(ctx context.Context, e *model.ExitNode) error
	Delete(ctx context.Context, id string) error

	GetHealth(ctx context.Context, exitID string) (*model.ExitHealth, error)
	UpsertHealth(ctx context.Context, h *model.ExitHealth) error
}

// ExitGroupStore persists ExitGroup entities, their membership, and
// the append-only FailoverHistory.
type ExitGroupStore interface {
	Create(ctx context.Context, g *model.ExitGroup) error
	Get(ctx context.Context, id string) (*model.ExitGroup, error)
	List(ctx context.Context) ([]*model.ExitGroup, error)
	Update(ctx context.Context, g *model.ExitGroup) error
	Delete(ctx context.Context, id string) error

	Members(ctx context.Context, groupID string) ([]*model.ExitGroupMember, error)
	SetMember(ctx context.Context, m *model.ExitGroupMember) error
	RemoveMember(ctx context.Context, groupID, exitNodeID string) error

	AppendFailoverHistory(ctx context.Context, h *model.FailoverHistory) error
	FailoverHistory(ctx context.Context, groupID string, limit int) ([]*model.FailoverHistory, error)
}
