package store

import (
	"context"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// SSHHostStore persists the shared, reference-counted SSHHost
// resource. Deletes use set-null on referencing entities rather than
// cascading.
type SSHHostStore interface {
	Create(ctx context.Context, h *model.SSHHost) error
	Get(ctx context.Context, id string) (*model.SSHHost, error)
	GetByName(ctx context.Context, name string) (*model.SSHHost, error)
	List(ctx context.Context) ([]*model.SSHHost, error)
	Update(ctx context.Context, h *model.SSHHost) error
	// Delete sets referencing FKs (CS, SNR, LocalPeer) to NULL, then
	// removes the row.
	Delete(ctx context.Context, id string) error
}

// SponsorStore persists extramural-config Sponsors.
type SponsorStore interface {
	Create(ctx context.Context, s *model.Sponsor) error
	Get(ctx context.Context, id string) (*model.Sponsor, error)
	GetByName(ctx context.Context, name string) (*model.Sponsor, error)
	List(ctx context.Context) ([]*model.Sponsor, error)
	Update(ctx context.Context, s *model.Sponsor) error
	Delete(ctx context.Context, id string) error // cascades its ExtramuralConfigs
}

// LocalPeerStore persists the operator-side extramural identity.
type LocalPeerStore interface {
	Create(ctx context.Context, p *model.LocalPeer) error
	Get(ctx context.Context, id string) (*model.LocalPeer, error)
	GetByName(ctx context.Context, name string) (*model.LocalPeer, error)
	List(ctx context.Context) ([]*model.LocalPeer, error)
	Update(ctx context.Context, p *model.LocalPeer) error
	Delete(ctx context.Context, id string) error
}

// ExtramuralStore persists ExtramuralConfig and its ExtramuralPeer rows.
type ExtramuralStore interface {
	CreateConfig(ctx context.Context, c *model.ExtramuralConfig) error
	GetConfig(ctx context.Context, id string) (*model.ExtramuralConfig, error)
	GetConfigByLocalPeerAndSponsor(ctx context.Context, localPeerID, sponsorID string) (*model.ExtramuralConfig, error)
	ListConfigs(ctx context.Context) ([]*model.ExtramuralConfig, error)
	UpdateConfig(ctx context.Context, c *model.ExtramuralConfig) error
	DeleteConfig(ctx context.Context, id string) error

	AddPeer(ctx context.Context, p *model.ExtramuralPeer) error
	Peers(ctx context.Context, configID string) ([]*model.ExtramuralPeer, error)
	GetPeer(ctx context.Context, id string) (*model.ExtramuralPeer, error)
	UpdatePeer(ctx context.Context, p *model.ExtramuralPeer) error
	DeletePeer(ctx context.Context, id string) error

	// SwitchActivePeer atomically makes peerID the sole active peer
	// for its config; the sqlite implementation additionally carries a
	// database trigger enforcing the invariant as defense in depth.
	SwitchActivePeer(ctx context.Context, configID, peerID string) error
}
