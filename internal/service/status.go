package service

import (
	"context"
	"time"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// TopologyStatus is the read-only summary the CLI's status command and
// the daemon's /status endpoint share.
type TopologyStatus struct {
	CSHostname    string                           `json:"cs_hostname"`
	CSEndpoint    string                           `json:"cs_endpoint"`
	SubnetRouters int                              `json:"subnet_routers"`
	Remotes       int                              `json:"remotes"`
	ExitNodes     int                              `json:"exit_nodes"`
	ExitHealth    map[string]model.ExitHealthState `json:"exit_health"`
	AuditEntries  int64                            `json:"audit_entries"`
	GeneratedAt   time.Time                        `json:"generated_at"`
}

// PeerSummary is one row of the peer listing, in persisted peer order.
type PeerSummary struct {
	ID          string           `json:"id"`
	Kind        model.EntityKind `json:"kind"`
	Hostname    string           `json:"hostname"`
	VPNAddress  string           `json:"vpn_address"`
	PublicKey   string           `json:"public_key"`
	AccessLevel string           `json:"access_level,omitempty"`
	Provisional bool             `json:"provisional,omitempty"`
}

// StatusSrv serves read-only topology summaries.
type StatusSrv interface {
	// CS returns the singleton coordination server.
	CS(ctx context.Context) (*model.CoordinationServer, error)
	Status(ctx context.Context) (*TopologyStatus, error)
	// Peers lists the CS's peers in the persisted peer order.
	Peers(ctx context.Context) ([]PeerSummary, error)
	Peer(ctx context.Context, id string) (*PeerSummary, error)
}

type statusSrv struct{ *service }

var _ StatusSrv = (*statusSrv)(nil)

func (s *statusSrv) CS(ctx context.Context) (*model.CoordinationServer, error) {
	return s.store.CoordinationServers().GetSingleton(ctx)
}

func (s *statusSrv) Status(ctx context.Context) (*TopologyStatus, error) {
	cs, err := s.store.CoordinationServers().GetSingleton(ctx)
	if err != nil {
		return nil, err
	}
	st := &TopologyStatus{
		CSHostname:  cs.Hostname,
		CSEndpoint:  cs.PublicEndpoint,
		ExitHealth:  map[string]model.ExitHealthState{},
		GeneratedAt: time.Now().UTC(),
	}
	if snrs, err := s.store.SubnetRouters().ListByCS(ctx, cs.ID); err == nil {
		st.SubnetRouters = len(snrs)
	}
	if remotes, err := s.store.Remotes().ListByCS(ctx, cs.ID); err == nil {
		st.Remotes = len(remotes)
	}
	exits, err := s.store.ExitNodes().ListByCS(ctx, cs.ID)
	if err == nil {
		st.ExitNodes = len(exits)
		for _, e := range exits {
			if h, err := s.store.ExitNodes().GetHealth(ctx, e.ID); err == nil {
				st.ExitHealth[e.Hostname] = h.State
			}
		}
	}
	if entries, err := s.store.Audit().All(ctx); err == nil {
		st.AuditEntries = int64(len(entries))
	}
	return st, nil
}

func (s *statusSrv) Peers(ctx context.Context) ([]PeerSummary, error) {
	cs, err := s.store.CoordinationServers().GetSingleton(ctx)
	if err != nil {
		return nil, err
	}
	order, err := s.store.CoordinationServers().PeerOrder(ctx, cs.ID)
	if err != nil {
		return nil, err
	}
	out := make([]PeerSummary, 0, len(order))
	for _, entry := range order {
		ps, err := s.summarize(ctx, entry.EntityKind, entry.EntityID)
		if err != nil {
			continue
		}
		out = append(out, *ps)
	}
	return out, nil
}

func (s *statusSrv) Peer(ctx context.Context, id string) (*PeerSummary, error) {
	for _, kind := range []model.EntityKind{model.EntityRemote, model.EntitySubnetRouter, model.EntityExitNode} {
		if ps, err := s.summarize(ctx, kind, id); err == nil {
			return ps, nil
		}
	}
	_, err := s.store.Remotes().Get(ctx, id)
	return nil, err
}

func (s *statusSrv) summarize(ctx context.Context, kind model.EntityKind, id string) (*PeerSummary, error) {
	switch kind {
	case model.EntitySubnetRouter:
		snr, err := s.store.SubnetRouters().Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &PeerSummary{
			ID: snr.ID, Kind: kind, Hostname: snr.Hostname,
			VPNAddress: snr.VPNAddress, PublicKey: snr.CurrentPublicKey,
		}, nil
	case model.EntityExitNode:
		e, err := s.store.ExitNodes().Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &PeerSummary{
			ID: e.ID, Kind: kind, Hostname: e.Hostname,
			VPNAddress: e.VPNAddress, PublicKey: e.CurrentPublicKey,
		}, nil
	default:
		r, err := s.store.Remotes().Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &PeerSummary{
			ID: r.ID, Kind: model.EntityRemote, Hostname: r.Hostname,
			VPNAddress: r.VPNAddressV4, PublicKey: r.CurrentPublicKey,
			AccessLevel: string(r.AccessLevel), Provisional: r.PrivateKey == "",
		}, nil
	}
}
