package service

import (
	"context"
	"net/netip"
	"time"

	"github.com/HappyLadySauce/errors"
	"k8s.io/klog/v2"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/audit"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/identity"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/ipalloc"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/pkg/utils/snowflake"
	"github.com/fleetkeeper/fleetkeeper/pkg/wireguard/wgcrypto"
)

// MeshSrv covers the day-2 mesh operations: topology init, peer
// add/remove, key rotation, PSK management, access-level changes, and
// exit attachment.
type MeshSrv interface {
	InitTopology(ctx context.Context, req InitTopologyRequest) (*model.CoordinationServer, error)
	AddRemote(ctx context.Context, req AddRemoteRequest) (*model.Remote, error)
	AddSubnetRouter(ctx context.Context, req AddSubnetRouterRequest) (*model.SubnetRouter, error)
	AddExitNode(ctx context.Context, req AddExitNodeRequest) (*model.ExitNode, error)
	AddExitGroup(ctx context.Context, name string, strategy model.ExitStrategy, members []model.ExitGroupMember) (*model.ExitGroup, error)
	RemovePeer(ctx context.Context, kind model.EntityKind, id string) error
	RotateKeys(ctx context.Context, kind model.EntityKind, id, reason string) (*model.KeyRotationHistory, error)
	RotateCSKeys(ctx context.Context, reason string) (*model.KeyRotationHistory, error)
	SetPSK(ctx context.Context, remoteID, psk string) (string, error)
	ChangeAccessLevel(ctx context.Context, remoteID string, level model.AccessLevel, lanSubset []string, customAllowedIPs string) error
	AttachExit(ctx context.Context, remoteID string, exitNodeID, exitGroupID *string) error
	AllocateAddress(ctx context.Context, csID string, family int) (string, error)
	Wipe(ctx context.Context, csID string) error
}

// InitTopologyRequest creates the coordination server from scratch
// (the init wizard path; import is the other way a CS comes to exist).
type InitTopologyRequest struct {
	Hostname       string `validate:"required"`
	PublicEndpoint string `validate:"required"`
	V4CIDR         string
	V6CIDR         string
	ListenPort     int `validate:"required,min=1,max=65535"`
	SSHHostID      *string
}

type AddRemoteRequest struct {
	CSID        string `validate:"required"`
	Hostname    string `validate:"required"`
	AccessLevel model.AccessLevel
	// PublicKey makes the remote provisional: known only by its public
	// key until its client config is supplied. Empty generates a pair.
	PublicKey   string
	ExitNodeID  *string
	ExitGroupID *string
	WithPSK     bool
}

type AddSubnetRouterRequest struct {
	CSID           string `validate:"required"`
	Hostname       string `validate:"required"`
	PublicEndpoint string // empty means CGNAT: no Endpoint line in the CS peer block
	AdvertisedLANs []string
	SSHHostID      *string
}

type AddExitNodeRequest struct {
	CSID           string `validate:"required"`
	Hostname       string `validate:"required"`
	PublicEndpoint string `validate:"required"`
	ListenPort     int    `validate:"required,min=1,max=65535"`
	WANInterface   string // for the NAT PostUp/PostDown template; defaults to eth0
}

type meshSrv struct{ *service }

var _ MeshSrv = (*meshSrv)(nil)

func (m *meshSrv) InitTopology(ctx context.Context, req InitTopologyRequest) (*model.CoordinationServer, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.V4CIDR == "" && req.V6CIDR == "" {
		return nil, errors.WithCode(code.ErrInvariantViolation, "at least one of v4 or v6 CIDR is required")
	}

	priv, pub, err := wgcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	id, err := snowflake.GenerateID()
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
	}

	cs := &model.CoordinationServer{
		ID:               id,
		Hostname:         req.Hostname,
		PublicEndpoint:   req.PublicEndpoint,
		V4CIDR:           req.V4CIDR,
		V6CIDR:           req.V6CIDR,
		PermanentGUID:    identity.Assign(pub),
		PrivateKey:       priv,
		CurrentPublicKey: pub,
		ListenPort:       req.ListenPort,
		SSHHostID:        req.SSHHostID,
	}
	// The CS takes the first host address in each of its ranges.
	if req.V4CIDR != "" {
		p, err := netip.ParsePrefix(req.V4CIDR)
		if err != nil {
			return nil, errors.WithCode(code.ErrInvariantViolation, "invalid v4 CIDR %q: %s", req.V4CIDR, err.Error())
		}
		cs.V4Address = p.Masked().Addr().Next().String()
	}
	if req.V6CIDR != "" {
		p, err := netip.ParsePrefix(req.V6CIDR)
		if err != nil {
			return nil, errors.WithCode(code.ErrInvariantViolation, "invalid v6 CIDR %q: %s", req.V6CIDR, err.Error())
		}
		cs.V6Address = p.Masked().Addr().Next().String()
	}

	err = m.mutate(ctx, audit.EntryInput{
		EventType:           model.EventAddPeer,
		Category:            "topology",
		Severity:            "info",
		EntityID:            cs.ID,
		EntityPermanentGUID: cs.PermanentGUID,
		Details:             map[string]string{"hostname": cs.Hostname, "role": "coordination_server"},
	}, func(ctx context.Context) error {
		return m.store.CoordinationServers().Create(ctx, cs)
	})
	if err != nil {
		return nil, err
	}
	klog.V(1).InfoS("initialized topology", "cs", cs.Hostname, "endpoint", cs.PublicEndpoint)
	return cs, nil
}

func (m *meshSrv) AddRemote(ctx context.Context, req AddRemoteRequest) (*model.Remote, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	level := req.AccessLevel
	if level == "" {
		level = model.AccessVPNOnly
	}
	if level == model.AccessExitOnly && req.ExitNodeID == nil && req.ExitGroupID == nil {
		return nil, errors.WithCode(code.ErrExitRequired, "exit_only remote %q needs an exit node or group", req.Hostname)
	}

	id, err := snowflake.GenerateID()
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
	}

	r := &model.Remote{
		ID:          id,
		CSID:        req.CSID,
		Hostname:    req.Hostname,
		AccessLevel: level,
		ExitNodeID:  req.ExitNodeID,
		ExitGroupID: req.ExitGroupID,
	}
	if req.PublicKey != "" {
		// Provisional peer: public key only, private key unknown.
		if err := wgcrypto.ValidateKey(req.PublicKey); err != nil {
			return nil, err
		}
		r.CurrentPublicKey = req.PublicKey
	} else {
		priv, pub, err := wgcrypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		r.PrivateKey, r.CurrentPublicKey = priv, pub
	}
	r.PermanentGUID = identity.Assign(r.CurrentPublicKey)

	if req.WithPSK {
		psk, err := wgcrypto.GeneratePresharedKey()
		if err != nil {
			return nil, err
		}
		r.PSK = psk
	}
	if req.ExitNodeID != nil {
		r.ActiveExitID = req.ExitNodeID
	}

	err = m.mutate(ctx, audit.EntryInput{
		EventType:           model.EventAddPeer,
		Category:            "mesh",
		Severity:            "info",
		EntityType:          model.EntityRemote,
		EntityID:            r.ID,
		EntityPermanentGUID: r.PermanentGUID,
		Details:             map[string]string{"hostname": r.Hostname, "access_level": string(level)},
	}, func(ctx context.Context) error {
		cs, err := m.store.CoordinationServers().Get(ctx, req.CSID)
		if err != nil {
			return err
		}
		if cs.V4CIDR != "" {
			v4, err := m.allocate(ctx, req.CSID, 4, model.EntityRemote)
			if err != nil {
				return err
			}
			r.VPNAddressV4 = v4
		}
		if cs.V6CIDR != "" {
			v6, err := m.allocate(ctx, req.CSID, 6, model.EntityRemote)
			if err != nil {
				return err
			}
			r.VPNAddressV6 = v6
		}

		if err := model.ValidateRemote(r); err != nil {
			return err
		}
		if err := m.store.Remotes().Create(ctx, r); err != nil {
			return err
		}
		// New peers append at the end of their category in the CS order.
		return m.store.CoordinationServers().AppendPeerOrder(ctx, req.CSID, model.EntityRemote, r.ID)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (m *meshSrv) AddSubnetRouter(ctx context.Context, req AddSubnetRouterRequest) (*model.SubnetRouter, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	priv, pub, err := wgcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	id, err := snowflake.GenerateID()
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
	}

	snr := &model.SubnetRouter{
		ID:               id,
		CSID:             req.CSID,
		Hostname:         req.Hostname,
		PermanentGUID:    identity.Assign(pub),
		PrivateKey:       priv,
		CurrentPublicKey: pub,
		PublicEndpoint:   req.PublicEndpoint,
		HasEndpoint:      req.PublicEndpoint != "",
		AdvertisedLANs:   req.AdvertisedLANs,
		SSHHostID:        req.SSHHostID,
	}

	err = m.mutate(ctx, audit.EntryInput{
		EventType:           model.EventAddPeer,
		Category:            "mesh",
		Severity:            "info",
		EntityType:          model.EntitySubnetRouter,
		EntityID:            snr.ID,
		EntityPermanentGUID: snr.PermanentGUID,
		Details:             map[string]string{"hostname": snr.Hostname},
	}, func(ctx context.Context) error {
		addr, err := m.allocate(ctx, req.CSID, 4, model.EntitySubnetRouter)
		if err != nil {
			return err
		}
		snr.VPNAddress = addr
		snr.AllowedIPs = hostAddrs(addr, "")
		for _, lan := range req.AdvertisedLANs {
			snr.AllowedIPs += ", " + lan
		}
		if err := model.ValidateSubnetRouter(snr); err != nil {
			return err
		}
		if err := m.store.SubnetRouters().Create(ctx, snr); err != nil {
			return err
		}
		if err := m.store.SubnetRouters().SetLANs(ctx, snr.ID, req.AdvertisedLANs); err != nil {
			return err
		}
		return m.store.CoordinationServers().AppendPeerOrder(ctx, req.CSID, model.EntitySubnetRouter, snr.ID)
	})
	if err != nil {
		return nil, err
	}
	return snr, nil
}

func (m *meshSrv) AddExitNode(ctx context.Context, req AddExitNodeRequest) (*model.ExitNode, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	priv, pub, err := wgcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	id, err := snowflake.GenerateID()
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
	}

	e := &model.ExitNode{
		ID:               id,
		CSID:             req.CSID,
		Hostname:         req.Hostname,
		PublicEndpoint:   req.PublicEndpoint,
		ListenPort:       req.ListenPort,
		PermanentGUID:    identity.Assign(pub),
		PrivateKey:       priv,
		CurrentPublicKey: pub,
	}
	wan := req.WANInterface
	if wan == "" {
		wan = "eth0"
	}

	err = m.mutate(ctx, audit.EntryInput{
		EventType:           model.EventAddPeer,
		Category:            "mesh",
		Severity:            "info",
		EntityType:          model.EntityExitNode,
		EntityID:            e.ID,
		EntityPermanentGUID: e.PermanentGUID,
		Details:             map[string]string{"hostname": e.Hostname, "endpoint": e.PublicEndpoint},
	}, func(ctx context.Context) error {
		addr, err := m.allocate(ctx, req.CSID, 4, model.EntityExitNode)
		if err != nil {
			return err
		}
		e.VPNAddress = addr
		if err := m.store.ExitNodes().Create(ctx, e); err != nil {
			return err
		}
		// System-originated NAT commands are templates, re-rendered
		// from params on every generation.
		params := map[string]string{"iface": "wg0", "wan": wan}
		cmds := []model.CommandPair{
			{Direction: model.DirPostUp, Template: model.TemplateExitNAT, Params: params},
			{Direction: model.DirPostDown, Template: model.TemplateExitNAT, Params: params},
		}
		if err := m.store.CoordinationServers().SetCommands(ctx, model.OwnerExit, e.ID, cmds); err != nil {
			return err
		}
		if err := m.store.ExitNodes().UpsertHealth(ctx, &model.ExitHealth{
			ExitNodeID: e.ID,
			State:      model.HealthHealthy,
		}); err != nil {
			return err
		}
		return m.store.CoordinationServers().AppendPeerOrder(ctx, req.CSID, model.EntityExitNode, e.ID)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (m *meshSrv) AddExitGroup(ctx context.Context, name string, strategy model.ExitStrategy, members []model.ExitGroupMember) (*model.ExitGroup, error) {
	if name == "" {
		return nil, errors.WithCode(code.ErrInvariantViolation, "exit group name is required")
	}
	switch strategy {
	case model.StrategyPriority, model.StrategyRoundRobin, model.StrategyLatency:
	default:
		return nil, errors.WithCode(code.ErrInvariantViolation, "unrecognized strategy %q", strategy)
	}
	id, err := snowflake.GenerateID()
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
	}
	g := &model.ExitGroup{
		ID:                  id,
		Name:                name,
		Strategy:            strategy,
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
	}

	err = m.mutate(ctx, audit.EntryInput{
		EventType: model.EventAddPeer,
		Category:  "failover",
		Severity:  "info",
		EntityID:  g.ID,
		Details:   map[string]string{"group": name, "strategy": string(strategy)},
	}, func(ctx context.Context) error {
		if err := m.store.ExitGroups().Create(ctx, g); err != nil {
			return err
		}
		for i := range members {
			members[i].GroupID = g.ID
			if err := m.store.ExitGroups().SetMember(ctx, &members[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (m *meshSrv) RemovePeer(ctx context.Context, kind model.EntityKind, id string) error {
	return m.mutate(ctx, audit.EntryInput{
		EventType:  model.EventRemovePeer,
		Category:   "mesh",
		Severity:   "notice",
		EntityType: kind,
		EntityID:   id,
	}, func(ctx context.Context) error {
		var csID string
		switch kind {
		case model.EntityRemote:
			r, err := m.store.Remotes().Get(ctx, id)
			if err != nil {
				return err
			}
			csID = r.CSID
			if err := m.store.Remotes().Delete(ctx, id); err != nil {
				return err
			}
		case model.EntitySubnetRouter:
			snr, err := m.store.SubnetRouters().Get(ctx, id)
			if err != nil {
				return err
			}
			csID = snr.CSID
			if err := m.store.SubnetRouters().Delete(ctx, id); err != nil {
				return err
			}
		case model.EntityExitNode:
			e, err := m.store.ExitNodes().Get(ctx, id)
			if err != nil {
				return err
			}
			csID = e.CSID
			if err := m.store.ExitNodes().Delete(ctx, id); err != nil {
				return err
			}
		default:
			return errors.WithCode(code.ErrStoreNotFound, "unknown entity kind %q", kind)
		}
		return m.store.CoordinationServers().RemoveFromPeerOrder(ctx, csID, id)
	})
}

func (m *meshSrv) RotateKeys(ctx context.Context, kind model.EntityKind, id, reason string) (*model.KeyRotationHistory, error) {
	var hist *model.KeyRotationHistory
	err := m.mutate(ctx, audit.EntryInput{
		EventType:  model.EventRotateKeys,
		Category:   "identity",
		Severity:   "notice",
		EntityType: kind,
		EntityID:   id,
		Details:    map[string]string{"reason": reason},
	}, func(ctx context.Context) error {
		switch kind {
		case model.EntityRemote:
			r, err := m.store.Remotes().Get(ctx, id)
			if err != nil {
				return err
			}
			rot, err := identity.Rotate(kind, id, r.PermanentGUID, r.CurrentPublicKey, reason)
			if err != nil {
				return err
			}
			r.PrivateKey, r.CurrentPublicKey = rot.NewPrivateKey, rot.NewPublicKey
			now := time.Now().UTC()
			r.LastRotatedAt = &now
			hist = rot.History
			if err := m.store.Remotes().Update(ctx, r); err != nil {
				return err
			}
			return m.store.CoordinationServers().RecordRotation(ctx, rot.History)

		case model.EntitySubnetRouter:
			snr, err := m.store.SubnetRouters().Get(ctx, id)
			if err != nil {
				return err
			}
			rot, err := identity.Rotate(kind, id, snr.PermanentGUID, snr.CurrentPublicKey, reason)
			if err != nil {
				return err
			}
			snr.PrivateKey, snr.CurrentPublicKey = rot.NewPrivateKey, rot.NewPublicKey
			hist = rot.History
			if err := m.store.SubnetRouters().Update(ctx, snr); err != nil {
				return err
			}
			return m.store.CoordinationServers().RecordRotation(ctx, rot.History)

		case model.EntityExitNode:
			e, err := m.store.ExitNodes().Get(ctx, id)
			if err != nil {
				return err
			}
			rot, err := identity.Rotate(kind, id, e.PermanentGUID, e.CurrentPublicKey, reason)
			if err != nil {
				return err
			}
			e.PrivateKey, e.CurrentPublicKey = rot.NewPrivateKey, rot.NewPublicKey
			hist = rot.History
			if err := m.store.ExitNodes().Update(ctx, e); err != nil {
				return err
			}
			return m.store.CoordinationServers().RecordRotation(ctx, rot.History)

		default:
			return errors.WithCode(code.ErrStoreNotFound, "unknown entity kind %q", kind)
		}
	})
	if err != nil {
		return nil, err
	}
	return hist, nil
}

func (m *meshSrv) RotateCSKeys(ctx context.Context, reason string) (*model.KeyRotationHistory, error) {
	var hist *model.KeyRotationHistory
	err := m.mutate(ctx, audit.EntryInput{
		EventType: model.EventRotateKeys,
		Category:  "identity",
		Severity:  "notice",
		Details:   map[string]string{"reason": reason, "role": "coordination_server"},
	}, func(ctx context.Context) error {
		cs, err := m.store.CoordinationServers().GetSingleton(ctx)
		if err != nil {
			return err
		}
		rot, err := identity.Rotate("", cs.ID, cs.PermanentGUID, cs.CurrentPublicKey, reason)
		if err != nil {
			return err
		}
		cs.PrivateKey, cs.CurrentPublicKey = rot.NewPrivateKey, rot.NewPublicKey
		hist = rot.History
		if err := m.store.CoordinationServers().Update(ctx, cs); err != nil {
			return err
		}
		return m.store.CoordinationServers().RecordRotation(ctx, rot.History)
	})
	if err != nil {
		return nil, err
	}
	return hist, nil
}

// SetPSK sets (or, with psk == "", generates) the preshared key for a
// remote and returns the value in effect.
func (m *meshSrv) SetPSK(ctx context.Context, remoteID, psk string) (string, error) {
	if psk == "" {
		generated, err := wgcrypto.GeneratePresharedKey()
		if err != nil {
			return "", err
		}
		psk = generated
	} else if err := wgcrypto.ValidateKey(psk); err != nil {
		return "", err
	}

	err := m.mutate(ctx, audit.EntryInput{
		EventType:  model.EventRotateKeys,
		Category:   "identity",
		Severity:   "notice",
		EntityType: model.EntityRemote,
		EntityID:   remoteID,
		Details:    map[string]string{"kind": "psk"},
	}, func(ctx context.Context) error {
		r, err := m.store.Remotes().Get(ctx, remoteID)
		if err != nil {
			return err
		}
		r.PSK = psk
		return m.store.Remotes().Update(ctx, r)
	})
	if err != nil {
		return "", err
	}
	return psk, nil
}

func (m *meshSrv) ChangeAccessLevel(ctx context.Context, remoteID string, level model.AccessLevel, lanSubset []string, customAllowedIPs string) error {
	return m.mutate(ctx, audit.EntryInput{
		EventType:  model.EventChangeAccessLevel,
		Category:   "policy",
		Severity:   "notice",
		EntityType: model.EntityRemote,
		EntityID:   remoteID,
		Details:    map[string]string{"access_level": string(level)},
	}, func(ctx context.Context) error {
		r, err := m.store.Remotes().Get(ctx, remoteID)
		if err != nil {
			return err
		}
		r.AccessLevel = level
		r.LANSubset = lanSubset
		r.CustomAllowedIPs = customAllowedIPs
		if err := model.ValidateRemote(r); err != nil {
			return err
		}
		return m.store.Remotes().Update(ctx, r)
	})
}

func (m *meshSrv) AttachExit(ctx context.Context, remoteID string, exitNodeID, exitGroupID *string) error {
	return m.mutate(ctx, audit.EntryInput{
		EventType:  model.EventAttachExit,
		Category:   "policy",
		Severity:   "notice",
		EntityType: model.EntityRemote,
		EntityID:   remoteID,
	}, func(ctx context.Context) error {
		r, err := m.store.Remotes().Get(ctx, remoteID)
		if err != nil {
			return err
		}
		r.ExitNodeID = exitNodeID
		r.ExitGroupID = exitGroupID
		if exitNodeID != nil {
			r.ActiveExitID = exitNodeID
		} else if exitGroupID == nil {
			r.ActiveExitID = nil
		}
		if err := model.ValidateRemote(r); err != nil {
			return err
		}
		return m.store.Remotes().Update(ctx, r)
	})
}

// AllocateAddress hands out the next free VPN address in a family.
// Exposed for the service layer's own use and for the CLI's dry-run
// inspection; peer creation calls the internal variant inside its own
// transaction.
func (m *meshSrv) AllocateAddress(ctx context.Context, csID string, family int) (string, error) {
	return m.allocate(ctx, csID, family, model.EntityRemote)
}

// allocate hands out the next free address for kind, scanning near the
// category's existing block so remotes gap-fill among remotes instead
// of reusing low infrastructure addresses: with remotes at .30, .31,
// .33 the next remote gets .32.
func (m *meshSrv) allocate(ctx context.Context, csID string, family int, kind model.EntityKind) (string, error) {
	cs, err := m.store.CoordinationServers().Get(ctx, csID)
	if err != nil {
		return "", err
	}
	cidr := cs.V4CIDR
	if family == 6 {
		cidr = cs.V6CIDR
	}
	if cidr == "" {
		return "", errors.WithCode(code.ErrAddressExhausted, "coordination server has no v%d range", family)
	}
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return "", errors.WithCode(code.ErrInvariantViolation, "invalid CIDR %q: %s", cidr, err.Error())
	}

	usedStrs, err := m.store.Remotes().UsedVPNAddresses(ctx, csID, family)
	if err != nil {
		return "", err
	}
	used := make(map[netip.Addr]struct{}, len(usedStrs))
	for a := range usedStrs {
		if ip, err := netip.ParseAddr(bareAddr(a)); err == nil {
			used[ip] = struct{}{}
		}
	}

	own, err := m.categoryAddresses(ctx, csID, family, kind)
	if err != nil {
		return "", err
	}

	alloc := ipalloc.NewAllocator(prefix, used, nil)
	ip, err := alloc.AllocateNear(own)
	if err != nil {
		return "", err
	}
	return ip.String(), nil
}

// categoryAddresses collects the addresses already held by one entity
// kind, the seed set for AllocateNear.
func (m *meshSrv) categoryAddresses(ctx context.Context, csID string, family int, kind model.EntityKind) (map[netip.Addr]struct{}, error) {
	own := map[netip.Addr]struct{}{}
	add := func(a string) {
		if ip, err := netip.ParseAddr(bareAddr(a)); err == nil {
			own[ip] = struct{}{}
		}
	}
	switch kind {
	case model.EntityRemote:
		remotes, err := m.store.Remotes().ListByCS(ctx, csID)
		if err != nil {
			return nil, err
		}
		for _, r := range remotes {
			if family == 6 {
				add(r.VPNAddressV6)
			} else {
				add(r.VPNAddressV4)
			}
		}
	case model.EntitySubnetRouter:
		snrs, err := m.store.SubnetRouters().ListByCS(ctx, csID)
		if err != nil {
			return nil, err
		}
		for _, s := range snrs {
			add(s.VPNAddress)
		}
	case model.EntityExitNode:
		exits, err := m.store.ExitNodes().ListByCS(ctx, csID)
		if err != nil {
			return nil, err
		}
		for _, e := range exits {
			add(e.VPNAddress)
		}
	}
	return own, nil
}

// Wipe destroys the coordination server and everything it owns. The
// only way a CS leaves the datastore.
func (m *meshSrv) Wipe(ctx context.Context, csID string) error {
	return m.mutate(ctx, audit.EntryInput{
		EventType: model.EventRemovePeer,
		Category:  "topology",
		Severity:  "critical",
		EntityID:  csID,
		Details:   map[string]string{"operation": "wipe"},
	}, func(ctx context.Context) error {
		return m.store.CoordinationServers().Delete(ctx, csID)
	})
}
