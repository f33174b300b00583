package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/HappyLadySauce/errors"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/audit"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/genconf"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/identity"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/pkg/utils/snowflake"
	"github.com/fleetkeeper/fleetkeeper/pkg/wireguard/wgcrypto"
)

// ExtramuralSrv manages configurations for external WireGuard services
// (commercial VPNs, employer VPNs) where only the local side is under
// operator control. The sponsor-side endpoint is opaque: fleetkeeper
// never negotiates with it.
type ExtramuralSrv interface {
	AddSponsor(ctx context.Context, name, website string) (*model.Sponsor, error)
	AddLocalPeer(ctx context.Context, name string, sshHostID *string) (*model.LocalPeer, error)
	ImportConfig(ctx context.Context, localPeerName, sponsorName, interfaceName, path string) (*model.ExtramuralConfig, error)
	AddPeer(ctx context.Context, configID string, p *model.ExtramuralPeer) (*model.ExtramuralPeer, error)
	SwitchActivePeer(ctx context.Context, configID, peerName string) error
	RotateLocalKey(ctx context.Context, configID string) error
	// ConfirmRemoteUpdated clears pending_remote_update after the
	// operator has delivered the new public key to the sponsor.
	ConfirmRemoteUpdated(ctx context.Context, configID string) error
	Generate(ctx context.Context, configID string) (string, error)
	ListConfigs(ctx context.Context) ([]*model.ExtramuralConfig, error)
	ShowConfig(ctx context.Context, configID string) (*model.ExtramuralConfig, []*model.ExtramuralPeer, error)
}

type extramuralSrv struct{ *service }

var _ ExtramuralSrv = (*extramuralSrv)(nil)

func (x *extramuralSrv) AddSponsor(ctx context.Context, name, website string) (*model.Sponsor, error) {
	if name == "" {
		return nil, errors.WithCode(code.ErrInvariantViolation, "sponsor name is required")
	}
	id, err := snowflake.GenerateID()
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
	}
	sp := &model.Sponsor{ID: id, Name: name, Website: website}
	err = x.mutate(ctx, audit.EntryInput{
		EventType: model.EventAddPeer,
		Category:  "extramural",
		Severity:  "info",
		EntityID:  sp.ID,
		Details:   map[string]string{"sponsor": name},
	}, func(ctx context.Context) error {
		return x.store.Sponsors().Create(ctx, sp)
	})
	if err != nil {
		return nil, err
	}
	return sp, nil
}

func (x *extramuralSrv) AddLocalPeer(ctx context.Context, name string, sshHostID *string) (*model.LocalPeer, error) {
	if name == "" {
		return nil, errors.WithCode(code.ErrInvariantViolation, "local peer name is required")
	}
	_, pub, err := wgcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	id, err := snowflake.GenerateID()
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
	}
	lp := &model.LocalPeer{
		ID:            id,
		PermanentGUID: identity.Assign(pub),
		Name:          name,
		SSHHostID:     sshHostID,
	}
	err = x.mutate(ctx, audit.EntryInput{
		EventType:           model.EventAddPeer,
		Category:            "extramural",
		Severity:            "info",
		EntityID:            lp.ID,
		EntityPermanentGUID: lp.PermanentGUID,
		Details:             map[string]string{"local_peer": name},
	}, func(ctx context.Context) error {
		return x.store.LocalPeers().Create(ctx, lp)
	})
	if err != nil {
		return nil, err
	}
	return lp, nil
}

// ImportConfig parses a sponsor-provided `.conf` into an extramural
// config plus its peer set; the first peer becomes active.
func (x *extramuralSrv) ImportConfig(ctx context.Context, localPeerName, sponsorName, interfaceName, path string) (*model.ExtramuralConfig, error) {
	lp, err := x.store.LocalPeers().GetByName(ctx, localPeerName)
	if err != nil {
		return nil, err
	}
	sp, err := x.store.Sponsors().GetByName(ctx, sponsorName)
	if err != nil {
		return nil, err
	}

	f, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if f.Interface == nil {
		return nil, errors.WithCode(code.ErrParseUnterminatedSection, "%s has no [Interface] section", path)
	}
	priv := f.Interface.FirstValue("PrivateKey")
	if err := wgcrypto.ValidateKey(priv); err != nil {
		return nil, err
	}
	pub, err := wgcrypto.DerivePublicKey(priv)
	if err != nil {
		return nil, err
	}

	id, err := snowflake.GenerateID()
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
	}
	cfg := &model.ExtramuralConfig{
		ID:               id,
		LocalPeerID:      lp.ID,
		SponsorID:        sp.ID,
		PermanentGUID:    identity.Assign(pub),
		PrivateKey:       priv,
		CurrentPublicKey: pub,
		DNS:              strings.Join(f.Interface.FieldValues("DNS"), ", "),
		InterfaceName:    interfaceName,
	}
	for _, a := range f.Interface.FieldValues("Address") {
		if strings.Contains(a, ":") {
			cfg.AssignedV6 = a
		} else {
			cfg.AssignedV4 = a
		}
	}
	if mtu := f.Interface.FirstValue("MTU"); mtu != "" {
		cfg.MTU, _ = strconv.Atoi(mtu)
	}
	if lp := f.Interface.FirstValue("ListenPort"); lp != "" {
		if port, err := strconv.Atoi(lp); err == nil {
			cfg.ListenPort = &port
		}
	}
	if err := model.ValidateExtramuralConfig(cfg); err != nil {
		return nil, err
	}

	var peers []*model.ExtramuralPeer
	for i, p := range f.Peers {
		pid, err := snowflake.GenerateID()
		if err != nil {
			return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
		}
		ep := &model.ExtramuralPeer{
			ID:         pid,
			ConfigID:   cfg.ID,
			Name:       peerHostname(p, i),
			PublicKey:  p.FirstValue("PublicKey"),
			Endpoint:   p.FirstValue("Endpoint"),
			AllowedIPs: joinedFieldText(p, "AllowedIPs"),
			PSK:        p.FirstValue("PresharedKey"),
			IsActive:   i == 0,
		}
		if ka := p.FirstValue("PersistentKeepalive"); ka != "" {
			if n, err := strconv.Atoi(ka); err == nil {
				ep.Keepalive = &n
			}
		}
		peers = append(peers, ep)
	}
	if err := model.ValidateExactlyOneActivePeer(peers); err != nil {
		return nil, err
	}

	err = x.mutate(ctx, audit.EntryInput{
		EventType:           model.EventAddPeer,
		Category:            "extramural",
		Severity:            "info",
		EntityID:            cfg.ID,
		EntityPermanentGUID: cfg.PermanentGUID,
		Details:             map[string]string{"local_peer": localPeerName, "sponsor": sponsorName, "interface": interfaceName},
	}, func(ctx context.Context) error {
		if err := x.store.Extramural().CreateConfig(ctx, cfg); err != nil {
			return err
		}
		for _, p := range peers {
			if err := x.store.Extramural().AddPeer(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (x *extramuralSrv) AddPeer(ctx context.Context, configID string, p *model.ExtramuralPeer) (*model.ExtramuralPeer, error) {
	if p.PublicKey == "" || p.Endpoint == "" {
		return nil, errors.WithCode(code.ErrEndpointOrAddressRequired, "extramural peer needs a public key and an endpoint")
	}
	if p.ID == "" {
		id, err := snowflake.GenerateID()
		if err != nil {
			return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
		}
		p.ID = id
	}
	p.ConfigID = configID

	err := x.mutate(ctx, audit.EntryInput{
		EventType: model.EventAddPeer,
		Category:  "extramural",
		Severity:  "info",
		EntityID:  configID,
		Details:   map[string]string{"peer": p.Name},
	}, func(ctx context.Context) error {
		existing, err := x.store.Extramural().Peers(ctx, configID)
		if err != nil {
			return err
		}
		// The first peer of a config is active by definition.
		p.IsActive = len(existing) == 0
		return x.store.Extramural().AddPeer(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (x *extramuralSrv) SwitchActivePeer(ctx context.Context, configID, peerName string) error {
	return x.mutate(ctx, audit.EntryInput{
		EventType: model.EventSwitchActiveExtramuralPeer,
		Category:  "extramural",
		Severity:  "notice",
		EntityID:  configID,
		Details:   map[string]string{"peer": peerName},
	}, func(ctx context.Context) error {
		peers, err := x.store.Extramural().Peers(ctx, configID)
		if err != nil {
			return err
		}
		for _, p := range peers {
			if p.Name == peerName {
				return x.store.Extramural().SwitchActivePeer(ctx, configID, p.ID)
			}
		}
		return errors.WithCode(code.ErrStoreNotFound, "no peer named %q in config %s", peerName, configID)
	})
}

// RotateLocalKey rotates the local key pair and raises
// pending_remote_update: the sponsor still has the old public key until
// the operator confirms otherwise.
func (x *extramuralSrv) RotateLocalKey(ctx context.Context, configID string) error {
	return x.mutate(ctx, audit.EntryInput{
		EventType: model.EventRotateKeys,
		Category:  "extramural",
		Severity:  "notice",
		EntityID:  configID,
	}, func(ctx context.Context) error {
		cfg, err := x.store.Extramural().GetConfig(ctx, configID)
		if err != nil {
			return err
		}
		priv, pub, err := wgcrypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		hist := &model.KeyRotationHistory{
			EntityKind:    "extramural_config",
			EntityID:      cfg.ID,
			PermanentGUID: cfg.PermanentGUID,
			OldPublicKey:  cfg.CurrentPublicKey,
			NewPublicKey:  pub,
			RotatedAt:     time.Now().UTC(),
		}
		cfg.PrivateKey, cfg.CurrentPublicKey = priv, pub
		now := time.Now().UTC()
		cfg.LastKeyRotationAt = &now
		cfg.PendingRemoteUpdate = true
		if err := x.store.Extramural().UpdateConfig(ctx, cfg); err != nil {
			return err
		}
		return x.store.CoordinationServers().RecordRotation(ctx, hist)
	})
}

func (x *extramuralSrv) ConfirmRemoteUpdated(ctx context.Context, configID string) error {
	return x.mutate(ctx, audit.EntryInput{
		EventType: model.EventRotateKeys,
		Category:  "extramural",
		Severity:  "info",
		EntityID:  configID,
		Details:   map[string]string{"operation": "confirm_remote_updated"},
	}, func(ctx context.Context) error {
		cfg, err := x.store.Extramural().GetConfig(ctx, configID)
		if err != nil {
			return err
		}
		cfg.PendingRemoteUpdate = false
		return x.store.Extramural().UpdateConfig(ctx, cfg)
	})
}

func (x *extramuralSrv) Generate(ctx context.Context, configID string) (string, error) {
	cfg, err := x.store.Extramural().GetConfig(ctx, configID)
	if err != nil {
		return "", err
	}
	peers, err := x.store.Extramural().Peers(ctx, configID)
	if err != nil {
		return "", err
	}
	var active *model.ExtramuralPeer
	for _, p := range peers {
		if p.IsActive {
			active = p
			break
		}
	}

	v := genconf.ExtramuralView{
		PrivateKey: cfg.PrivateKey,
		V4Address:  cfg.AssignedV4,
		V6Address:  cfg.AssignedV6,
		DNS:        cfg.DNS,
		MTU:        cfg.MTU,
		ActivePeer: active,
	}
	if cfg.ListenPort != nil {
		v.ListenPort = *cfg.ListenPort
	}
	return genconf.GenerateExtramural(v)
}

func (x *extramuralSrv) ListConfigs(ctx context.Context) ([]*model.ExtramuralConfig, error) {
	return x.store.Extramural().ListConfigs(ctx)
}

func (x *extramuralSrv) ShowConfig(ctx context.Context, configID string) (*model.ExtramuralConfig, []*model.ExtramuralPeer, error) {
	cfg, err := x.store.Extramural().GetConfig(ctx, configID)
	if err != nil {
		return nil, nil, err
	}
	peers, err := x.store.Extramural().Peers(ctx, configID)
	if err != nil {
		return nil, nil, err
	}
	return cfg, peers, nil
}
