package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/audit"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/store"
)

func openTestStore(t *testing.T) store.Factory {
	t.Helper()
	f, err := Open(filepath.Join(t.TempDir(), "wireguard.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func seedCS(t *testing.T, f store.Factory) *model.CoordinationServer {
	t.Helper()
	cs := &model.CoordinationServer{
		ID:               "cs1",
		Hostname:         "hub",
		PublicEndpoint:   "hub.example.net:51820",
		V4CIDR:           "10.66.0.0/24",
		V4Address:        "10.66.0.1",
		PermanentGUID:    "csGUID=",
		PrivateKey:       "csPriv=",
		CurrentPublicKey: "csPub=",
		ListenPort:       51820,
	}
	if err := f.Writer().Do(context.Background(), func(ctx context.Context) error {
		return f.CoordinationServers().Create(ctx, cs)
	}); err != nil {
		t.Fatalf("create cs: %v", err)
	}
	return cs
}

func TestPeerOrderAppendAndSet(t *testing.T) {
	f := openTestStore(t)
	cs := seedCS(t, f)
	ctx := context.Background()

	err := f.Writer().Do(ctx, func(ctx context.Context) error {
		if err := f.CoordinationServers().AppendPeerOrder(ctx, cs.ID, model.EntitySubnetRouter, "snr1"); err != nil {
			return err
		}
		if err := f.CoordinationServers().AppendPeerOrder(ctx, cs.ID, model.EntityRemote, "r1"); err != nil {
			return err
		}
		return f.CoordinationServers().AppendPeerOrder(ctx, cs.ID, model.EntityRemote, "r2")
	})
	if err != nil {
		t.Fatalf("append order: %v", err)
	}

	order, err := f.CoordinationServers().PeerOrder(ctx, cs.ID)
	if err != nil {
		t.Fatalf("read order: %v", err)
	}
	if len(order) != 3 || order[0].EntityID != "snr1" || order[1].EntityID != "r1" || order[2].EntityID != "r2" {
		t.Fatalf("order wrong: %+v", order)
	}

	// Import path replaces the full order verbatim.
	err = f.Writer().Do(ctx, func(ctx context.Context) error {
		return f.CoordinationServers().SetPeerOrder(ctx, cs.ID, []model.PeerOrderEntry{
			{EntityKind: model.EntityRemote, EntityID: "r2"},
			{EntityKind: model.EntitySubnetRouter, EntityID: "snr1"},
		})
	})
	if err != nil {
		t.Fatalf("set order: %v", err)
	}
	order, _ = f.CoordinationServers().PeerOrder(ctx, cs.ID)
	if len(order) != 2 || order[0].EntityID != "r2" || order[1].EntityID != "snr1" {
		t.Fatalf("replaced order wrong: %+v", order)
	}
}

func TestExtramuralSingleActivePeer(t *testing.T) {
	f := openTestStore(t)
	ctx := context.Background()

	cfg := &model.ExtramuralConfig{
		ID: "x1", LocalPeerID: "lp1", SponsorID: "sp1",
		PermanentGUID: "xGUID=", PrivateKey: "xPriv=", CurrentPublicKey: "xPub=",
		InterfaceName: "wg-mullvad",
	}
	err := f.Writer().Do(ctx, func(ctx context.Context) error {
		if err := f.Extramural().CreateConfig(ctx, cfg); err != nil {
			return err
		}
		if err := f.Extramural().AddPeer(ctx, &model.ExtramuralPeer{
			ID: "p1", ConfigID: "x1", Name: "us-west", PublicKey: "usPub=",
			Endpoint: "us.sponsor.example:51820", AllowedIPs: "0.0.0.0/0", IsActive: true,
		}); err != nil {
			return err
		}
		return f.Extramural().AddPeer(ctx, &model.ExtramuralPeer{
			ID: "p2", ConfigID: "x1", Name: "eu-central", PublicKey: "euPub=",
			Endpoint: "eu.sponsor.example:51820", AllowedIPs: "0.0.0.0/0",
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := f.Writer().Do(ctx, func(ctx context.Context) error {
		return f.Extramural().SwitchActivePeer(ctx, "x1", "p2")
	}); err != nil {
		t.Fatalf("switch: %v", err)
	}

	peers, err := f.Extramural().Peers(ctx, "x1")
	if err != nil {
		t.Fatalf("peers: %v", err)
	}
	active := 0
	for _, p := range peers {
		if p.IsActive {
			active++
			if p.Name != "eu-central" {
				t.Fatalf("active peer = %s, want eu-central", p.Name)
			}
		}
	}
	if active != 1 {
		t.Fatalf("active peers = %d, want exactly 1", active)
	}

	// Switching to an unknown peer fails without disturbing state.
	if err := f.Writer().Do(ctx, func(ctx context.Context) error {
		return f.Extramural().SwitchActivePeer(ctx, "x1", "nope")
	}); err == nil {
		t.Fatalf("switch to unknown peer succeeded")
	}
}

func TestAuditAppendChains(t *testing.T) {
	f := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := f.Writer().Do(ctx, func(ctx context.Context) error {
			prev, err := f.Audit().LastHash(ctx)
			if err != nil {
				return err
			}
			e := audit.Append(audit.EntryInput{
				EventType: model.EventAddPeer,
				Details:   map[string]string{"n": time.Now().String()},
			}, prev, time.Now().UTC())
			return f.Audit().Append(ctx, e)
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := f.Audit().All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(entries))
	}
	checkpoints, _ := f.Audit().Checkpoints(ctx)
	if err := audit.Verify(entries, checkpoints); err != nil {
		t.Fatalf("chain verify failed: %v", err)
	}

	count, err := f.Audit().CountSinceLastCheckpoint(ctx)
	if err != nil || count != 5 {
		t.Fatalf("count since checkpoint = %d, %v", count, err)
	}
}

func TestSSHHostSetNullDelete(t *testing.T) {
	f := openTestStore(t)
	seedCS(t, f)
	ctx := context.Background()

	hostID := "h1"
	err := f.Writer().Do(ctx, func(ctx context.Context) error {
		if err := f.SSHHosts().Create(ctx, &model.SSHHost{
			ID: hostID, Name: "hub-ssh", Host: "hub.example.net", Port: 22, User: "root", RemoteDir: "/etc/wireguard",
		}); err != nil {
			return err
		}
		cs, err := f.CoordinationServers().GetSingleton(ctx)
		if err != nil {
			return err
		}
		cs.SSHHostID = &hostID
		return f.CoordinationServers().Update(ctx, cs)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := f.Writer().Do(ctx, func(ctx context.Context) error {
		return f.SSHHosts().Delete(ctx, hostID)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	cs, err := f.CoordinationServers().GetSingleton(ctx)
	if err != nil {
		t.Fatalf("cs gone after ssh host delete: %v", err)
	}
	if cs.SSHHostID != nil {
		t.Fatalf("ssh host reference not set to null")
	}
}
