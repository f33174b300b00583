package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/journal"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/store/sqlite"
)

func newTestService(t *testing.T) (Service, *service) {
	t.Helper()
	f, err := sqlite.Open(filepath.Join(t.TempDir(), "wireguard.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	svc := NewService(f, journal.NewBus(), "test-operator", "cli")
	return svc, svc.(*service)
}

func initTopology(t *testing.T, svc Service) *model.CoordinationServer {
	t.Helper()
	cs, err := svc.Mesh().InitTopology(context.Background(), InitTopologyRequest{
		Hostname:       "hub",
		PublicEndpoint: "hub.example.net:51820",
		V4CIDR:         "10.66.0.0/24",
		ListenPort:     51820,
	})
	if err != nil {
		t.Fatalf("init topology: %v", err)
	}
	return cs
}

// Adding remotes hands out sequential addresses after the CS's .1, and
// a removed peer's address is refilled before the next free one.
func TestAddRemoteAssignsNextIP(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cs := initTopology(t, svc)

	var remotes []*model.Remote
	for _, name := range []string{"alice", "bob", "carol"} {
		r, err := svc.Mesh().AddRemote(ctx, AddRemoteRequest{CSID: cs.ID, Hostname: name})
		if err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		remotes = append(remotes, r)
	}
	want := []string{"10.66.0.2", "10.66.0.3", "10.66.0.4"}
	for i, r := range remotes {
		if r.VPNAddressV4 != want[i] {
			t.Fatalf("%s address = %s, want %s", r.Hostname, r.VPNAddressV4, want[i])
		}
	}

	// Remove bob; the next peer fills the .3 gap before .5.
	if err := svc.Mesh().RemovePeer(ctx, model.EntityRemote, remotes[1].ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	dave, err := svc.Mesh().AddRemote(ctx, AddRemoteRequest{CSID: cs.ID, Hostname: "dave"})
	if err != nil {
		t.Fatalf("add dave: %v", err)
	}
	if dave.VPNAddressV4 != "10.66.0.3" {
		t.Fatalf("dave address = %s, want the refilled 10.66.0.3", dave.VPNAddressV4)
	}

	// New peers append at the end of the CS peer order.
	peers, err := svc.Status().Peers(ctx)
	if err != nil {
		t.Fatalf("peers: %v", err)
	}
	if peers[len(peers)-1].Hostname != "dave" {
		t.Fatalf("dave not appended at the end of the peer order")
	}
}

// Key rotation changes current_public_key but never permanent_guid,
// and records exactly one history row per rotation.
func TestRotateKeepsPermanentGUID(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	cs := initTopology(t, svc)

	carol, err := svc.Mesh().AddRemote(ctx, AddRemoteRequest{CSID: cs.ID, Hostname: "carol"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	firstPub := carol.CurrentPublicKey

	hist, err := svc.Mesh().RotateKeys(ctx, model.EntityRemote, carol.ID, "scheduled")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if hist.PermanentGUID != firstPub {
		t.Fatalf("history guid = %s, want first public key %s", hist.PermanentGUID, firstPub)
	}

	after, err := s.store.Remotes().Get(ctx, carol.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.PermanentGUID != firstPub {
		t.Fatalf("permanent guid changed on rotation")
	}
	if after.CurrentPublicKey == firstPub {
		t.Fatalf("current public key did not change")
	}
	if after.CurrentPublicKey != hist.NewPublicKey {
		t.Fatalf("entity key and history row disagree")
	}
	if after.LastRotatedAt == nil {
		t.Fatalf("last_rotated_at not stamped")
	}

	// The CS config now carries the new key.
	text, err := svc.Generator().CSConf(ctx, cs.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(text, after.CurrentPublicKey) {
		t.Fatalf("CS config does not show the rotated key")
	}
	if strings.Contains(text, firstPub) {
		t.Fatalf("CS config still shows the retired key")
	}
}

// Switching the active extramural peer regenerates a config whose
// sole [Peer] block is the new peer.
func TestExtramuralSwitchPeer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Extramural().AddSponsor(ctx, "mullvad", "https://mullvad.net"); err != nil {
		t.Fatalf("sponsor: %v", err)
	}
	if _, err := svc.Extramural().AddLocalPeer(ctx, "laptop", nil); err != nil {
		t.Fatalf("local peer: %v", err)
	}

	conf := `[Interface]
PrivateKey = yAnf5G8h2j3k4l5m6n7o8p9q0r1s2t3u4v5w6x7y8z0=
Address = 10.64.10.5/32
DNS = 10.64.0.1

# us-west
[Peer]
PublicKey = uA1f5G8h2j3k4l5m6n7o8p9q0r1s2t3u4v5w6x7y8z9=
AllowedIPs = 0.0.0.0/0, ::/0
Endpoint = us-west.sponsor.example:51820

# eu-central
[Peer]
PublicKey = eA1f5G8h2j3k4l5m6n7o8p9q0r1s2t3u4v5w6x7y8z9=
AllowedIPs = 0.0.0.0/0, ::/0
Endpoint = eu-central.sponsor.example:51820
`
	path := filepath.Join(t.TempDir(), "mullvad.conf")
	if err := os.WriteFile(path, []byte(conf), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := svc.Extramural().ImportConfig(ctx, "laptop", "mullvad", "wg-mullvad", path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	// The first imported peer is active.
	text, err := svc.Extramural().Generate(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(text, "us-west.sponsor.example:51820") {
		t.Fatalf("initial active peer wrong:\n%s", text)
	}

	if err := svc.Extramural().SwitchActivePeer(ctx, cfg.ID, "eu-central"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	text, err = svc.Extramural().Generate(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(text, "eA1f5G8h2j3k4l5m6n7o8p9q0r1s2t3u4v5w6x7y8z9=") {
		t.Fatalf("switched peer key missing:\n%s", text)
	}
	if strings.Contains(text, "us-west.sponsor.example") {
		t.Fatalf("retired peer still rendered:\n%s", text)
	}
	if strings.Count(text, "[Peer]") != 1 {
		t.Fatalf("extramural config must render exactly one peer:\n%s", text)
	}
}

// Property: after any legal operation sequence the audit chain
// verifies, and every operation landed exactly one entry.
func TestAuditIntegrityAfterOperations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cs := initTopology(t, svc)

	r, err := svc.Mesh().AddRemote(ctx, AddRemoteRequest{CSID: cs.ID, Hostname: "alice"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Mesh().RotateKeys(ctx, model.EntityRemote, r.ID, "test"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := svc.Mesh().ChangeAccessLevel(ctx, r.ID, model.AccessFullAccess, nil, ""); err != nil {
		t.Fatalf("access level: %v", err)
	}

	if err := svc.Audit().Verify(ctx); err != nil {
		t.Fatalf("audit chain broken after legal operations: %v", err)
	}

	entries, err := svc.Audit().List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// init + add + rotate + access-level change.
	if len(entries) != 4 {
		t.Fatalf("audit entries = %d, want 4", len(entries))
	}
	for _, e := range entries {
		if e.Operator != "test-operator" || e.OperatorSource != "cli" {
			t.Fatalf("operator attribution missing on entry %d", e.ID)
		}
	}
}

// exit_only remotes never get a CS peer entry; attaching an exit and
// regenerating flips the remote's sole peer to the exit node.
func TestExitOnlyRemoteComposition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cs := initTopology(t, svc)

	exit, err := svc.Mesh().AddExitNode(ctx, AddExitNodeRequest{
		CSID: cs.ID, Hostname: "exit1", PublicEndpoint: "exit1.example.net:51820", ListenPort: 51820,
	})
	if err != nil {
		t.Fatalf("add exit: %v", err)
	}

	r, err := svc.Mesh().AddRemote(ctx, AddRemoteRequest{
		CSID: cs.ID, Hostname: "kiosk", AccessLevel: model.AccessExitOnly, ExitNodeID: &exit.ID,
	})
	if err != nil {
		t.Fatalf("add remote: %v", err)
	}

	csText, err := svc.Generator().CSConf(ctx, cs.ID)
	if err != nil {
		t.Fatalf("generate cs: %v", err)
	}
	if strings.Contains(csText, r.CurrentPublicKey) {
		t.Fatalf("exit_only remote must not appear in the CS config")
	}

	remoteText, err := svc.Generator().RemoteConf(ctx, r.ID)
	if err != nil {
		t.Fatalf("generate remote: %v", err)
	}
	if !strings.Contains(remoteText, exit.CurrentPublicKey) {
		t.Fatalf("exit peer missing from exit_only remote config")
	}
	if strings.Contains(remoteText, cs.CurrentPublicKey) {
		t.Fatalf("exit_only remote config must not peer with the CS")
	}

	exitText, err := svc.Generator().ExitConf(ctx, exit.ID)
	if err != nil {
		t.Fatalf("generate exit: %v", err)
	}
	if !strings.Contains(exitText, r.CurrentPublicKey) {
		t.Fatalf("remote missing from the exit node's peer list")
	}
}

// A remote with no exit and access_level=exit_only is rejected at the
// service boundary.
func TestExitOnlyRequiresExit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cs := initTopology(t, svc)

	_, err := svc.Mesh().AddRemote(ctx, AddRemoteRequest{
		CSID: cs.ID, Hostname: "kiosk", AccessLevel: model.AccessExitOnly,
	})
	if err == nil {
		t.Fatalf("exit_only remote without an exit accepted")
	}
}

// The documented gap-fill scenario: with the CS at .1, an SNR at .20,
// and remotes at .30, .31, .33, the next remote fills .32.
func TestAddRemoteFillsGapInRemoteBlock(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	cs := initTopology(t, svc)

	err := s.store.Writer().Do(ctx, func(ctx context.Context) error {
		if err := s.store.SubnetRouters().Create(ctx, &model.SubnetRouter{
			ID: "snr1", CSID: cs.ID, Hostname: "office",
			VPNAddress: "10.66.0.20", PermanentGUID: "snrGUID=",
			CurrentPublicKey: "snrPub=", AllowedIPs: "10.66.0.20/32",
		}); err != nil {
			return err
		}
		for _, last := range []string{"30", "31", "33"} {
			if err := s.store.Remotes().Create(ctx, &model.Remote{
				ID: "seed" + last, CSID: cs.ID, Hostname: "seed-" + last,
				VPNAddressV4:     "10.66.0." + last,
				PermanentGUID:    "seedGUID" + last + "=",
				CurrentPublicKey: "seedPub" + last + "=",
				AccessLevel:      model.AccessVPNOnly,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	alice, err := svc.Mesh().AddRemote(ctx, AddRemoteRequest{CSID: cs.ID, Hostname: "alice"})
	if err != nil {
		t.Fatalf("add alice: %v", err)
	}
	if alice.VPNAddressV4 != "10.66.0.32" {
		t.Fatalf("alice address = %s, want the gap at 10.66.0.32", alice.VPNAddressV4)
	}
}
