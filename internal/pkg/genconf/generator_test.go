package genconf

import (
	"strings"
	"testing"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/confparse"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/policy"
)

const (
	keyA = "aA1f5G8h2j3k4l5m6n7o8p9q0r1s2t3u4v5w6x7y8z9="
	keyB = "bA1f5G8h2j3k4l5m6n7o8p9q0r1s2t3u4v5w6x7y8z9="
	keyC = "cA1f5G8h2j3k4l5m6n7o8p9q0r1s2t3u4v5w6x7y8z9="
)

func TestGenerateCS(t *testing.T) {
	text, err := GenerateCS(CSView{
		PrivateKey: keyA,
		V4Address:  "10.66.0.1/24",
		V6Address:  "fd66::1/64",
		ListenPort: 51820,
		Commands: []CommandView{
			{Direction: model.DirPostUp, Text: "iptables -A FORWARD -i wg0 -j ACCEPT"},
			{Direction: model.DirPostDown, Text: "iptables -D FORWARD -i wg0 -j ACCEPT"},
		},
		Peers: []CSPeerView{
			{Kind: model.EntitySubnetRouter, PublicKey: keyB, AllowedIPs: "10.66.0.20/32, 192.168.10.0/24", Endpoint: "snr.example.net:51820", Comment: "home-router"},
			{Kind: model.EntityRemote, PublicKey: keyC, AllowedIPs: "10.66.0.30/32"},
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	f, err := confparse.Parse(text, confparse.ModePreserve)
	if err != nil {
		t.Fatalf("generated config does not parse: %v\n%s", err, text)
	}
	if f.Interface.FirstValue("PrivateKey") != keyA {
		t.Fatalf("private key missing")
	}
	if got := f.Interface.FieldValues("Address"); len(got) != 2 || got[0] != "10.66.0.1/24" || got[1] != "fd66::1/64" {
		t.Fatalf("dual-stack addresses must render v4 then v6, got %v", got)
	}
	if len(f.Peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(f.Peers))
	}
	// SNR CGNAT contract is the absence of Endpoint; this SNR has one.
	if f.Peers[0].FirstValue("Endpoint") != "snr.example.net:51820" {
		t.Fatalf("SNR endpoint missing")
	}
	if f.Peers[1].FirstValue("Endpoint") != "" {
		t.Fatalf("remote peer must not carry an Endpoint")
	}
	if !strings.Contains(text, "# home-router") {
		t.Fatalf("peer comment not rendered")
	}
}

// Canonical field order inside a peer block: PublicKey, PresharedKey?,
// AllowedIPs, Endpoint?, PersistentKeepalive?.
func TestPeerFieldOrder(t *testing.T) {
	text, err := GenerateCS(CSView{
		PrivateKey: keyA,
		V4Address:  "10.66.0.1/24",
		ListenPort: 51820,
		Peers: []CSPeerView{
			{PublicKey: keyB, PresharedKey: keyC, AllowedIPs: "10.66.0.30/32"},
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pkIdx := strings.Index(text, "PublicKey")
	pskIdx := strings.Index(text, "PresharedKey")
	aipIdx := strings.Index(text, "AllowedIPs")
	if !(pkIdx < pskIdx && pskIdx < aipIdx) {
		t.Fatalf("field order wrong:\n%s", text)
	}
}

func TestGenerateCSNoPrivateKey(t *testing.T) {
	if _, err := GenerateCS(CSView{V4Address: "10.66.0.1/24"}); err == nil {
		t.Fatalf("missing private key must refuse to render")
	}
}

func TestGenerateSNR(t *testing.T) {
	text, err := GenerateSNR(SNRView{
		PrivateKey:   keyA,
		VPNAddress:   "10.66.0.20/32",
		CSPublicKey:  keyB,
		CSEndpoint:   "hub.example.net:51820",
		CSAllowedIPs: "10.66.0.0/24, fd66::/64",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	f, err := confparse.Parse(text, confparse.ModePreserve)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Peers) != 1 {
		t.Fatalf("SNR config must have exactly one peer (the CS)")
	}
	if f.Peers[0].FirstValue("PersistentKeepalive") != "25" {
		t.Fatalf("SNR must keep the tunnel alive through NAT")
	}
}

func TestGenerateRemoteExitOnly(t *testing.T) {
	r := &model.Remote{ID: "r1", AccessLevel: model.AccessExitOnly, VPNAddressV4: "10.66.0.30"}
	topo := policy.Topology{CSV4CIDR: "10.66.0.0/24"}

	// Refuses without an exit.
	if _, err := GenerateRemote(RemoteView{PrivateKey: keyA, V4Address: "10.66.0.30/32", Remote: r, Topo: topo}, false); err == nil {
		t.Fatalf("exit_only without exit must refuse to render")
	}

	text, err := GenerateRemote(RemoteView{
		PrivateKey:    keyA,
		V4Address:     "10.66.0.30/32",
		CSPublicKey:   keyB,
		CSEndpoint:    "hub.example.net:51820",
		ExitPublicKey: keyC,
		ExitEndpoint:  "exit.example.net:51820",
		Remote:        r,
		Topo:          topo,
	}, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	f, _ := confparse.Parse(text, confparse.ModePreserve)
	if len(f.Peers) != 1 {
		t.Fatalf("exit_only renders exactly one peer, got %d", len(f.Peers))
	}
	if f.Peers[0].FirstValue("PublicKey") != keyC {
		t.Fatalf("exit_only sole peer must be the exit node")
	}
	if got := strings.Join(f.Peers[0].FieldValues("AllowedIPs"), ", "); got != "0.0.0.0/0, ::/0" {
		t.Fatalf("exit_only allowed ips = %q", got)
	}
}

func TestGenerateRemoteFullAccessWithExit(t *testing.T) {
	r := &model.Remote{ID: "r1", AccessLevel: model.AccessFullAccess, VPNAddressV4: "10.66.0.30"}
	text, err := GenerateRemote(RemoteView{
		PrivateKey:    keyA,
		V4Address:     "10.66.0.30/32",
		CSPublicKey:   keyB,
		CSEndpoint:    "hub.example.net:51820",
		ExitPublicKey: keyC,
		ExitEndpoint:  "exit.example.net:51820",
		Remote:        r,
		Topo:          policy.Topology{CSV4CIDR: "10.66.0.0/24", SNRLANs: []string{"192.168.10.0/24"}},
	}, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	f, _ := confparse.Parse(text, confparse.ModePreserve)
	if len(f.Peers) != 2 {
		t.Fatalf("full_access with exit renders CS + exit peers, got %d", len(f.Peers))
	}
	if f.Peers[0].FirstValue("PublicKey") != keyB || f.Peers[1].FirstValue("PublicKey") != keyC {
		t.Fatalf("peer composition wrong")
	}
}

func TestGenerateExitSortsPeers(t *testing.T) {
	text, err := GenerateExit(ExitView{
		PrivateKey: keyA,
		VPNAddress: "10.66.0.40/32",
		Remotes: []ExitRemotePeerView{
			{PublicKey: keyC, AllowedIPs: "10.66.0.31/32"},
			{PublicKey: keyB, AllowedIPs: "10.66.0.30/32"},
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.Index(text, keyB) > strings.Index(text, keyC) {
		t.Fatalf("exit peers must render in stable sorted order")
	}
}

func TestGenerateExtramural(t *testing.T) {
	ka := 25
	text, err := GenerateExtramural(ExtramuralView{
		PrivateKey: keyA,
		V4Address:  "10.64.10.5/32",
		DNS:        "10.64.0.1",
		ActivePeer: &model.ExtramuralPeer{
			PublicKey:  keyB,
			Endpoint:   "eu-central.sponsor.example:51820",
			AllowedIPs: "0.0.0.0/0, ::/0",
			Keepalive:  &ka,
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	f, _ := confparse.Parse(text, confparse.ModePreserve)
	if len(f.Peers) != 1 {
		t.Fatalf("extramural config renders the active peer only")
	}
	if f.Peers[0].FirstValue("PublicKey") != keyB {
		t.Fatalf("active peer key missing")
	}

	if _, err := GenerateExtramural(ExtramuralView{PrivateKey: keyA}); err == nil {
		t.Fatalf("no active peer must refuse to render")
	}
}

// Idempotence law: parse(generate(view)) preserves the semantic fields.
func TestGenerateReparseRoundTrip(t *testing.T) {
	v := CSView{
		PrivateKey: keyA,
		V4Address:  "10.66.0.1/24",
		ListenPort: 51820,
		Peers:      []CSPeerView{{PublicKey: keyB, AllowedIPs: "10.66.0.30/32"}},
	}
	text1, err := GenerateCS(v)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	f, err := confparse.Parse(text1, confparse.ModePreserve)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if confparse.Write(f) != text1 {
		t.Fatalf("generated text does not round-trip byte-for-byte")
	}
}

func TestRenderCommandTemplates(t *testing.T) {
	up := RenderCommand(model.CommandPair{
		Direction: model.DirPostUp,
		Template:  model.TemplateExitNAT,
		Params:    map[string]string{"iface": "wg0", "wan": "ens3"},
	})
	if !strings.Contains(up, "-A POSTROUTING -o ens3 -j MASQUERADE") {
		t.Fatalf("NAT up template wrong: %s", up)
	}
	down := RenderCommand(model.CommandPair{
		Direction: model.DirPostDown,
		Template:  model.TemplateExitNAT,
		Params:    map[string]string{"iface": "wg0", "wan": "ens3"},
	})
	if !strings.Contains(down, "-D POSTROUTING") {
		t.Fatalf("NAT down template wrong: %s", down)
	}

	// Foreign commands pass through untouched.
	verbatim := "some-custom-script --with weird 'args'"
	got := RenderCommand(model.CommandPair{Direction: model.DirPostUp, Text: verbatim})
	if got != verbatim {
		t.Fatalf("foreign command altered: %s", got)
	}
}

func TestPeerGapProfile(t *testing.T) {
	v := CSView{
		PrivateKey: keyA,
		V4Address:  "10.66.0.1/24",
		PeerGap:    2,
		Peers: []CSPeerView{
			{PublicKey: keyB, AllowedIPs: "10.66.0.30/32"},
			{PublicKey: keyC, AllowedIPs: "10.66.0.31/32"},
		},
	}
	text, err := GenerateCS(v)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(text, "\n\n\n[Peer]") {
		t.Fatalf("two-blank-line profile not honored:\n%s", text)
	}
}
