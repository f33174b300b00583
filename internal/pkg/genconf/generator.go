// Package genconf is the Config Generator: it renders deployable
// `.conf` text from the semantic model, honoring the persisted peer
// order, access-level policy (via internal/pkg/policy), and exit-node
// peer composition. It never touches the datastore
// directly; callers assemble a fully materialized *View from store
// reads and pass it in, so this package stays synchronous and pure
// like the rest of the core.
package genconf

import (
	"sort"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/confparse"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/policy"
)

// CommandView is a materialized, ordered PostUp/PostDown pair ready to
// render: Text is always the exact string to emit (already re-rendered
// from Params by the template registry if Template is set).
type CommandView struct {
	Direction model.CommandDirection
	Text      string
}

func appendCommands(s *confparse.Section, cmds []CommandView) {
	for _, c := range cmds {
		key := string(c.Direction)
		s.AppendField(key, c.Text)
	}
}

// CSView is everything the generator needs to render a coordination
// server's own `.conf`.
type CSView struct {
	PrivateKey string
	V4Address  string
	V6Address  string
	ListenPort int
	MTU        int
	Commands   []CommandView
	Peers      []CSPeerView

	// PeerGap is the blank-lines-between-sections formatting profile
	// (captured on import); zero means the canonical single blank line.
	PeerGap int
}

// CSPeerView is one persisted-order peer entry in the CS's [Peer] list.
type CSPeerView struct {
	Kind                model.EntityKind
	PublicKey           string
	PresharedKey        string
	AllowedIPs          string
	Endpoint            string // empty means omit (SNR CGNAT case, remotes never set it)
	PersistentKeepalive int    // 0 means omit
	Comment             string // e.g. SNR/remote hostname, for readability
}

// GenerateCS renders the coordination server's own configuration file.
func GenerateCS(v CSView) (string, error) {
	if v.PrivateKey == "" {
		return "", errors.WithCode(code.ErrGenerateMissingPrivateKey, "coordination server has no private key")
	}
	f := confparse.NewFile()
	iface := confparse.NewInterfaceSection()
	iface.AppendField("PrivateKey", v.PrivateKey)
	iface.AppendMultiField("Address", addressList(v.V4Address, v.V6Address))
	if v.ListenPort != 0 {
		iface.AppendField("ListenPort", itoa(v.ListenPort))
	}
	if v.MTU != 0 {
		iface.AppendField("MTU", itoa(v.MTU))
	}
	appendCommands(iface, v.Commands)
	f.Interface = iface

	for _, p := range v.Peers {
		s := confparse.NewPeerSection(p.Comment)
		s.AppendField("PublicKey", p.PublicKey)
		s.AppendField("PresharedKey", p.PresharedKey)
		s.AppendField("AllowedIPs", p.AllowedIPs)
		s.AppendField("Endpoint", p.Endpoint)
		if p.PersistentKeepalive != 0 {
			s.AppendField("PersistentKeepalive", itoa(p.PersistentKeepalive))
		}
		f.Peers = append(f.Peers, s)
	}
	separateSections(f, v.PeerGap)
	return confparse.Write(f), nil
}

// separateSections appends gap blank lines to every section except the
// last, so rendered files keep the conventional (or imported) spacing
// between [Peer] blocks.
func separateSections(f *confparse.File, gap int) {
	if gap <= 0 {
		gap = 1
	}
	sections := f.Sections()
	for i, s := range sections {
		if i == len(sections)-1 {
			break
		}
		for n := 0; n < gap; n++ {
			s.AppendBlank()
		}
	}
}

// SNRView renders a subnet router's own configuration: one [Interface]
// and exactly one [Peer], the CS.
type SNRView struct {
	PrivateKey   string
	VPNAddress   string
	Commands     []CommandView
	CSPublicKey  string
	CSEndpoint   string
	CSAllowedIPs string // the CS's own VPN CIDRs
	PresharedKey string
}

// GenerateSNR renders a subnet router's configuration.
func GenerateSNR(v SNRView) (string, error) {
	if v.PrivateKey == "" {
		return "", errors.WithCode(code.ErrGenerateMissingPrivateKey, "subnet router has no private key")
	}
	f := confparse.NewFile()
	iface := confparse.NewInterfaceSection()
	iface.AppendField("PrivateKey", v.PrivateKey)
	iface.AppendMultiField("Address", addressList(v.VPNAddress))
	appendCommands(iface, v.Commands)
	f.Interface = iface

	peer := confparse.NewPeerSection("")
	peer.AppendField("PublicKey", v.CSPublicKey)
	peer.AppendField("PresharedKey", v.PresharedKey)
	peer.AppendField("AllowedIPs", v.CSAllowedIPs)
	peer.AppendField("Endpoint", v.CSEndpoint)
	peer.AppendField("PersistentKeepalive", "25")
	f.Peers = []*confparse.Section{peer}
	separateSections(f, 1)
	return confparse.Write(f), nil
}

// RemoteView renders one remote's client configuration.
type RemoteView struct {
	PrivateKey string
	V4Address  string
	V6Address  string
	DNS        string
	MTU        int

	CSPublicKey  string
	CSEndpoint   string
	PresharedKey string

	ExitPublicKey string
	ExitEndpoint  string

	Remote    *model.Remote
	Topo      policy.Topology
	LANSubset []string
}

// GenerateRemote renders a remote's client configuration honoring its
// access level. exitAttached tells the policy engine whether an exit leg
// may be emitted; when true, ExitPublicKey/ExitEndpoint must be set.
func GenerateRemote(v RemoteView, exitAttached bool) (string, error) {
	if v.PrivateKey == "" {
		return "", errors.WithCode(code.ErrGenerateMissingPrivateKey, "remote has no private key")
	}
	entries, err := policy.Resolve(v.Remote, v.Topo, exitAttached, v.LANSubset)
	if err != nil {
		return "", err
	}

	f := confparse.NewFile()
	iface := confparse.NewInterfaceSection()
	iface.AppendField("PrivateKey", v.PrivateKey)
	iface.AppendMultiField("Address", addressList(v.V4Address, v.V6Address))
	iface.AppendField("DNS", v.DNS)
	if v.MTU != 0 {
		iface.AppendField("MTU", itoa(v.MTU))
	}
	f.Interface = iface

	for _, e := range entries {
		s := confparse.NewPeerSection("")
		if e.Target == model.EntityExitNode {
			s.AppendField("PublicKey", v.ExitPublicKey)
			s.AppendField("AllowedIPs", e.AllowedIPs)
			s.AppendField("Endpoint", v.ExitEndpoint)
			s.AppendField("PersistentKeepalive", "25")
		} else {
			s.AppendField("PublicKey", v.CSPublicKey)
			s.AppendField("PresharedKey", v.PresharedKey)
			s.AppendField("AllowedIPs", e.AllowedIPs)
			s.AppendField("Endpoint", v.CSEndpoint)
		}
		f.Peers = append(f.Peers, s)
	}
	separateSections(f, 1)
	return confparse.Write(f), nil
}

// ExitView renders an exit node's configuration: its own [Interface]
// plus one [Peer] per remote that currently routes through it.
type ExitView struct {
	PrivateKey string
	VPNAddress string
	Commands   []CommandView
	Remotes    []ExitRemotePeerView
}

// ExitRemotePeerView is one remote using this exit.
type ExitRemotePeerView struct {
	PublicKey    string
	PresharedKey string
	AllowedIPs   string // the remote's VPN address(es)
}

// GenerateExit renders an exit node's configuration.
func GenerateExit(v ExitView) (string, error) {
	if v.PrivateKey == "" {
		return "", errors.WithCode(code.ErrGenerateMissingPrivateKey, "exit node has no private key")
	}
	f := confparse.NewFile()
	iface := confparse.NewInterfaceSection()
	iface.AppendField("PrivateKey", v.PrivateKey)
	iface.AppendMultiField("Address", addressList(v.VPNAddress))
	appendCommands(iface, v.Commands)
	f.Interface = iface

	peers := append([]ExitRemotePeerView(nil), v.Remotes...)
	sort.SliceStable(peers, func(i, j int) bool { return peers[i].PublicKey < peers[j].PublicKey })
	for _, p := range peers {
		s := confparse.NewPeerSection("")
		s.AppendField("PublicKey", p.PublicKey)
		s.AppendField("PresharedKey", p.PresharedKey)
		s.AppendField("AllowedIPs", p.AllowedIPs)
		f.Peers = append(f.Peers, s)
	}
	separateSections(f, 1)
	return confparse.Write(f), nil
}

// ExtramuralView renders an extramural config: local [Interface] plus
// exactly one [Peer], the currently active extramural peer.
type ExtramuralView struct {
	PrivateKey string
	V4Address  string
	V6Address  string
	DNS        string
	MTU        int
	ListenPort int

	ActivePeer *model.ExtramuralPeer
}

// GenerateExtramural renders an extramural config's configuration.
// Fails if no active peer is supplied: the
// "exactly one active peer" invariant is the store's job to guarantee,
// not the generator's to paper over.
func GenerateExtramural(v ExtramuralView) (string, error) {
	if v.PrivateKey == "" {
		return "", errors.WithCode(code.ErrGenerateMissingPrivateKey, "extramural config has no local private key")
	}
	if v.ActivePeer == nil {
		return "", errors.WithCode(code.ErrGenerateNoActivePeer, "extramural config has no active peer")
	}
	f := confparse.NewFile()
	iface := confparse.NewInterfaceSection()
	iface.AppendField("PrivateKey", v.PrivateKey)
	iface.AppendMultiField("Address", addressList(v.V4Address, v.V6Address))
	iface.AppendField("DNS", v.DNS)
	if v.MTU != 0 {
		iface.AppendField("MTU", itoa(v.MTU))
	}
	if v.ListenPort != 0 {
		iface.AppendField("ListenPort", itoa(v.ListenPort))
	}
	f.Interface = iface

	p := v.ActivePeer
	s := confparse.NewPeerSection("")
	s.AppendField("PublicKey", p.PublicKey)
	s.AppendField("PresharedKey", p.PSK)
	s.AppendField("AllowedIPs", p.AllowedIPs)
	s.AppendField("Endpoint", p.Endpoint)
	if p.Keepalive != nil && *p.Keepalive != 0 {
		s.AppendField("PersistentKeepalive", itoa(*p.Keepalive))
	}
	f.Peers = []*confparse.Section{s}
	separateSections(f, 1)
	return confparse.Write(f), nil
}

func addressList(addrs ...string) []string {
	var out []string
	for _, a := range addrs {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
