package service

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/HappyLadySauce/errors"
	"k8s.io/klog/v2"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/genconf"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/policy"
)

// GenerateSrv renders deployable `.conf` text from the persisted
// model. All methods are read-only: they never touch the writer.
type GenerateSrv interface {
	CSConf(ctx context.Context, csID string) (string, error)
	SNRConf(ctx context.Context, snrID string) (string, error)
	RemoteConf(ctx context.Context, remoteID string) (string, error)
	ExitConf(ctx context.Context, exitID string) (string, error)

	// All renders every renderable config into outDir and returns the
	// written file names. Provisional remotes (no private key) are
	// skipped: there is no [Interface] to write for them.
	All(ctx context.Context, outDir string) ([]string, error)
}

type generateSrv struct{ *service }

var _ GenerateSrv = (*generateSrv)(nil)

func (g *generateSrv) CSConf(ctx context.Context, csID string) (string, error) {
	cs, err := g.store.CoordinationServers().Get(ctx, csID)
	if err != nil {
		return "", err
	}
	cmds, err := g.store.CoordinationServers().Commands(ctx, model.OwnerCS, cs.ID)
	if err != nil {
		return "", err
	}

	v := genconf.CSView{
		PrivateKey: cs.PrivateKey,
		V4Address:  addrWithPrefix(cs.V4Address, cs.V4CIDR, 24),
		V6Address:  addrWithPrefix(cs.V6Address, cs.V6CIDR, 64),
		ListenPort: cs.ListenPort,
		MTU:        cs.MTU,
		Commands:   genconf.CommandViews(cmds),
		PeerGap:    cs.PeerGapLines,
	}

	order, err := g.store.CoordinationServers().PeerOrder(ctx, cs.ID)
	if err != nil {
		return "", err
	}
	for _, entry := range order {
		switch entry.EntityKind {
		case model.EntitySubnetRouter:
			snr, err := g.store.SubnetRouters().Get(ctx, entry.EntityID)
			if err != nil {
				return "", err
			}
			p := genconf.CSPeerView{
				Kind:       model.EntitySubnetRouter,
				PublicKey:  snr.CurrentPublicKey,
				AllowedIPs: snr.AllowedIPs,
				Comment:    snr.Hostname,
			}
			if snr.HasEndpoint {
				p.Endpoint = snr.PublicEndpoint
			}
			v.Peers = append(v.Peers, p)

		case model.EntityRemote:
			r, err := g.store.Remotes().Get(ctx, entry.EntityID)
			if err != nil {
				return "", err
			}
			// Exit-only remotes never peer with the CS.
			if r.AccessLevel == model.AccessExitOnly {
				continue
			}
			v.Peers = append(v.Peers, genconf.CSPeerView{
				Kind:         model.EntityRemote,
				PublicKey:    r.CurrentPublicKey,
				PresharedKey: r.PSK,
				AllowedIPs:   hostAddrs(r.VPNAddressV4, r.VPNAddressV6),
				Comment:      r.Hostname,
			})

		case model.EntityExitNode:
			e, err := g.store.ExitNodes().Get(ctx, entry.EntityID)
			if err != nil {
				return "", err
			}
			v.Peers = append(v.Peers, genconf.CSPeerView{
				Kind:       model.EntityExitNode,
				PublicKey:  e.CurrentPublicKey,
				AllowedIPs: hostAddrs(e.VPNAddress, ""),
				Endpoint:   e.PublicEndpoint,
				Comment:    e.Hostname,
			})
		}
	}
	return genconf.GenerateCS(v)
}

func (g *generateSrv) SNRConf(ctx context.Context, snrID string) (string, error) {
	snr, err := g.store.SubnetRouters().Get(ctx, snrID)
	if err != nil {
		return "", err
	}
	cs, err := g.store.CoordinationServers().Get(ctx, snr.CSID)
	if err != nil {
		return "", err
	}
	cmds, err := g.store.CoordinationServers().Commands(ctx, model.OwnerSNR, snr.ID)
	if err != nil {
		return "", err
	}
	return genconf.GenerateSNR(genconf.SNRView{
		PrivateKey:   snr.PrivateKey,
		VPNAddress:   bareAddr(snr.VPNAddress) + "/32",
		Commands:     genconf.CommandViews(cmds),
		CSPublicKey:  cs.CurrentPublicKey,
		CSEndpoint:   cs.PublicEndpoint,
		CSAllowedIPs: csCIDRs(cs),
	})
}

func (g *generateSrv) RemoteConf(ctx context.Context, remoteID string) (string, error) {
	r, err := g.store.Remotes().Get(ctx, remoteID)
	if err != nil {
		return "", err
	}
	cs, err := g.store.CoordinationServers().Get(ctx, r.CSID)
	if err != nil {
		return "", err
	}

	topo, err := g.topology(ctx, cs)
	if err != nil {
		return "", err
	}

	v := genconf.RemoteView{
		PrivateKey:   r.PrivateKey,
		CSPublicKey:  cs.CurrentPublicKey,
		CSEndpoint:   cs.PublicEndpoint,
		PresharedKey: r.PSK,
		Remote:       r,
		Topo:         topo,
		LANSubset:    r.LANSubset,
	}
	if r.VPNAddressV4 != "" {
		v.V4Address = bareAddr(r.VPNAddressV4) + "/32"
	}
	if r.VPNAddressV6 != "" {
		v.V6Address = bareAddr(r.VPNAddressV6) + "/128"
	}

	exitAttached := false
	if r.ActiveExitID != nil && *r.ActiveExitID != model.NoExitSentinel {
		e, err := g.store.ExitNodes().Get(ctx, *r.ActiveExitID)
		if err != nil {
			return "", err
		}
		exitAttached = true
		v.ExitPublicKey = e.CurrentPublicKey
		v.ExitEndpoint = e.PublicEndpoint
	}
	return genconf.GenerateRemote(v, exitAttached)
}

func (g *generateSrv) ExitConf(ctx context.Context, exitID string) (string, error) {
	e, err := g.store.ExitNodes().Get(ctx, exitID)
	if err != nil {
		return "", err
	}
	cmds, err := g.store.CoordinationServers().Commands(ctx, model.OwnerExit, e.ID)
	if err != nil {
		return "", err
	}
	users, err := g.store.Remotes().ListByActiveExit(ctx, e.ID)
	if err != nil {
		return "", err
	}

	v := genconf.ExitView{
		PrivateKey: e.PrivateKey,
		VPNAddress: bareAddr(e.VPNAddress) + "/32",
		Commands:   genconf.CommandViews(cmds),
	}
	for _, r := range users {
		v.Remotes = append(v.Remotes, genconf.ExitRemotePeerView{
			PublicKey:    r.CurrentPublicKey,
			PresharedKey: r.PSK,
			AllowedIPs:   hostAddrs(r.VPNAddressV4, r.VPNAddressV6),
		})
	}
	return genconf.GenerateExit(v)
}

func (g *generateSrv) All(ctx context.Context, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return nil, errors.WithCode(code.ErrStoreWriteFailed, "create output directory: %s", err.Error())
	}
	cs, err := g.store.CoordinationServers().GetSingleton(ctx)
	if err != nil {
		return nil, err
	}

	var written []string
	emit := func(name, content string) error {
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			return errors.WithCode(code.ErrStoreWriteFailed, "write %s: %s", path, err.Error())
		}
		written = append(written, name)
		return nil
	}

	text, err := g.CSConf(ctx, cs.ID)
	if err != nil {
		return nil, err
	}
	if err := emit(cs.Hostname+".conf", text); err != nil {
		return nil, err
	}

	snrs, err := g.store.SubnetRouters().ListByCS(ctx, cs.ID)
	if err != nil {
		return nil, err
	}
	for _, snr := range snrs {
		if snr.PrivateKey == "" {
			continue
		}
		text, err := g.SNRConf(ctx, snr.ID)
		if err != nil {
			return nil, err
		}
		if err := emit(snr.Hostname+".conf", text); err != nil {
			return nil, err
		}
	}

	remotes, err := g.store.Remotes().ListByCS(ctx, cs.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range remotes {
		if r.PrivateKey == "" {
			klog.V(2).InfoS("skipping provisional remote", "hostname", r.Hostname)
			continue
		}
		text, err := g.RemoteConf(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if err := emit(r.Hostname+".conf", text); err != nil {
			return nil, err
		}
	}

	exits, err := g.store.ExitNodes().ListByCS(ctx, cs.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range exits {
		if e.PrivateKey == "" {
			continue
		}
		text, err := g.ExitConf(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if err := emit(e.Hostname+".conf", text); err != nil {
			return nil, err
		}
	}
	return written, nil
}

// topology assembles the policy engine's read-only context: the CS
// CIDRs and the union of every SNR's advertised LANs, in SNR order.
func (g *generateSrv) topology(ctx context.Context, cs *model.CoordinationServer) (policy.Topology, error) {
	topo := policy.Topology{CSV4CIDR: cs.V4CIDR, CSV6CIDR: cs.V6CIDR}
	snrs, err := g.store.SubnetRouters().ListByCS(ctx, cs.ID)
	if err != nil {
		return topo, err
	}
	for _, snr := range snrs {
		lans, err := g.store.SubnetRouters().LANs(ctx, snr.ID)
		if err != nil {
			return topo, err
		}
		for _, lan := range lans {
			topo.SNRLANs = append(topo.SNRLANs, lan.CIDR)
		}
	}
	return topo, nil
}

// addrWithPrefix renders an interface Address with its range's prefix
// length (e.g. 10.66.0.1 + 10.66.0.0/24 -> 10.66.0.1/24).
func addrWithPrefix(addr, cidr string, fallbackBits int) string {
	if addr == "" {
		return ""
	}
	bits := fallbackBits
	if cidr != "" {
		if p, err := netip.ParsePrefix(cidr); err == nil {
			bits = p.Bits()
		}
	}
	return bareAddr(addr) + "/" + itoa(bits)
}

func csCIDRs(cs *model.CoordinationServer) string {
	var parts []string
	if cs.V4CIDR != "" {
		parts = append(parts, cs.V4CIDR)
	}
	if cs.V6CIDR != "" {
		parts = append(parts, cs.V6CIDR)
	}
	return strings.Join(parts, ", ")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
