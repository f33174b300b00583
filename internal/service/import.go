package service

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/HappyLadySauce/errors"
	"k8s.io/klog/v2"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/audit"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/confparse"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/identity"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/pkg/utils/snowflake"
	"github.com/fleetkeeper/fleetkeeper/pkg/wireguard/wgcrypto"
)

// ImportSrv ingests existing `.conf` files into the datastore,
// preserving the observed peer ordering, verbatim AllowedIPs strings,
// verbatim PostUp/PostDown commands, and the blank-line formatting
// profile, so a subsequent generation reproduces the imported file.
type ImportSrv interface {
	// ImportDir imports every *.conf under dir: the hub config first
	// (the one with a ListenPort and peers), then client configs that
	// supply private keys for provisional peers.
	ImportDir(ctx context.Context, dir string) (*ImportResult, error)
	// ImportCSFile imports one coordination-server config.
	ImportCSFile(ctx context.Context, path string) (*model.CoordinationServer, error)
	// ImportClientConf attaches a client config's private key to the
	// provisional remote whose public key it derives to.
	ImportClientConf(ctx context.Context, path string) (*model.Remote, error)
}

// ImportResult summarizes one ImportDir run.
type ImportResult struct {
	CS             *model.CoordinationServer
	SubnetRouters  int
	Remotes        int
	ClientsMatched int
	FilesSkipped   []string
}

type importSrv struct{ *service }

var _ ImportSrv = (*importSrv)(nil)

func (im *importSrv) ImportDir(ctx context.Context, dir string) (*ImportResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "read import directory: %s", err.Error())
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".conf") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	res := &ImportResult{}

	// First pass: find the hub config. A CS config listens and has
	// peers; client configs have an Endpoint on their peer instead.
	var csPath string
	for _, p := range paths {
		f, err := parseFile(p)
		if err != nil {
			res.FilesSkipped = append(res.FilesSkipped, p)
			continue
		}
		if f.Interface != nil && f.Interface.FirstValue("ListenPort") != "" && len(f.Peers) > 0 {
			csPath = p
			break
		}
	}
	if csPath == "" {
		return nil, errors.WithCode(code.ErrStoreNotFound, "no coordination-server config found in %s", dir)
	}

	cs, err := im.ImportCSFile(ctx, csPath)
	if err != nil {
		return nil, err
	}
	res.CS = cs

	snrs, err := im.store.SubnetRouters().ListByCS(ctx, cs.ID)
	if err == nil {
		res.SubnetRouters = len(snrs)
	}
	remotes, err := im.store.Remotes().ListByCS(ctx, cs.ID)
	if err == nil {
		res.Remotes = len(remotes)
	}

	// Second pass: client configs fill in provisional private keys.
	for _, p := range paths {
		if p == csPath {
			continue
		}
		if _, err := im.ImportClientConf(ctx, p); err != nil {
			res.FilesSkipped = append(res.FilesSkipped, p)
			continue
		}
		res.ClientsMatched++
	}
	return res, nil
}

func (im *importSrv) ImportCSFile(ctx context.Context, path string) (*model.CoordinationServer, error) {
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

	cs := &model.CoordinationServer{
		ID:               id,
		Hostname:         strings.TrimSuffix(filepath.Base(path), ".conf"),
		PermanentGUID:    identity.Assign(pub),
		PrivateKey:       priv,
		CurrentPublicKey: pub,
		PeerGapLines:     peerGapProfile(f),
	}
	if lp := f.Interface.FirstValue("ListenPort"); lp != "" {
		cs.ListenPort, _ = strconv.Atoi(lp)
	}
	if mtu := f.Interface.FirstValue("MTU"); mtu != "" {
		cs.MTU, _ = strconv.Atoi(mtu)
	}
	for _, addr := range f.Interface.FieldValues("Address") {
		p, err := netip.ParsePrefix(addr)
		if err != nil {
			ip, err2 := netip.ParseAddr(addr)
			if err2 != nil {
				return nil, errors.WithCode(code.ErrInvariantViolation, "invalid Address %q: %s", addr, err.Error())
			}
			if ip.Is4() {
				cs.V4Address = ip.String()
			} else {
				cs.V6Address = ip.String()
			}
			continue
		}
		if p.Addr().Is4() {
			cs.V4Address = p.Addr().String()
			cs.V4CIDR = p.Masked().String()
		} else {
			cs.V6Address = p.Addr().String()
			cs.V6CIDR = p.Masked().String()
		}
	}
	if cs.PublicEndpoint == "" {
		cs.PublicEndpoint = cs.Hostname + ":" + strconv.Itoa(cs.ListenPort)
	}

	cmds := importCommands(f.Interface)

	type importedPeer struct {
		kind   model.EntityKind
		snr    *model.SubnetRouter
		remote *model.Remote
	}
	var order []importedPeer

	for i, p := range f.Peers {
		peerPub := p.FirstValue("PublicKey")
		if err := wgcrypto.ValidateKey(peerPub); err != nil {
			return nil, err
		}
		hostname := peerHostname(p, i)
		allowed := joinedFieldText(p, "AllowedIPs")

		pid, err := snowflake.GenerateID()
		if err != nil {
			return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
		}

		if isSubnetRouterAllowed(allowed) {
			endpoint := p.FirstValue("Endpoint")
			snr := &model.SubnetRouter{
				ID:               pid,
				CSID:             cs.ID,
				Hostname:         hostname,
				VPNAddress:       firstHostAddr(allowed),
				PermanentGUID:    identity.Assign(peerPub),
				CurrentPublicKey: peerPub,
				PublicEndpoint:   endpoint,
				HasEndpoint:      endpoint != "",
				AdvertisedLANs:   lanRoutes(allowed),
				AllowedIPs:       allowed,
			}
			order = append(order, importedPeer{kind: model.EntitySubnetRouter, snr: snr})
		} else {
			r := &model.Remote{
				ID:               pid,
				CSID:             cs.ID,
				Hostname:         hostname,
				PermanentGUID:    identity.Assign(peerPub),
				CurrentPublicKey: peerPub,
				AccessLevel:      model.AccessVPNOnly,
				PSK:              p.FirstValue("PresharedKey"),
			}
			for _, a := range p.FieldValues("AllowedIPs") {
				pfx, err := netip.ParsePrefix(strings.TrimSpace(a))
				if err != nil {
					continue
				}
				if pfx.Addr().Is4() {
					r.VPNAddressV4 = pfx.Addr().String()
				} else {
					r.VPNAddressV6 = pfx.Addr().String()
				}
			}
			order = append(order, importedPeer{kind: model.EntityRemote, remote: r})
		}
	}

	err = im.mutate(ctx, audit.EntryInput{
		EventType:           model.EventAddPeer,
		Category:            "topology",
		Severity:            "info",
		EntityID:            cs.ID,
		EntityPermanentGUID: cs.PermanentGUID,
		Details:             map[string]string{"operation": "import", "path": path, "peers": strconv.Itoa(len(order))},
	}, func(ctx context.Context) error {
		if err := im.store.CoordinationServers().Create(ctx, cs); err != nil {
			return err
		}
		if err := im.store.CoordinationServers().SetCommands(ctx, model.OwnerCS, cs.ID, cmds); err != nil {
			return err
		}
		var orderRows []model.PeerOrderEntry
		for _, ip := range order {
			switch ip.kind {
			case model.EntitySubnetRouter:
				if err := im.store.SubnetRouters().Create(ctx, ip.snr); err != nil {
					return err
				}
				if err := im.store.SubnetRouters().SetLANs(ctx, ip.snr.ID, ip.snr.AdvertisedLANs); err != nil {
					return err
				}
				orderRows = append(orderRows, model.PeerOrderEntry{EntityKind: ip.kind, EntityID: ip.snr.ID})
			case model.EntityRemote:
				if err := im.store.Remotes().Create(ctx, ip.remote); err != nil {
					return err
				}
				orderRows = append(orderRows, model.PeerOrderEntry{EntityKind: ip.kind, EntityID: ip.remote.ID})
			}
		}
		// The observed ordering is preserved exactly.
		return im.store.CoordinationServers().SetPeerOrder(ctx, cs.ID, orderRows)
	})
	if err != nil {
		return nil, err
	}
	klog.V(1).InfoS("imported coordination server", "path", path, "peers", len(order))
	return cs, nil
}

func (im *importSrv) ImportClientConf(ctx context.Context, path string) (*model.Remote, error) {
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

	cs, err := im.store.CoordinationServers().GetSingleton(ctx)
	if err != nil {
		return nil, err
	}
	remotes, err := im.store.Remotes().ListByCS(ctx, cs.ID)
	if err != nil {
		return nil, err
	}
	var match *model.Remote
	for _, r := range remotes {
		if r.CurrentPublicKey == pub {
			match = r
			break
		}
	}
	if match == nil {
		return nil, errors.WithCode(code.ErrStoreNotFound, "no provisional peer matches the public key derived from %s", path)
	}

	err = im.mutate(ctx, audit.EntryInput{
		EventType:           model.EventAddPeer,
		Category:            "topology",
		Severity:            "info",
		EntityType:          model.EntityRemote,
		EntityID:            match.ID,
		EntityPermanentGUID: match.PermanentGUID,
		Details:             map[string]string{"operation": "import_client", "path": path},
	}, func(ctx context.Context) error {
		match.PrivateKey = priv
		return im.store.Remotes().Update(ctx, match)
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

func parseFile(path string) (*confparse.File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreReadFailed, "read %s: %s", path, err.Error())
	}
	return confparse.Parse(string(b), confparse.ModePreserve)
}

// importCommands captures PostUp/PostDown verbatim, in order. Foreign
// commands never get a template: the writer re-emits them untouched.
func importCommands(iface *confparse.Section) []model.CommandPair {
	var cmds []model.CommandPair
	seq := 0
	for _, key := range []string{"PostUp", "PostDown"} {
		dir := model.DirPostUp
		if key == "PostDown" {
			dir = model.DirPostDown
		}
		for _, v := range iface.FieldValues(key) {
			cmds = append(cmds, model.CommandPair{Direction: dir, Sequence: seq, Text: v})
			seq++
		}
	}
	return cmds
}

// peerGapProfile captures the blank-lines-between-peers formatting
// profile: the trailing blank count of the first section that has one.
func peerGapProfile(f *confparse.File) int {
	for _, s := range f.Sections() {
		n := 0
		for i := len(s.Items) - 1; i >= 0 && s.Items[i].Kind == confparse.ItemBlank; i-- {
			n++
		}
		if n > 0 {
			return n
		}
	}
	return 1
}

// peerHostname reads the comment line preceding a [Peer] header, the
// operator convention for naming peers in hand-maintained configs.
func peerHostname(s *confparse.Section, index int) string {
	if len(s.LeadingComments) > 0 {
		if t := strings.TrimSpace(s.LeadingComments[len(s.LeadingComments)-1].Text); t != "" {
			return t
		}
	}
	return "peer-" + strconv.Itoa(index+1)
}

// joinedFieldText reconstructs the exact AllowedIPs string as written,
// preserving the original delimiter style.
func joinedFieldText(s *confparse.Section, key string) string {
	fld := s.Field(key)
	if fld == nil {
		return ""
	}
	d := fld.Delimiter
	if d == "" {
		d = ", "
	}
	return strings.Join(fld.Values, d)
}

// isSubnetRouterAllowed reports whether an AllowedIPs string contains a
// route beyond host addresses, the signature of an SNR peer entry.
func isSubnetRouterAllowed(allowed string) bool {
	for _, part := range strings.Split(allowed, ",") {
		part = strings.TrimSpace(part)
		pfx, err := netip.ParsePrefix(part)
		if err != nil {
			continue
		}
		if pfx.Addr().Is4() && pfx.Bits() < 32 {
			return true
		}
		if !pfx.Addr().Is4() && pfx.Bits() < 128 {
			return true
		}
	}
	return false
}

// firstHostAddr returns the first /32 or /128 entry's address.
func firstHostAddr(allowed string) string {
	for _, part := range strings.Split(allowed, ",") {
		pfx, err := netip.ParsePrefix(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if (pfx.Addr().Is4() && pfx.Bits() == 32) || (!pfx.Addr().Is4() && pfx.Bits() == 128) {
			return pfx.Addr().String()
		}
	}
	return ""
}

// lanRoutes returns the non-host routes of an AllowedIPs string.
func lanRoutes(allowed string) []string {
	var out []string
	for _, part := range strings.Split(allowed, ",") {
		part = strings.TrimSpace(part)
		pfx, err := netip.ParsePrefix(part)
		if err != nil {
			continue
		}
		if (pfx.Addr().Is4() && pfx.Bits() < 32) || (!pfx.Addr().Is4() && pfx.Bits() < 128) {
			out = append(out, part)
		}
	}
	return out
}
