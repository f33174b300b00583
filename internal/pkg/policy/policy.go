// Package policy is the Access Policy Engine: a pure function
// that computes the AllowedIPs string and peer
// entries for each of a remote's outgoing peer entries, from an access
// level and the topology context. Casbin (wired in internal/pkg/authz,
// enforced by the daemon's HTTP middleware) governs who may invoke a change to these inputs; this package never
// imports casbin and never touches the datastore.
package policy

import (
	"sort"
	"strings"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// Topology is the read-only context the engine needs: the owning CS's
// VPN CIDRs and every SNR's advertised LANs.
type Topology struct {
	CSV4CIDR string
	CSV6CIDR string
	SNRLANs  []string // union of every SubnetRouter's AdvertisedLANs, in SNR then LAN order
}

// PeerEntry is one outgoing [Peer] block the generator should render
// for a remote: which peer it targets and the AllowedIPs to emit.
type PeerEntry struct {
	Target     model.EntityKind // EntityExitNode for the exit leg, "" for the CS leg
	AllowedIPs string
}

// Resolve computes the peer entries for a remote given its access
// level, the topology, and whether an exit is attached (exitAttached).
// It returns ValidationError{field:"exit"} if access_level=exit_only
// and no exit is linked.
func Resolve(r *model.Remote, topo Topology, exitAttached bool, lanSubset []string) ([]PeerEntry, error) {
	if r.AccessLevel == model.AccessExitOnly && !exitAttached {
		return nil, errors.WithCode(code.ErrPolicyExitRequired, "exit_only remote %s has no exit linked", r.ID)
	}

	switch r.AccessLevel {
	case model.AccessFullAccess:
		allowed := dedupSmallestPrefixLast(append([]string{cidrList(topo.CSV4CIDR, topo.CSV6CIDR)}, topo.SNRLANs...))
		entries := []PeerEntry{{AllowedIPs: strings.Join(allowed, ", ")}}
		if exitAttached {
			entries = append(entries, PeerEntry{Target: model.EntityExitNode, AllowedIPs: "0.0.0.0/0, ::/0"})
		}
		return entries, nil

	case model.AccessVPNOnly:
		entries := []PeerEntry{{AllowedIPs: cidrList(topo.CSV4CIDR, topo.CSV6CIDR)}}
		if exitAttached {
			entries = append(entries, PeerEntry{Target: model.EntityExitNode, AllowedIPs: "0.0.0.0/0, ::/0"})
		}
		return entries, nil

	case model.AccessLANOnly:
		allowed := dedupSmallestPrefixLast(append([]string{cidrList(topo.CSV4CIDR, topo.CSV6CIDR)}, lanSubset...))
		return []PeerEntry{{AllowedIPs: strings.Join(allowed, ", ")}}, nil

	case model.AccessCustom:
		return []PeerEntry{{AllowedIPs: r.CustomAllowedIPs}}, nil

	case model.AccessExitOnly:
		return []PeerEntry{{Target: model.EntityExitNode, AllowedIPs: "0.0.0.0/0, ::/0"}}, nil

	default:
		return nil, errors.WithCode(code.ErrPolicyInvalidAccessLevel, "unrecognized access level %q", r.AccessLevel)
	}
}

func cidrList(v4, v6 string) string {
	var parts []string
	if v4 != "" {
		parts = append(parts, v4)
	}
	if v6 != "" {
		parts = append(parts, v6)
	}
	return strings.Join(parts, ", ")
}

// dedupSmallestPrefixLast flattens comma-joined CIDR groups, removes
// duplicates, and orders each family's entries with the smallest (most
// specific) prefix last. Families keep their original slots, so a
// dual-stack CS CIDR pair stays ahead of the SNR LANs in the rendered
// string.
func dedupSmallestPrefixLast(groups []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, g := range groups {
		for _, c := range strings.Split(g, ",") {
			c = strings.TrimSpace(c)
			if c == "" || seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	sortWithinFamily(out, false)
	sortWithinFamily(out, true)
	return out
}

func sortWithinFamily(cidrs []string, v6 bool) {
	var idx []int
	var vals []string
	for i, c := range cidrs {
		if strings.Contains(c, ":") == v6 {
			idx = append(idx, i)
			vals = append(vals, c)
		}
	}
	sort.SliceStable(vals, func(i, j int) bool {
		return prefixBits(vals[i]) < prefixBits(vals[j])
	})
	for k, i := range idx {
		cidrs[i] = vals[k]
	}
}

func prefixBits(cidr string) int {
	idx := strings.LastIndex(cidr, "/")
	if idx < 0 {
		return 0
	}
	bits := 0
	for _, c := range cidr[idx+1:] {
		if c < '0' || c > '9' {
			break
		}
		bits = bits*10 + int(c-'0')
	}
	return bits
}
