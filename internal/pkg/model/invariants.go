package model

import (
	"fmt"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
)

// InvariantViolation carries which named invariant failed.
type InvariantViolation struct {
	Which string
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s", v.Which)
}

func invariantErr(which string) error {
	err := &InvariantViolation{Which: which}
	return errors.WithCode(code.ErrInvariantViolation, "%s", err.Error())
}

// ValidateRemote asserts the invariants on a Remote that the model
// layer enforces on every mutation.
func ValidateRemote(r *Remote) error {
	if r.AccessLevel == AccessExitOnly && r.ExitNodeID == nil && r.ExitGroupID == nil {
		return invariantErr("exit_only remote must reference an exit node or exit group")
	}
	if r.VPNAddressV4 == "" && r.VPNAddressV6 == "" {
		return invariantErr("remote must have at least one VPN address")
	}
	return nil
}

// ValidateSubnetRouter asserts that a peer with no endpoint and no
// address is rejected.
func ValidateSubnetRouter(s *SubnetRouter) error {
	if !s.HasEndpoint && s.PublicEndpoint == "" && s.VPNAddress == "" {
		return invariantErr("peer with no endpoint and no address is invalid")
	}
	return nil
}

// ValidateExtramuralConfig asserts extramural-config invariants.
func ValidateExtramuralConfig(c *ExtramuralConfig) error {
	if c.LocalPeerID == "" || c.SponsorID == "" {
		return invariantErr("extramural config must reference a local peer and a sponsor")
	}
	if c.InterfaceName == "" {
		return invariantErr("extramural config must name its interface")
	}
	return nil
}

// ValidateExactlyOneActivePeer asserts the "exactly one active peer per
// extramural config" invariant over an in-memory peer set. The
// datastore additionally enforces this via a trigger; this check lets
// the model layer reject bad input before ever reaching SQL.
func ValidateExactlyOneActivePeer(peers []*ExtramuralPeer) error {
	active := 0
	for _, p := range peers {
		if p.IsActive {
			active++
		}
	}
	if len(peers) > 0 && active != 1 {
		return invariantErr(fmt.Sprintf("extramural config must have exactly one active peer, found %d", active))
	}
	return nil
}
