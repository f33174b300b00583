// Package ipalloc allocates VPN addresses for a coordination server's
// peers, one netip-based pool per (CS, family), skipping
// operator-declared reserved ranges.
package ipalloc

import (
	"net/netip"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"k8s.io/klog/v2"
)

// Allocator hands out the next free host address inside prefix,
// skipping the network/broadcast addresses, any address already in
// used, and any address contained in one of reserved.
type Allocator struct {
	prefix   netip.Prefix
	used     map[netip.Addr]struct{}
	reserved []netip.Prefix
}

// NewAllocator builds an allocator for prefix. used is the full set of
// VPN addresses already assigned to any entity in this family across
// the whole datastore;
// reserved is an operator-declared set of ranges (e.g. the block set
// aside for infrastructure peers) that allocation must never hand out.
func NewAllocator(prefix netip.Prefix, used map[netip.Addr]struct{}, reserved []netip.Prefix) *Allocator {
	u := make(map[netip.Addr]struct{}, len(used))
	for ip := range used {
		if prefix.Contains(ip) {
			u[ip] = struct{}{}
		}
	}
	return &Allocator{prefix: prefix.Masked(), used: u, reserved: reserved}
}

// Allocate returns the first free host address in the prefix, in
// ascending order, skipping reserved ranges and already-used addresses.
func (a *Allocator) Allocate() (netip.Addr, error) {
	return a.allocateFrom(a.prefix.Masked().Addr().Next())
}

// AllocateNear returns the first free address scanning upward from the
// lowest address in own (the requesting category's existing
// allocations), so a block of remotes stays contiguous and a removed
// peer's gap is refilled before the scan ever reaches addresses below
// the block: with remotes at .30, .31, .33 the next remote gets .32,
// not an address down in the infrastructure range. If the high scan
// finds nothing, it wraps to the start of the prefix. An empty own set
// behaves exactly like Allocate.
func (a *Allocator) AllocateNear(own map[netip.Addr]struct{}) (netip.Addr, error) {
	start := netip.Addr{}
	for ip := range own {
		if !a.prefix.Contains(ip) {
			continue
		}
		if !start.IsValid() || ip.Less(start) {
			start = ip
		}
	}
	if !start.IsValid() {
		return a.Allocate()
	}
	if ip, err := a.allocateFrom(start); err == nil {
		return ip, nil
	}
	return a.Allocate()
}

func (a *Allocator) allocateFrom(start netip.Addr) (netip.Addr, error) {
	ip := start
	for a.prefix.Contains(ip) {
		if a.isLast(ip) {
			break
		}
		if a.isFree(ip) {
			klog.V(2).InfoS("allocated VPN address", "prefix", a.prefix, "address", ip)
			return ip, nil
		}
		ip = ip.Next()
	}

	return netip.Addr{}, errors.WithCode(code.ErrAddressExhausted, "no available address in %s", a.prefix)
}

func (a *Allocator) isLast(ip netip.Addr) bool {
	if !ip.Is4() || a.prefix.Bits() >= 31 {
		return false
	}
	return ip == lastIPv4(a.prefix)
}

func (a *Allocator) isFree(ip netip.Addr) bool {
	if _, used := a.used[ip]; used {
		return false
	}
	for _, r := range a.reserved {
		if r.Contains(ip) {
			return false
		}
	}
	return true
}

// Validate reports whether ip may legally be assigned: it must lie
// inside the prefix, must not be the network/broadcast address, must
// not already be in use, and must not fall in a reserved range.
func (a *Allocator) Validate(ip netip.Addr) error {
	if !a.prefix.Contains(ip) {
		return errors.WithCode(code.ErrAddressExhausted, "%s is not within %s", ip, a.prefix)
	}
	if a.isLast(ip) || (ip == a.prefix.Addr() && !(ip.Is4() && a.prefix.Bits() >= 31)) {
		return errors.WithCode(code.ErrAddressInUse, "%s is the network or broadcast address of %s", ip, a.prefix)
	}
	if _, used := a.used[ip]; used {
		return errors.WithCode(code.ErrAddressInUse, "%s is already in use", ip)
	}
	for _, r := range a.reserved {
		if r.Contains(ip) {
			return errors.WithCode(code.ErrAddressInUse, "%s falls in a reserved range", ip)
		}
	}
	return nil
}

func lastIPv4(p netip.Prefix) netip.Addr {
	addr4 := p.Masked().Addr().As4()
	bits := p.Bits()
	hostBits := 32 - bits
	mask := uint32(1)<<uint(hostBits) - 1
	val := uint32(addr4[0])<<24 | uint32(addr4[1])<<16 | uint32(addr4[2])<<8 | uint32(addr4[3])
	val |= mask
	return netip.AddrFrom4([4]byte{byte(val >> 24), byte(val >> 16), byte(val >> 8), byte(val)})
}
