package ipalloc

import (
	"net/netip"
	"testing"
)

func used(addrs ...string) map[netip.Addr]struct{} {
	m := map[netip.Addr]struct{}{}
	for _, a := range addrs {
		m[netip.MustParseAddr(a)] = struct{}{}
	}
	return m
}

// A plain Allocate scans the whole prefix ascending and takes the
// lowest free address.
func TestAllocateLowestFree(t *testing.T) {
	prefix := netip.MustParsePrefix("10.66.0.0/24")

	a := NewAllocator(prefix, used("10.66.0.1", "10.66.0.20", "10.66.0.30", "10.66.0.31", "10.66.0.33"), nil)
	ip, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if ip.String() != "10.66.0.2" {
		t.Fatalf("allocated %s, want 10.66.0.2", ip)
	}
}

// With CS .1 and SNR .20 taken and remotes at .30, .31, .33, the next
// remote fills the gap at .32 before .33 rather than reusing a low
// address outside the remote block.
func TestAllocateNearFillsCategoryGap(t *testing.T) {
	prefix := netip.MustParsePrefix("10.66.0.0/24")
	remotes := used("10.66.0.30", "10.66.0.31", "10.66.0.33")

	a := NewAllocator(prefix, used("10.66.0.1", "10.66.0.20", "10.66.0.30", "10.66.0.31", "10.66.0.33"), nil)
	ip, err := a.AllocateNear(remotes)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if ip.String() != "10.66.0.32" {
		t.Fatalf("allocated %s, want 10.66.0.32 (gap before .33)", ip)
	}
}

// An empty seed set behaves like a plain Allocate.
func TestAllocateNearEmptySeed(t *testing.T) {
	prefix := netip.MustParsePrefix("10.66.0.0/24")
	a := NewAllocator(prefix, used("10.66.0.1"), nil)
	ip, err := a.AllocateNear(nil)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if ip.String() != "10.66.0.2" {
		t.Fatalf("allocated %s, want 10.66.0.2", ip)
	}
}

// When everything above the category block is taken, AllocateNear
// wraps to the free space below it instead of failing.
func TestAllocateNearWrapsWhenHighRegionFull(t *testing.T) {
	prefix := netip.MustParsePrefix("10.66.0.0/24")
	taken := map[netip.Addr]struct{}{}
	for i := 250; i <= 254; i++ {
		taken[netip.AddrFrom4([4]byte{10, 66, 0, byte(i)})] = struct{}{}
	}

	a := NewAllocator(prefix, taken, nil)
	ip, err := a.AllocateNear(used("10.66.0.250"))
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if ip.String() != "10.66.0.1" {
		t.Fatalf("allocated %s, want the wrapped 10.66.0.1", ip)
	}
}

func TestAllocateSkipsReserved(t *testing.T) {
	prefix := netip.MustParsePrefix("10.66.0.0/24")
	reserved := []netip.Prefix{netip.MustParsePrefix("10.66.0.0/28")}

	a := NewAllocator(prefix, nil, reserved)
	ip, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if ip.String() != "10.66.0.16" {
		t.Fatalf("allocated %s, want first address past the reserved /28", ip)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	prefix := netip.MustParsePrefix("10.66.0.0/30")
	a := NewAllocator(prefix, used("10.66.0.1", "10.66.0.2"), nil)
	if _, err := a.Allocate(); err == nil {
		t.Fatalf("expected exhaustion error")
	}
}

func TestValidate(t *testing.T) {
	prefix := netip.MustParsePrefix("10.66.0.0/24")
	a := NewAllocator(prefix, used("10.66.0.5"), []netip.Prefix{netip.MustParsePrefix("10.66.0.240/28")})

	if err := a.Validate(netip.MustParseAddr("10.66.0.6")); err != nil {
		t.Fatalf("free address rejected: %v", err)
	}
	if err := a.Validate(netip.MustParseAddr("10.66.0.5")); err == nil {
		t.Fatalf("in-use address accepted")
	}
	if err := a.Validate(netip.MustParseAddr("10.66.0.250")); err == nil {
		t.Fatalf("reserved address accepted")
	}
	if err := a.Validate(netip.MustParseAddr("10.67.0.1")); err == nil {
		t.Fatalf("out-of-range address accepted")
	}
}

func TestIPv6Allocation(t *testing.T) {
	prefix := netip.MustParsePrefix("fd66::/64")
	a := NewAllocator(prefix, used("fd66::1"), nil)
	ip, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if ip.String() != "fd66::2" {
		t.Fatalf("allocated %s, want fd66::2", ip)
	}
}
