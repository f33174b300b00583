package policy

import (
	"strings"
	"testing"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

var testTopo = Topology{
	CSV4CIDR: "10.66.0.0/24",
	CSV6CIDR: "fd66::/64",
	SNRLANs:  []string{"192.168.10.0/24"},
}

func remoteWith(level model.AccessLevel) *model.Remote {
	return &model.Remote{ID: "r1", AccessLevel: level, VPNAddressV4: "10.66.0.30"}
}

func TestFullAccess(t *testing.T) {
	entries, err := Resolve(remoteWith(model.AccessFullAccess), testTopo, false, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	want := "10.66.0.0/24, fd66::/64, 192.168.10.0/24"
	if entries[0].AllowedIPs != want {
		t.Fatalf("allowed ips = %q, want %q", entries[0].AllowedIPs, want)
	}
}

func TestFullAccessWithExit(t *testing.T) {
	entries, err := Resolve(remoteWith(model.AccessFullAccess), testTopo, true, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected CS + exit entries, got %d", len(entries))
	}
	if entries[1].Target != model.EntityExitNode {
		t.Fatalf("second entry should target the exit node")
	}
	if entries[1].AllowedIPs != "0.0.0.0/0, ::/0" {
		t.Fatalf("exit leg allowed ips = %q", entries[1].AllowedIPs)
	}
}

// Dropping from full_access to vpn_only removes only the SNR LANs.
func TestVPNOnlyDropsLANs(t *testing.T) {
	entries, err := Resolve(remoteWith(model.AccessVPNOnly), testTopo, false, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entries[0].AllowedIPs != "10.66.0.0/24, fd66::/64" {
		t.Fatalf("allowed ips = %q", entries[0].AllowedIPs)
	}
}

func TestLANOnlySubset(t *testing.T) {
	entries, err := Resolve(remoteWith(model.AccessLANOnly), testTopo, false, []string{"192.168.10.0/24"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(entries[0].AllowedIPs, "192.168.10.0/24") {
		t.Fatalf("lan subset missing from %q", entries[0].AllowedIPs)
	}
	if len(entries) != 1 {
		t.Fatalf("lan_only must not emit a default route entry")
	}
}

func TestCustomPassthrough(t *testing.T) {
	r := remoteWith(model.AccessCustom)
	r.CustomAllowedIPs = "10.66.0.0/26, 172.16.0.0/12"
	entries, err := Resolve(r, testTopo, false, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entries[0].AllowedIPs != r.CustomAllowedIPs {
		t.Fatalf("custom allowed ips not passed through verbatim: %q", entries[0].AllowedIPs)
	}
}

func TestExitOnly(t *testing.T) {
	if _, err := Resolve(remoteWith(model.AccessExitOnly), testTopo, false, nil); err == nil {
		t.Fatalf("exit_only without an exit must fail")
	}

	entries, err := Resolve(remoteWith(model.AccessExitOnly), testTopo, true, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(entries) != 1 || entries[0].Target != model.EntityExitNode {
		t.Fatalf("exit_only must emit exactly one exit entry, got %+v", entries)
	}
	if entries[0].AllowedIPs != "0.0.0.0/0, ::/0" {
		t.Fatalf("exit_only allowed ips = %q", entries[0].AllowedIPs)
	}
}

func TestDedupSmallestPrefixLast(t *testing.T) {
	got := dedupSmallestPrefixLast([]string{"10.0.0.0/8, 10.1.0.0/16", "10.1.0.0/16", "10.1.2.0/24"})
	want := []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUnknownAccessLevel(t *testing.T) {
	r := remoteWith(model.AccessLevel("everything"))
	if _, err := Resolve(r, testTopo, false, nil); err == nil {
		t.Fatalf("unknown access level must fail")
	}
}

// Property: identical inputs always yield identical entries.
func TestResolveDeterminism(t *testing.T) {
	for i := 0; i < 10; i++ {
		a, err1 := Resolve(remoteWith(model.AccessFullAccess), testTopo, true, nil)
		b, err2 := Resolve(remoteWith(model.AccessFullAccess), testTopo, true, nil)
		if err1 != nil || err2 != nil {
			t.Fatalf("resolve: %v %v", err1, err2)
		}
		if len(a) != len(b) {
			t.Fatalf("nondeterministic entry count")
		}
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("nondeterministic entry %d: %+v vs %+v", j, a[j], b[j])
			}
		}
	}
}
