package confparse

import "testing"

const sampleCS = `[Interface]
PrivateKey = kA1f5G8h2j3k4l5m6n7o8p9q0r1s2t3u4v5w6x7y8z9=
Address = 10.66.0.1/24, fd66::1/64
ListenPort = 51820
PostUp = iptables -A FORWARD -i wg0 -j ACCEPT
PostUp = iptables -t nat -A POSTROUTING -o eth0 -j MASQUERADE

# home Ubuntu
[Peer]
PublicKey = aA1f5G8h2j3k4l5m6n7o8p9q0r1s2t3u4v5w6x7y8z9=
AllowedIPs = 10.66.0.20/32


[Peer]
PublicKey = bA1f5G8h2j3k4l5m6n7o8p9q0r1s2t3u4v5w6x7y8z9=
AllowedIPs = 10.66.0.30/32
`

func TestRoundTripFidelity(t *testing.T) {
	f, err := Parse(sampleCS, ModePreserve)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := Write(f)
	if out != sampleCS {
		t.Fatalf("round-trip mismatch:\n--- got ---\n%q\n--- want ---\n%q", out, sampleCS)
	}
}

func TestRoundTripNoTrailingNewline(t *testing.T) {
	text := "[Interface]\nPrivateKey = x\n"
	text = text[:len(text)-1] // strip trailing newline
	f, err := Parse(text, ModePreserve)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if Write(f) != text {
		t.Fatalf("round-trip mismatch without trailing newline")
	}
}

func TestInlineComment(t *testing.T) {
	text := "[Interface]\nPrivateKey = abc # primary key\n"
	f, err := Parse(text, ModePreserve)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pk := f.Interface.Field("PrivateKey")
	if pk == nil || pk.Value() != "abc" {
		t.Fatalf("expected value 'abc', got %+v", pk)
	}
	if pk.Inline == nil || pk.Inline.Text != "primary key" {
		t.Fatalf("expected inline comment, got %+v", pk.Inline)
	}
	if Write(f) != text {
		t.Fatalf("round-trip mismatch with inline comment")
	}
}

func TestDuplicateInterfaceRejected(t *testing.T) {
	text := "[Interface]\nPrivateKey = a\n[Interface]\nPrivateKey = b\n"
	if _, err := Parse(text, ModePreserve); err == nil {
		t.Fatal("expected error for duplicate [Interface]")
	}
}

func TestKeyInWrongSectionRejected(t *testing.T) {
	text := "[Interface]\nPublicKey = a\n"
	if _, err := Parse(text, ModePreserve); err == nil {
		t.Fatal("expected error for PublicKey in [Interface]")
	}
}

func TestStrictModeRejectsUnknownField(t *testing.T) {
	text := "[Interface]\nPrivateKey = a\nFooBar = baz\n"
	if _, err := Parse(text, ModeStrict); err == nil {
		t.Fatal("expected UnknownFieldError in strict mode")
	}
	// Preserve mode accepts and round-trips the unknown field.
	f, err := Parse(text, ModePreserve)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if Write(f) != text {
		t.Fatalf("unknown field not preserved verbatim")
	}
}

func TestGeneratorOutputParsesBackEqual(t *testing.T) {
	f := NewFile()
	iface := NewInterfaceSection()
	iface.AppendField("PrivateKey", "priv==")
	iface.AppendMultiField("Address", []string{"10.0.0.1/24"})
	iface.AppendField("ListenPort", "51820")
	f.Interface = iface

	peer := NewPeerSection("alice")
	peer.AppendField("PublicKey", "pub==")
	peer.AppendMultiField("AllowedIPs", []string{"10.0.0.2/32"})
	f.Peers = append(f.Peers, peer)

	text := Write(f)
	reparsed, err := Parse(text, ModePreserve)
	if err != nil {
		t.Fatalf("reparse generated output: %v", err)
	}
	if reparsed.Interface.FirstValue("PrivateKey") != "priv==" {
		t.Fatalf("semantic mismatch after idempotent round-trip")
	}
	if len(reparsed.Peers) != 1 || reparsed.Peers[0].FirstValue("PublicKey") != "pub==" {
		t.Fatalf("peer mismatch after idempotent round-trip")
	}
}
