package failover

import (
	"context"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Prober checks one exit node's public endpoint and reports success
// plus measured latency. Implementations must honor ctx's deadline.
type Prober interface {
	Probe(ctx context.Context, endpoint string) (latencyMS float64, err error)
}

// PingProber shells out to the system ping for an ICMP echo, the
// health check the controller runs by default. Raw ICMP sockets need
// CAP_NET_RAW; ping is setuid everywhere fleetkeeper deploys, so this
// keeps the daemon unprivileged.
type PingProber struct {
	// PingPath defaults to "ping" on PATH; overridable for tests.
	PingPath string
}

// NewPingProber returns a PingProber using the system ping.
func NewPingProber() *PingProber {
	return &PingProber{PingPath: "ping"}
}

// Probe sends one echo request to the endpoint's host part and parses
// the round-trip time from ping's output.
func (p *PingProber) Probe(ctx context.Context, endpoint string) (float64, error) {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}

	deadline := 5 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	waitSecs := int(deadline.Seconds())
	if waitSecs < 1 {
		waitSecs = 1
	}

	start := time.Now()
	out, err := exec.CommandContext(ctx, p.PingPath, "-c", "1", "-W", strconv.Itoa(waitSecs), host).Output()
	if err != nil {
		return 0, err
	}
	if ms, ok := parsePingTime(string(out)); ok {
		return ms, nil
	}
	// ping succeeded but printed an unexpected format; the wall clock
	// still bounds the real latency.
	return float64(time.Since(start).Microseconds()) / 1000, nil
}

// parsePingTime extracts "time=12.3 ms" from ping output.
func parsePingTime(out string) (float64, bool) {
	idx := strings.Index(out, "time=")
	if idx < 0 {
		return 0, false
	}
	rest := out[idx+len("time="):]
	end := 0
	for end < len(rest) && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	ms, err := strconv.ParseFloat(rest[:end], 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
