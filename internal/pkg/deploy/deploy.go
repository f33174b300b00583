// Package deploy is the Deployer: pushes generated
// `.conf` text to a local or SSH-reachable target through the same
// seven-step sequence (acquire, backup, atomic transfer, permissions,
// optional restart, verify, journal) regardless of transport. The
// local path writes through a temp file and rename; the remote path
// runs the same shell-level steps over an SSH session.
package deploy

import (
	"context"
	"time"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
)

// Target is one (host, path, interface) deployment triple. SSHHost is nil for a local target.
type Target struct {
	Host      string
	Path      string // destination .conf path
	Interface string
	SSHHost   *SSHHostConfig
}

// SSHHostConfig carries the fields of model.SSHHost the transport needs.
type SSHHostConfig struct {
	Host      string
	Port      int
	User      string
	KeyPath   string
	RemoteDir string
}

// Options controls optional steps of the sequence.
type Options struct {
	Restart bool // run wg-quick down/up (or platform equivalent) after transfer
	DryRun  bool // render and diff only; no filesystem or network mutation
}

// Result records what happened, for the journal entry and for CLI/API reporting.
type Result struct {
	BackupPath        string // empty if no previous file existed
	Changed           bool   // false when redeployed content is byte-identical
	Restarted         bool
	VerifiedPublicKey string
}

// Transport abstracts local-filesystem vs. SSH-session operations so
// Deploy's orchestration logic (the seven-step sequence) is shared.
type Transport interface {
	// ReadExisting returns the current target file content, or
	// (nil, false, nil) if it does not exist.
	ReadExisting(ctx context.Context, path string) ([]byte, bool, error)
	// Backup copies the existing file to a timestamped backup path and
	// returns the chosen path.
	Backup(ctx context.Context, path string, now time.Time) (string, error)
	// WriteAtomic writes content to path via temp-file+fsync+rename
	// (or the SSH equivalent) and sets mode 0600.
	WriteAtomic(ctx context.Context, path string, content []byte) error
	// Restart runs `wg-quick down <iface>; wg-quick up <iface>` or the
	// platform equivalent.
	Restart(ctx context.Context, iface string) error
	// Verify runs `wg show <iface>` and returns the interface's public key.
	Verify(ctx context.Context, iface string) (publicKey string, present bool, err error)
}

// Deploy runs the seven-step sequence against one
// target using t. expectedPublicKey is compared against Verify's
// result in step 6.
func Deploy(ctx context.Context, t Transport, target Target, content []byte, expectedPublicKey string, opts Options, now time.Time) (*Result, error) {
	res := &Result{}

	existing, existed, err := t.ReadExisting(ctx, target.Path)
	if err != nil {
		return nil, errors.WithCode(code.ErrDeployWriteFailed, "read existing target: %s", err.Error())
	}

	if existed && string(existing) == string(content) {
		res.Changed = false
	} else {
		res.Changed = true
	}

	if opts.DryRun {
		return res, nil
	}

	if existed {
		bakPath, err := t.Backup(ctx, target.Path, now)
		if err != nil {
			return nil, errors.WithCode(code.ErrDeployWriteFailed, "backup target: %s", err.Error())
		}
		res.BackupPath = bakPath
	}

	if err := t.WriteAtomic(ctx, target.Path, content); err != nil {
		return nil, errors.WithCode(code.ErrDeployWriteFailed, "write target: %s", err.Error())
	}

	if opts.Restart {
		if err := t.Restart(ctx, target.Interface); err != nil {
			return nil, errors.WithCode(code.ErrDeployRestartFailed, "restart interface: %s", err.Error())
		}
		res.Restarted = true
	}

	pub, present, err := t.Verify(ctx, target.Interface)
	if err != nil {
		return nil, errors.WithCode(code.ErrDeployVerifyFailed, "verify interface: %s", err.Error())
	}
	if !present || (expectedPublicKey != "" && pub != expectedPublicKey) {
		return nil, errors.WithCode(code.ErrDeployVerifyFailed, "interface %s did not verify with expected public key", target.Interface)
	}
	res.VerifiedPublicKey = pub

	return res, nil
}

// IsLocal reports whether host resolves to this machine: loopback, a
// configured local hostname, or a matching local NIC address.
func IsLocal(host string, localHostnames []string, localAddrs []string) bool {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	for _, h := range localHostnames {
		if h == host {
			return true
		}
	}
	for _, a := range localAddrs {
		if a == host {
			return true
		}
	}
	return false
}
