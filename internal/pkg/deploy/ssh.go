package deploy

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTransport implements Transport over a single SSH session per
// operation, running the equivalent shell sequence wg-quick/wg would
// run locally: a temp-file-then-mv write, cp for backups, and wg-quick/
// wg for restart/verify. SSH agent and
// ~/.ssh/known_hosts are honored.
type SSHTransport struct {
	cfg SSHHostConfig
}

// NewSSHTransport builds a transport for one SSH host.
func NewSSHTransport(cfg SSHHostConfig) *SSHTransport {
	return &SSHTransport{cfg: cfg}
}

func (s *SSHTransport) dial(ctx context.Context) (*ssh.Client, error) {
	authMethods, err := sshAgentAuth()
	if err != nil {
		return nil, errors.WithCode(code.ErrDeployAuthFailed, "ssh agent unavailable: %s", err.Error())
	}
	if s.cfg.KeyPath != "" {
		if m, err := sshKeyFileAuth(s.cfg.KeyPath); err == nil {
			authMethods = append(authMethods, m)
		}
	}
	if len(authMethods) == 0 {
		return nil, errors.WithCode(code.ErrDeployAuthFailed, "no SSH authentication method available")
	}

	hostKeyCallback, err := knownHostsCallback()
	if err != nil {
		return nil, errors.WithCode(code.ErrDeployConnectFailed, "known_hosts: %s", err.Error())
	}

	clientCfg := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WithCode(code.ErrDeployConnectFailed, "dial %s: %s", addr, err.Error())
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		return nil, errors.WithCode(code.ErrDeployAuthFailed, "handshake with %s: %s", addr, err.Error())
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (s *SSHTransport) run(ctx context.Context, cmd string) (string, error) {
	client, err := s.dial(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", errors.WithCode(code.ErrDeployConnectFailed, "open session: %s", err.Error())
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if err := session.Run(cmd); err != nil {
		return "", errors.WithCode(code.ErrDeployWriteFailed, "remote command %q failed: %s: %s", cmd, err.Error(), stderr.String())
	}
	return stdout.String(), nil
}

func (s *SSHTransport) ReadExisting(ctx context.Context, path string) ([]byte, bool, error) {
	out, err := s.run(ctx, fmt.Sprintf("cat %s 2>/dev/null || true", shellQuote(path)))
	if err != nil {
		return nil, false, err
	}
	if out == "" {
		exists, err := s.run(ctx, fmt.Sprintf("test -f %s && echo yes || echo no", shellQuote(path)))
		if err != nil {
			return nil, false, err
		}
		if strings.TrimSpace(exists) != "yes" {
			return nil, false, nil
		}
	}
	return []byte(out), true, nil
}

func (s *SSHTransport) Backup(ctx context.Context, path string, now time.Time) (string, error) {
	ts := now.Unix()
	candidate := fmt.Sprintf("%s.backup.%d", path, ts)
	cmd := fmt.Sprintf(
		`p=%s; i=0; while [ -e "$p" ]; do i=$((i+1)); p=%s.$i; done; cp %s "$p" && echo "$p"`,
		shellQuote(candidate), shellQuote(candidate), shellQuote(path))
	out, err := s.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// WriteAtomic writes content via a remote temp file then `mv`, mirroring
// the local transport's rename-is-atomic guarantee.
func (s *SSHTransport) WriteAtomic(ctx context.Context, path string, content []byte) error {
	tmp := path + ".tmp." + fmt.Sprint(time.Now().UnixNano())
	cmd := fmt.Sprintf(
		"cat > %s && chmod 0600 %s && mv %s %s",
		shellQuote(tmp), shellQuote(tmp), shellQuote(tmp), shellQuote(path))

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	session, err := client.NewSession()
	if err != nil {
		return errors.WithCode(code.ErrDeployConnectFailed, "open session: %s", err.Error())
	}
	defer session.Close()
	session.Stdin = bytes.NewReader(content)
	var stderr bytes.Buffer
	session.Stderr = &stderr
	if err := session.Run(cmd); err != nil {
		return errors.WithCode(code.ErrDeployWriteFailed, "remote write failed: %s: %s", err.Error(), stderr.String())
	}
	return nil
}

func (s *SSHTransport) Restart(ctx context.Context, iface string) error {
	_, err := s.run(ctx, fmt.Sprintf("wg-quick down %s 2>/dev/null; wg-quick up %s", shellQuote(iface), shellQuote(iface)))
	return err
}

func (s *SSHTransport) Verify(ctx context.Context, iface string) (string, bool, error) {
	out, err := s.run(ctx, fmt.Sprintf("wg show %s public-key 2>/dev/null || true", shellQuote(iface)))
	if err != nil {
		return "", false, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", false, nil
	}
	return out, true, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sshAgentAuth() ([]ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, err
	}
	ag := agent.NewClient(conn)
	return []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)}, nil
}

func sshKeyFileAuth(path string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

func knownHostsCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := home + "/.ssh/known_hosts"
	if _, err := os.Stat(path); err != nil {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return knownhosts.New(path)
}
