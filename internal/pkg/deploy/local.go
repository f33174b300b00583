package deploy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// LocalTransport implements Transport against the local filesystem,
// adapted directly from internal/pkg/wireguard/atomic_write.go's
// temp-file-then-rename idiom, split into the Transport steps so the
// same orchestration in Deploy drives both local and SSH targets.
type LocalTransport struct {
	// WGQuickPath defaults to "wg-quick" on PATH; overridable for tests.
	WGQuickPath string
	WGPath      string
}

// NewLocalTransport returns a LocalTransport using the system wg-quick/wg.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{WGQuickPath: "wg-quick", WGPath: "wg"}
}

func (l *LocalTransport) ReadExisting(ctx context.Context, path string) ([]byte, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// Backup copies path to <path>.backup.<unix-seconds>, appending a
// monotonically increasing suffix on a same-second collision.
func (l *LocalTransport) Backup(ctx context.Context, path string, now time.Time) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ts := now.Unix()

	candidate := filepath.Join(dir, fmt.Sprintf("%s.backup.%d", base, ts))
	for suffix := 0; ; suffix++ {
		p := candidate
		if suffix > 0 {
			p = fmt.Sprintf("%s.%d", candidate, suffix)
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			if err := copyFile(path, p); err != nil {
				return "", err
			}
			return p, nil
		}
	}
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	st, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, st.Mode().Perm())
}

func (l *LocalTransport) WriteAtomic(ctx context.Context, path string, content []byte) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (l *LocalTransport) Restart(ctx context.Context, iface string) error {
	down := exec.CommandContext(ctx, l.WGQuickPath, "down", iface)
	_ = down.Run() // best-effort: interface may not be up yet
	up := exec.CommandContext(ctx, l.WGQuickPath, "up", iface)
	return up.Run()
}

func (l *LocalTransport) Verify(ctx context.Context, iface string) (string, bool, error) {
	out, err := exec.CommandContext(ctx, l.WGPath, "show", iface, "public-key").Output()
	if err != nil {
		return "", false, nil
	}
	return strings.TrimSpace(string(out)), true, nil
}
