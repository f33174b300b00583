package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeTransport implements Transport in memory, recording each step.
type fakeTransport struct {
	files       map[string][]byte
	backups     map[string][]byte
	publicKey   string
	present     bool
	restartErr  error
	restarted   bool
	writeCalled bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{files: map[string][]byte{}, backups: map[string][]byte{}, present: true}
}

func (f *fakeTransport) ReadExisting(ctx context.Context, path string) ([]byte, bool, error) {
	b, ok := f.files[path]
	return b, ok, nil
}

func (f *fakeTransport) Backup(ctx context.Context, path string, now time.Time) (string, error) {
	bak := fmt.Sprintf("%s.backup.%d", path, now.Unix())
	f.backups[bak] = append([]byte(nil), f.files[path]...)
	return bak, nil
}

func (f *fakeTransport) WriteAtomic(ctx context.Context, path string, content []byte) error {
	f.writeCalled = true
	f.files[path] = append([]byte(nil), content...)
	return nil
}

func (f *fakeTransport) Restart(ctx context.Context, iface string) error {
	if f.restartErr != nil {
		return f.restartErr
	}
	f.restarted = true
	return nil
}

func (f *fakeTransport) Verify(ctx context.Context, iface string) (string, bool, error) {
	return f.publicKey, f.present, nil
}

var target = Target{Host: "hub.example.net", Path: "/etc/wireguard/wg0.conf", Interface: "wg0"}

// Property: after a deploy over an existing config, a backup of the
// previous content exists.
func TestDeployBackupExistence(t *testing.T) {
	tr := newFakeTransport()
	tr.files[target.Path] = []byte("old config\n")
	tr.publicKey = "PK"

	res, err := Deploy(context.Background(), tr, target, []byte("new config\n"), "PK", Options{}, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if res.BackupPath == "" {
		t.Fatalf("no backup recorded")
	}
	if string(tr.backups[res.BackupPath]) != "old config\n" {
		t.Fatalf("backup does not hold the previous content")
	}
	if string(tr.files[target.Path]) != "new config\n" {
		t.Fatalf("target not updated")
	}
}

func TestDeployFreshTargetHasNoBackup(t *testing.T) {
	tr := newFakeTransport()
	tr.publicKey = "PK"
	res, err := Deploy(context.Background(), tr, target, []byte("cfg\n"), "PK", Options{}, time.Now())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if res.BackupPath != "" {
		t.Fatalf("backup created for a target that had no previous file")
	}
}

// Redeploying unchanged content reports Changed=false (idempotence).
func TestDeployIdempotent(t *testing.T) {
	tr := newFakeTransport()
	content := []byte("same config\n")
	tr.files[target.Path] = content
	tr.publicKey = "PK"

	res, err := Deploy(context.Background(), tr, target, content, "PK", Options{}, time.Now())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if res.Changed {
		t.Fatalf("unchanged redeploy reported as a change")
	}
	if string(tr.files[target.Path]) != string(content) {
		t.Fatalf("content altered on idempotent redeploy")
	}
}

func TestDeployDryRun(t *testing.T) {
	tr := newFakeTransport()
	tr.files[target.Path] = []byte("old\n")

	res, err := Deploy(context.Background(), tr, target, []byte("new\n"), "PK", Options{DryRun: true}, time.Now())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !res.Changed {
		t.Fatalf("dry run should report the pending change")
	}
	if tr.writeCalled {
		t.Fatalf("dry run wrote to the target")
	}
	if len(tr.backups) != 0 {
		t.Fatalf("dry run created a backup")
	}
}

func TestDeployRestartFailureDoesNotRollBack(t *testing.T) {
	tr := newFakeTransport()
	tr.files[target.Path] = []byte("old\n")
	tr.restartErr = fmt.Errorf("wg-quick exploded")

	_, err := Deploy(context.Background(), tr, target, []byte("new\n"), "PK", Options{Restart: true}, time.Now())
	if err == nil {
		t.Fatalf("restart failure must surface")
	}
	// The new file stays; the previous config lives in the backup.
	if string(tr.files[target.Path]) != "new\n" {
		t.Fatalf("restart failure rolled the file back")
	}
	if len(tr.backups) != 1 {
		t.Fatalf("backup missing after restart failure")
	}
}

func TestDeployVerificationMismatch(t *testing.T) {
	tr := newFakeTransport()
	tr.publicKey = "WRONG"
	if _, err := Deploy(context.Background(), tr, target, []byte("cfg\n"), "PK", Options{}, time.Now()); err == nil {
		t.Fatalf("public key mismatch must fail verification")
	}

	tr2 := newFakeTransport()
	tr2.present = false
	if _, err := Deploy(context.Background(), tr2, target, []byte("cfg\n"), "PK", Options{}, time.Now()); err == nil {
		t.Fatalf("absent interface must fail verification")
	}
}

func TestIsLocal(t *testing.T) {
	if !IsLocal("localhost", nil, nil) || !IsLocal("127.0.0.1", nil, nil) || !IsLocal("::1", nil, nil) {
		t.Fatalf("loopback not recognized as local")
	}
	if !IsLocal("myhost", []string{"myhost"}, nil) {
		t.Fatalf("configured hostname not recognized")
	}
	if !IsLocal("192.0.2.10", nil, []string{"192.0.2.10"}) {
		t.Fatalf("local NIC address not recognized")
	}
	if IsLocal("hub.example.net", []string{"myhost"}, nil) {
		t.Fatalf("remote host treated as local")
	}
}

// The local transport's backup path is collision-safe within one
// second: the second backup gets a monotonically increasing suffix.
func TestLocalBackupCollisionSuffix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wg0.conf")
	if err := os.WriteFile(path, []byte("v1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	l := NewLocalTransport()
	now := time.Unix(1700000000, 0)

	first, err := l.Backup(context.Background(), path, now)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	second, err := l.Backup(context.Background(), path, now)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if first == second {
		t.Fatalf("same-second backups collided: %s", first)
	}
	if second != first+".1" {
		t.Fatalf("collision suffix = %s, want %s.1", second, first)
	}
}

func TestLocalWriteAtomicMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wg0.conf")

	l := NewLocalTransport()
	if err := l.WriteAtomic(context.Background(), path, []byte("secret config\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode().Perm() != 0600 {
		t.Fatalf("mode = %o, want 0600", st.Mode().Perm())
	}
	b, _ := os.ReadFile(path)
	if string(b) != "secret config\n" {
		t.Fatalf("content mismatch")
	}
}
