package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/HappyLadySauce/errors"
	"k8s.io/klog/v2"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
)

// BackupSrv creates, restores, and verifies local backup bundles of
// the datastore file under <datastore>/backups/. A bundle is the
// database copy plus a sha256 manifest; verify recomputes the digest.
type BackupSrv interface {
	Create(ctx context.Context, dbPath, backupsDir string) (string, error)
	Restore(ctx context.Context, bundlePath, dbPath string) error
	VerifyBundle(ctx context.Context, bundlePath string) error
	List(ctx context.Context, backupsDir string) ([]string, error)
}

type backupSrv struct{ *service }

var _ BackupSrv = (*backupSrv)(nil)

func (b *backupSrv) Create(ctx context.Context, dbPath, backupsDir string) (string, error) {
	if err := os.MkdirAll(backupsDir, 0700); err != nil {
		return "", errors.WithCode(code.ErrStoreWriteFailed, "create backups directory: %s", err.Error())
	}
	data, err := os.ReadFile(dbPath)
	if err != nil {
		return "", errors.WithCode(code.ErrStoreReadFailed, "read datastore: %s", err.Error())
	}

	name := fmt.Sprintf("wireguard-%s.db", time.Now().UTC().Format("20060102-150405"))
	bundle := filepath.Join(backupsDir, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(bundle); os.IsNotExist(err) {
			break
		}
		bundle = filepath.Join(backupsDir, fmt.Sprintf("%s.%d", name, i))
	}

	if err := os.WriteFile(bundle, data, 0600); err != nil {
		return "", errors.WithCode(code.ErrStoreWriteFailed, "write backup: %s", err.Error())
	}
	sum := sha256.Sum256(data)
	manifest := hex.EncodeToString(sum[:]) + "  " + filepath.Base(bundle) + "\n"
	if err := os.WriteFile(bundle+".sha256", []byte(manifest), 0600); err != nil {
		return "", errors.WithCode(code.ErrStoreWriteFailed, "write backup manifest: %s", err.Error())
	}
	klog.V(1).InfoS("backup created", "bundle", bundle)
	return bundle, nil
}

func (b *backupSrv) Restore(ctx context.Context, bundlePath, dbPath string) error {
	if err := b.VerifyBundle(ctx, bundlePath); err != nil {
		return err
	}
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return errors.WithCode(code.ErrStoreReadFailed, "read bundle: %s", err.Error())
	}
	// Keep the current database recoverable before overwriting it.
	if cur, err := os.ReadFile(dbPath); err == nil {
		_ = os.WriteFile(dbPath+".pre-restore", cur, 0600)
	}
	tmp := dbPath + ".restore-tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "write restored datastore: %s", err.Error())
	}
	if err := os.Rename(tmp, dbPath); err != nil {
		return errors.WithCode(code.ErrStoreWriteFailed, "replace datastore: %s", err.Error())
	}
	klog.V(1).InfoS("backup restored", "bundle", bundlePath, "db", dbPath)
	return nil
}

func (b *backupSrv) VerifyBundle(ctx context.Context, bundlePath string) error {
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return errors.WithCode(code.ErrStoreReadFailed, "read bundle: %s", err.Error())
	}
	manifest, err := os.ReadFile(bundlePath + ".sha256")
	if err != nil {
		return errors.WithCode(code.ErrStoreReadFailed, "read bundle manifest: %s", err.Error())
	}
	want := strings.Fields(string(manifest))
	if len(want) == 0 {
		return errors.WithCode(code.ErrIntegrityTampered, "empty manifest for %s", bundlePath)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != want[0] {
		return errors.WithCode(code.ErrIntegrityTampered, "bundle %s digest mismatch", bundlePath)
	}
	return nil
}

func (b *backupSrv) List(ctx context.Context, backupsDir string) ([]string, error) {
	entries, err := os.ReadDir(backupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithCode(code.ErrStoreReadFailed, "read backups directory: %s", err.Error())
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".db") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
