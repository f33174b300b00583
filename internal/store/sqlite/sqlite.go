// Package sqlite is the gorm/sqlite realization of the datastore:
// relational persistence with migrations, foreign keys, and a single
// serialized writer path.
package sqlite

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/HappyLadySauce/errors"
	glebarezsqlite "github.com/glebarez/sqlite"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/store"
	"k8s.io/klog/v2"
)

type datastore struct {
	db     *gorm.DB
	writer *writer
	flock  *flock.Flock
}

// Open creates (or attaches to) the sqlite file at path, runs
// migrations, and returns a store.Factory. path's directory is created
// if missing, matching the persisted datastore layout
// (<datastore>/wireguard.db).
func Open(path string) (store.Factory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.WithCode(code.ErrStoreNotInitialized, "create datastore directory: %s", err.Error())
	}

	// gofrs/flock guards the writer path across OS processes sharing
	// one datastore file.
	fl := flock.New(path + ".lock")

	db, err := gorm.Open(glebarezsqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreNotInitialized, "open sqlite database: %s", err.Error())
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.WithCode(code.ErrStoreNotInitialized, "unwrap sql.DB: %s", err.Error())
	}
	sqlDB.SetMaxOpenConns(1) // single-writer semantics; sqlite serializes anyway

	if err := autoMigrate(db); err != nil {
		return nil, errors.WithCode(code.ErrStoreMigrationFailed, "%s", err.Error())
	}
	if err := runMigrations(path); err != nil {
		return nil, err
	}

	klog.V(1).InfoS("datastore opened", "path", path)

	ds := &datastore{db: db, flock: fl}
	ds.writer = newWriter(ds)
	return ds, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.CoordinationServer{},
		&model.PeerOrderEntry{},
		&model.SubnetRouter{},
		&model.SubnetRouterLAN{},
		&model.Remote{},
		&model.ExitNode{},
		&model.ExitGroup{},
		&model.ExitGroupMember{},
		&model.ExitHealth{},
		&model.FailoverHistory{},
		&model.SSHHost{},
		&model.Sponsor{},
		&model.LocalPeer{},
		&model.ExtramuralConfig{},
		&model.ExtramuralPeer{},
		&model.CommandPair{},
		&model.KeyRotationHistory{},
		&model.AuditEntry{},
		&model.AuditCheckpoint{},
		&model.EncryptionMetadata{},
		&model.APIToken{},
	)
}

func (ds *datastore) CoordinationServers() store.CoordinationServerStore {
	return &coordinationServers{ds.db}
}
func (ds *datastore) SubnetRouters() store.SubnetRouterStore { return &subnetRouters{ds.db} }
func (ds *datastore) Remotes() store.RemoteStore             { return &remotes{ds.db} }
func (ds *datastore) ExitNodes() store.ExitNodeStore         { return &exitNodes{ds.db} }
func (ds *datastore) ExitGroups() store.ExitGroupStore       { return &exitGroups{ds.db} }
func (ds *datastore) SSHHosts() store.SSHHostStore           { return &sshHosts{ds.db} }
func (ds *datastore) Sponsors() store.SponsorStore           { return &sponsors{ds.db} }
func (ds *datastore) LocalPeers() store.LocalPeerStore       { return &localPeers{ds.db} }
func (ds *datastore) Extramural() store.ExtramuralStore      { return &extramural{ds.db} }
func (ds *datastore) Audit() store.AuditStore                { return &auditStore{ds.db} }
func (ds *datastore) Encryption() store.EncryptionStore      { return &encryptionStore{ds.db} }
func (ds *datastore) APITokens() store.APITokenStore         { return &apiTokens{ds.db} }
func (ds *datastore) Writer() store.Writer                   { return ds.writer }

func (ds *datastore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get sql db")
	}
	ds.writer.stop()
	if ds.flock != nil {
		_ = ds.flock.Unlock()
	}
	return sqlDB.Close()
}

// writer serializes every mutating call submitted via Do onto one
// goroutine, so that, e.g.,
// two concurrent failover events can never interleave their
// transactions.
type writer struct {
	ds   *datastore
	jobs chan job
	done chan struct{}
}

type job struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

func newWriter(ds *datastore) *writer {
	w := &writer{ds: ds, jobs: make(chan job, 64), done: make(chan struct{})}
	go w.run()
	return w
}

func (w *writer) run() {
	for j := range w.jobs {
		// The flock extends single-writer semantics across OS
		// processes sharing one datastore file: a CLI invocation and
		// a running daemon cannot interleave transactions.
		if w.ds.flock != nil {
			if err := w.ds.flock.Lock(); err != nil {
				j.result <- errors.WithCode(code.ErrStoreWriteFailed, "acquire datastore lock: %s", err.Error())
				continue
			}
		}
		err := w.ds.db.WithContext(j.ctx).Transaction(func(tx *gorm.DB) error {
			return j.fn(withTx(j.ctx, tx))
		})
		if w.ds.flock != nil {
			_ = w.ds.flock.Unlock()
		}
		j.result <- err
	}
	close(w.done)
}

func (w *writer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	select {
	case w.jobs <- job{ctx: ctx, fn: fn, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) stop() {
	close(w.jobs)
	<-w.done
}

type txKey struct{}

func withTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// txFrom returns the transaction bound to ctx by the writer, if this
// call is running inside writer.Do; repositories fall back to their
// own *gorm.DB for read-only calls that bypass the writer entirely.
func txFrom(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (containsAny(err.Error(), "UNIQUE constraint failed", "unique constraint"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
