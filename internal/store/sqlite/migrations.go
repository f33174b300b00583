package sqlite

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// runMigrations applies the numbered SQL files under migrations/ with
// golang-migrate, tracking the applied version in its schema_migrations
// table. gorm.AutoMigrate owns column/index/table shape; these files
// carry the hand-written SQL gorm has no struct tag for (triggers,
// supplementary indexes), so they run after AutoMigrate has created
// the tables they reference. Migrations are linear and additive.
func runMigrations(path string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.WithCode(code.ErrStoreMigrationFailed, "open embedded migrations: %s", err.Error())
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return errors.WithCode(code.ErrStoreMigrationFailed, "init migrator: %s", err.Error())
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.WithCode(code.ErrStoreMigrationFailed, "apply migrations: %s", err.Error())
	}
	return nil
}
