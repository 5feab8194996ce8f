package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies pending migrations. Files in migrationsDir take
// precedence over the embedded set when the directory exists.
func RunMigrations(db *sql.DB, migrationsDir string) error {
	migrator, err := newMigrator(db, migrationsDir)
	if err != nil {
		return err
	}
	err = migrator.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		return nil
	case err != nil:
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version. A database that was
// never migrated reports version 0.
func SchemaVersion(db *sql.DB, migrationsDir string) (version uint, dirty bool, err error) {
	migrator, err := newMigrator(db, migrationsDir)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// newMigrator is never closed: closing it would close db as well.
func newMigrator(db *sql.DB, migrationsDir string) (*migrate.Migrate, error) {
	src, err := migrationSource(migrationsDir)
	if err != nil {
		return nil, err
	}
	dst, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", src, "sqlite3", dst)
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return migrator, nil
}

func migrationSource(dir string) (source.Driver, error) {
	if dir != "" {
		if _, err := os.Stat(dir); err == nil {
			src, err := iofs.New(os.DirFS(dir), ".")
			if err != nil {
				return nil, fmt.Errorf("read migrations %s: %w", dir, err)
			}
			return src, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read migrations: %w", err)
		}
	}
	src, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	return src, nil
}
