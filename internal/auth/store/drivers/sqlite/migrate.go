package sqlite

import (
	"errors"

	"github.com/aussiebroadwan/atrium/internal/auth/store/drivers/sqlite/migrations"
	"github.com/samber/oops"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ApplyMigrations applies any pending migrations from the embedded
// migrations directory.
func (s *Store) ApplyMigrations() error {
	errb := oops.In("sqlite").Code("SQLITE_MIGRATION_FAILED")

	// 1. Create the SQLite migration driver
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return errb.With("step", "driver").Wrap(err)
	}

	// 2. Create the iofs (embedded filesystem) source driver
	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return errb.With("step", "source").Wrap(err)
	}

	// 3. Create the migrate instance to run migrations
	instance, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return errb.With("step", "instance").Wrap(err)
	}

	// 4. Apply all up migrations
	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errb.With("step", "up").Wrap(err)
	}
	return nil
}

// MigrationVersion reports the applied schema version.
func (s *Store) MigrationVersion() (uint, bool, error) {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return 0, false, oops.In("sqlite").Code("SQLITE_MIGRATION_FAILED").Wrap(err)
	}
	v, dirty, err := driver.Version()
	if err != nil {
		return 0, false, oops.In("sqlite").Code("SQLITE_MIGRATION_FAILED").Wrap(err)
	}
	if v < 0 {
		return 0, false, nil
	}
	return uint(v), dirty, nil
}
