package store

import (
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/pressly/goose/v3"

	"github.com/hyperengineering/studiosync/migrations"
)

// RunMigrations brings the cache schema up to date from the embedded
// migration files.
func RunMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return errors.Wrap(err, "set dialect")
	}
	if err := goose.Up(db, "."); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return nil
}
