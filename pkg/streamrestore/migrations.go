package streamrestore

import (
	"embed"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func newMigrationSource() (source.Driver, error) {
	return iofs.New(migrationsFS, "migrations")
}
