// Package migrations embeds the SQL migration files into the binary
// and registers them with the database package at init time.
//
// Migration files follow the naming convention:
//
//	YYYYMMDD_HHMMSS_description.up.sql
//	YYYYMMDD_HHMMSS_description.down.sql
//
// Migrations are additive only once released; fix mistakes with a new
// migration, never by editing an applied one.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
