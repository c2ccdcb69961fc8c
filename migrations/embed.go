// Package migrations embeds the SQL schema files into the binary so the
// service can migrate its database without the files on disk.
package migrations

import (
	"embed"

	"github.com/verkstad/toolmgmt/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
