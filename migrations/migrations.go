// Package migrations embeds the default init and upgrade scripts.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed scripts/*.sql
var scriptsFS embed.FS

// Scripts returns the embedded scripts with file names at the root, as the
// migration engine expects them: database-<name>.sql, upgrade-<name>_<v>.sql,
// pre-upgrade_<v>.sql and post-upgrade_<v>.sql.
func Scripts() fs.FS {
	fs, err := fs.Sub(scriptsFS, "scripts")
	if err != nil {
		panic(err) // should never happen since we control the embed path
	}
	return fs
}
