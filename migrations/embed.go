package migrations

import "embed"

// Files exposes embedded SQL migration files. Postgres migrations live at the
// root; SQLite ones under sqlite/.
//
//go:embed *.sql sqlite/*.sql
var Files embed.FS

// SQLiteDir is the directory inside Files holding SQLite migrations.
const SQLiteDir = "sqlite"
