// Package migrations embeds SQL migration files and provides a function to apply them.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded SQL migration files, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Dialects maps a database driver name to its goose dialect and the
// directory holding its migrations.
var Dialects = map[string]struct{ Goose, Dir string }{
	"sqlite":   {Goose: "sqlite3", Dir: "sqlite"},
	"postgres": {Goose: "postgres", Dir: "postgres"},
}

// Setup points goose at the embedded migrations for driver and returns the
// directory to pass to goose commands.
func Setup(driver string) (string, error) {
	d, ok := Dialects[driver]
	if !ok {
		return "", fmt.Errorf("unknown database driver %q", driver)
	}

	goose.SetBaseFS(FS)
	if err := goose.SetDialect(d.Goose); err != nil {
		return "", fmt.Errorf("set dialect: %w", err)
	}
	return d.Dir, nil
}

// Run applies all pending migrations to the given database.
func Run(db *sql.DB, driver string) error {
	dir, err := Setup(driver)
	if err != nil {
		return err
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
