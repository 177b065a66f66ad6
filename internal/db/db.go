package db

import (
	"database/sql"
	"fmt"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle holding sessions, zone events and activity
// observations.
type DB struct {
	*sql.DB
	path string
}

// pragmas are applied to every connection opened through OpenDB.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// OpenDB opens the database and applies the pragmas without touching the
// schema. Migrations are managed separately.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single connection: streams share one writer and ":memory:" databases
	// exist per connection.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// NewDB opens the database and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	return NewDBWithMigrationCheck(path, true)
}

// NewDBWithMigrationCheck opens the database. With migrate set, pending
// migrations are applied; otherwise an out of date schema is an error.
func NewDBWithMigrationCheck(path string, migrate bool) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.MigrateUp(MigrationsFS()); err != nil {
			db.Close()
			return nil, err
		}
	} else if err := db.CheckMigrations(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	version, _, _ := db.MigrateVersion(MigrationsFS())
	monitoring.Logf("database %s ready at schema version %d", path, version)
	return db, nil
}

// Path returns the path the database was opened with.
func (db *DB) Path() string {
	return db.path
}
