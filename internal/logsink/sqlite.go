package logsink

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) a SQLite database file and makes sure the
// log table exists. Used by the local runner.
func OpenSQLite(ctx context.Context, path, table string) (*SQL, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// Single writer connection; ":memory:" databases are also per-connection.
	db.SetMaxOpenConns(1)

	sink, err := NewSQL(db, SQLite, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}
