package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
)

// Open returns a libSQL-backed *sql.DB tuned for this server's write
// pattern: location pings update single player rows at a high rate, so
// the journal runs in WAL with relaxed fsync while foreign keys stay
// enforced. The busy timeout rides out checkpoint pauses.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection; cap the pool at one
	// so every query in a process (tests, mostly) sees the same data.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"journal_mode=WAL",
		"synchronous=NORMAL",
		"busy_timeout=5000",
		"foreign_keys=ON",
	} {
		// Some PRAGMAs return a row and libSQL rejects Exec for those;
		// querying and draining handles both kinds.
		rows, err := db.QueryContext(ctx, "PRAGMA "+pragma)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("applying PRAGMA %s: %w", pragma, err)
		}
		rows.Close()
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}
