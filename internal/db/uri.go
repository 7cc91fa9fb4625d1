package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ParseURI converts a connection URI into a driver name and DSN.
// Supported forms:
//
//	sqlite:///path/to/file.db
//	sqlite://path/to/file.db
//	/path/to/file.db (bare path, assumed sqlite)
//
// Unsupported schemes return a ConnectionError.
func ParseURI(uri string) (driver, dsn string, err error) {
	trimmed := strings.TrimSpace(uri)
	if trimmed == "" {
		return "", "", NewConnectionError(uri, "empty connection URI", nil)
	}

	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		scheme := strings.ToLower(trimmed[:idx])
		rest := trimmed[idx+3:]
		switch scheme {
		case "sqlite", "sqlite3":
			// sqlite:///abs/path yields "/abs/path"; sqlite://rel yields "rel".
			return "sqlite", rest, nil
		default:
			return "", "", NewConnectionError(uri, "unsupported scheme: "+scheme, nil)
		}
	}

	return "sqlite", trimmed, nil
}

// Open establishes a database connection from a URI and verifies
// reachability with a ping. The returned handle is shared read-only
// state for the lifetime of an agent session.
func Open(ctx context.Context, uri string) (*sql.DB, error) {
	driver, dsn, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	handle, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, NewConnectionError(uri, "open database: "+err.Error(), err)
	}

	// Single-user cooperative model: one statement in flight at a time.
	handle.SetMaxOpenConns(1)
	handle.SetConnMaxLifetime(5 * time.Minute)

	if err := handle.PingContext(ctx); err != nil {
		_ = handle.Close()
		return nil, NewConnectionError(uri, "ping database: "+err.Error(), err)
	}

	return handle, nil
}
