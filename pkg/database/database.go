// Package database provides read access to the PostgreSQL system of record.
// It wraps pgxpool for connection pooling with configurable limits, timeouts,
// and automatic reconnection. The sync worker never writes here: it loads
// rows to rebuild search documents and lists ids for a full reindex.
//
// Example usage:
//
//	pool, err := database.NewPool(ctx, cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	err = pool.Snapshot(ctx, func(db database.Database) error {
//	    rows, err := db.Query(ctx, "SELECT id FROM players")
//	    ...
//	})
package database

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Database defines the read operations shared by Pool and Snapshot transactions.
type Database interface {
	// Query executes a query that returns rows, typically a SELECT.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)

	// QueryRow executes a query that is expected to return at most one row.
	// Errors are deferred until Row's Scan method is called.
	// If the query selects no rows, the Row's Scan will return pgx.ErrNoRows.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// SnapshotFunc reads from a consistent snapshot of the database.
type SnapshotFunc func(db Database) error
