package indexsync

import (
	"context"
	"fmt"

	"github.com/Combine-Capital/cqsync/pkg/database"
	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/search"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Source is the system of record.
type Source interface {
	// Load returns the current projection of one row, or a NotFound error
	// when the row is gone.
	Load(ctx context.Context, e Entity, id string) (search.Document, error)

	// ListIDs calls fn for every row id of e, in id order. It stops at the
	// first error fn returns.
	ListIDs(ctx context.Context, e Entity, fn func(id string) error) error
}

// DB is the subset of database.Pool a SQLSource reads through.
type DB interface {
	database.Database
	Snapshot(ctx context.Context, fn database.SnapshotFunc) error
}

// SQLSource reads entities from PostgreSQL tables named by the catalog.
type SQLSource struct {
	db DB
}

// NewSQLSource creates a source over db.
func NewSQLSource(db DB) *SQLSource {
	return &SQLSource{db: db}
}

// Load selects the row by id and projects it.
func (s *SQLSource) Load(ctx context.Context, e Entity, id string) (search.Document, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", e.columns(), pgx.Identifier{e.Table}.Sanitize())

	rows, err := s.db.Query(ctx, sql, id)
	if err != nil {
		return nil, loadError(e, id, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, loadError(e, id, err)
	}
	return e.Project(row), nil
}

// SQLSTATEs raised when an id cannot be cast to the id column's type.
const (
	sqlstateInvalidText = "22P02"
	sqlstateOutOfRange  = "22003"
)

// loadError classifies a failed row lookup. An id the column type cannot
// represent names no row, the same as a missing one.
func loadError(e Entity, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.NewNotFound(e.Type, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateInvalidText, sqlstateOutOfRange:
			return errors.NewNotFoundWithCause(e.Type, id, err)
		}
	}
	return errors.NewTemporary("load "+e.Type, err)
}

// ListIDs reads ids from a snapshot so a sweep sees one consistent view of
// the table.
func (s *SQLSource) ListIDs(ctx context.Context, e Entity, fn func(id string) error) error {
	sql := fmt.Sprintf("SELECT id FROM %s ORDER BY id", pgx.Identifier{e.Table}.Sanitize())

	var fnErr error
	err := s.db.Snapshot(ctx, func(db database.Database) error {
		rows, err := db.Query(ctx, sql)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return err
			}
			if fnErr = fn(idString(values[0])); fnErr != nil {
				return fnErr
			}
		}
		return rows.Err()
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return errors.NewTemporary("list "+e.Type+" ids", err)
	}
	return nil
}

// Check implements health.Checker.
func (s *SQLSource) Check(ctx context.Context) error {
	return database.CheckHealth(ctx, s.db)
}
