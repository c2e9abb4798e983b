package indexsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/database"
	cqerrors "github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
)

var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

var mapTemplateColumns = []string{"id", "name", "description", "game", "is_archived", "created_at"}

func newMockSource(t *testing.T) (*SQLSource, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mock.Close)
	return newMockSourceFrom(mock)
}

func newMockSourceFrom(mock pgxmock.PgxPoolIface) (*SQLSource, pgxmock.PgxPoolIface) {
	return NewSQLSource(database.NewPoolFrom(mock)), mock
}

func mapTemplate(t *testing.T) Entity {
	t.Helper()
	e, err := DefaultCatalog().Lookup("MapTemplate")
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestSQLSourceLoad(t *testing.T) {
	src, mock := newMockSource(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, name, description, game, is_archived, created_at FROM "map_templates" WHERE id = \$1`).
		WithArgs("abc123").
		WillReturnRows(pgxmock.NewRows(mapTemplateColumns).
			AddRow("abc123", "Dust 2", "Desert bomb map", "cs2", false, created))

	doc, err := src.Load(context.Background(), mapTemplate(t), "abc123")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.ID() != "abc123" || doc["name"] != "Dust 2" || doc["isArchived"] != false || doc["createdAt"] != created.Unix() {
		t.Errorf("Load() = %v", doc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestSQLSourceLoadMissing(t *testing.T) {
	src, mock := newMockSource(t)

	mock.ExpectQuery(`FROM "map_templates" WHERE id`).
		WithArgs("gone").
		WillReturnRows(pgxmock.NewRows(mapTemplateColumns))

	_, err := src.Load(context.Background(), mapTemplate(t), "gone")
	if !cqerrors.IsNotFound(err) {
		t.Errorf("Load(missing) error = %v, want not found", err)
	}
}

func TestSQLSourceLoadError(t *testing.T) {
	src, mock := newMockSource(t)

	mock.ExpectQuery(`FROM "map_templates" WHERE id`).
		WithArgs("abc123").
		WillReturnError(errors.New("connection reset"))

	_, err := src.Load(context.Background(), mapTemplate(t), "abc123")
	if !cqerrors.IsTemporary(err) {
		t.Errorf("Load() error = %v, want temporary", err)
	}
}

func TestSQLSourceLoadUncastableID(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want func(error) bool
	}{
		{"invalid text", &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "not-a-uuid"`}, cqerrors.IsNotFound},
		{"out of range", &pgconn.PgError{Code: "22003"}, cqerrors.IsNotFound},
		{"other sqlstate", &pgconn.PgError{Code: "57P01"}, cqerrors.IsTemporary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, mock := newMockSource(t)
			mock.ExpectQuery(`FROM "map_templates" WHERE id`).
				WithArgs("not-a-uuid").
				WillReturnError(tt.err)

			_, err := src.Load(context.Background(), mapTemplate(t), "not-a-uuid")
			if !tt.want(err) {
				t.Errorf("Load() error = %v", err)
			}
		})
	}
}

func TestSQLSourceListIDs(t *testing.T) {
	src, mock := newMockSource(t)
	players, _ := DefaultCatalog().Lookup("Player")

	mock.ExpectBeginTx(snapshotTx)
	mock.ExpectQuery(`SELECT id FROM "players" ORDER BY id`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("p1").AddRow("p2").AddRow("p3"))
	mock.ExpectCommit()

	var ids []string
	err := src.ListIDs(context.Background(), players, func(id string) error {
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		t.Fatalf("ListIDs() error = %v", err)
	}
	if len(ids) != 3 || ids[0] != "p1" || ids[2] != "p3" {
		t.Errorf("ListIDs() = %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestSQLSourceListIDsStopsOnCallbackError(t *testing.T) {
	src, mock := newMockSource(t)
	players, _ := DefaultCatalog().Lookup("Player")

	mock.ExpectBeginTx(snapshotTx)
	mock.ExpectQuery(`SELECT id FROM "players"`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("p1").AddRow("p2"))
	mock.ExpectRollback()

	boom := cqerrors.NewTemporary("queue down", nil)
	calls := 0
	err := src.ListIDs(context.Background(), players, func(id string) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("ListIDs() error = %v, want callback error", err)
	}
	if calls != 1 {
		t.Errorf("callback called %d times, want 1", calls)
	}
}
