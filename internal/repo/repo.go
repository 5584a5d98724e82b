package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"docfish/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when set, otherwise the shared handle.
func (r Repo) q(tx *sql.Tx) Querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func queryBuilder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(ErrNotFound, format, args...)
	}
	return err
}

// IsUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY constraint.
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func conflict(err error, format string, args ...any) error {
	if IsUniqueViolation(err) {
		return errors.Wrapf(domain.ErrConflict, format, args...)
	}
	return err
}

func selectAll[T any](ctx context.Context, q Querier, b squirrel.Sqlizer, scan func(*sql.Rows) (T, error)) ([]T, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanStrings(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func exists(ctx context.Context, q Querier, query string, args ...any) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, query, args...).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, collectionID, evtType string) ([]domain.Event, error) {
	b := queryBuilder().
		Select("id", "ts", "type", "COALESCE(collection_id,'')", "entity_kind", "COALESCE(entity_id,'')", "actor_id", "payload_json").
		From("events").
		OrderBy("id DESC")
	if collectionID != "" {
		b = b.Where(squirrel.Eq{"collection_id": collectionID})
	}
	if evtType != "" {
		b = b.Where(squirrel.Eq{"type": evtType})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return selectAll(ctx, r.DB, b, func(rows *sql.Rows) (domain.Event, error) {
		var ev domain.Event
		err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.CollectionID, &ev.EntityKind, &ev.EntityID, &ev.ActorID, &ev.Payload)
		return ev, err
	})
}
