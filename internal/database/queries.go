package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"studiobook/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries implements domain.Queries on top of a querier.
type queries struct {
	q querier
}

var _ domain.Queries = (*queries)(nil)

// Instants are stored as unix milliseconds so range predicates compare numbers.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMillis(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullableInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullableInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// checkAffected turns a zero-row update or delete into NotFound.
func checkAffected(res sql.Result, what string, id int64) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return domain.WrapStorage(err, "rows affected")
	}
	if rows == 0 {
		return domain.NotFound(what, id)
	}
	return nil
}

func notFoundOr(err error, what string, id int64, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(what, id)
	}
	return domain.WrapStorage(err, op)
}
