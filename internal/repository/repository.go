package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gel2mdt-server/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v not found: %w", what, id, domain.ErrNotFound)
}

// requireRow turns an update that touched nothing into ErrNotFound
func requireRow(tag pgconn.CommandTag, what string, id any) error {
	if tag.RowsAffected() == 0 {
		return notFound(what, id)
	}
	return nil
}

// nullableStrings passes an empty filter as NULL so "$n::text[] IS NULL" matches everything
func nullableStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
