// Package postgresql implements the storefront's data access against
// PostgreSQL: the central registry (tenants, domains), central session rows,
// the per-tenant store (users, products, carts), and the DDL used while
// provisioning tenant databases. Every operation resolves its physical
// connection through the routing layer.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"regexp"

	"github.com/jackc/pgconn"
)

// Querier is the subset of database/sql used by row-level helpers, so the
// same statements can run against a pool, a connection, or a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	pgUniqueViolation   = "23505"
	pgDuplicateDatabase = "42P04"
)

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// Database identifiers are interpolated into DDL (CREATE/DROP DATABASE does
// not take bind parameters), so they are restricted to slug-safe characters.
var identPattern = regexp.MustCompile(`^[a-z0-9_][a-z0-9_-]*$`)

func validIdentifier(name string) bool {
	return len(name) > 0 && len(name) <= 63 && identPattern.MatchString(name)
}
