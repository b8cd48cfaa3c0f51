// Package schema carries the embedded SQL migrations for the central store
// and for tenant databases, and applies them with goose. Tenant schemas are
// identical across tenants; the provisioner runs MigrateTenant against each
// freshly created database.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

// goose keeps the base FS and dialect as package state, so migrations are
// applied under a lock.
var mu sync.Mutex

// MarkerTable is the baseline table whose presence signals that a tenant
// database is migrated and query-ready.
const MarkerTable = "users"

func MigrateCentral(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db, "migrations/central")
}

func MigrateTenant(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db, "migrations/tenant")
}

func migrate(ctx context.Context, db *sql.DB, dir string) error {
	mu.Lock()
	defer mu.Unlock()
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, dir)
}
