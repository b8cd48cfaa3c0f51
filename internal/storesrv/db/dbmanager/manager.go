// Package dbmanager owns the physical database handles: one pool for the
// central store and one lazily opened pool per tenant database. Routing
// decides which handle an operation gets; this package only opens, caches,
// and closes them.
package dbmanager

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/models"
)

var (
	ErrManager apperrors.Error = apperrors.New("connection manager error").SetStatusCode(http.StatusInternalServerError)
	// ErrStorageMissing means the tenant's physical database does not
	// exist. The pipeline maps this to the tenant-not-found surface.
	ErrStorageMissing apperrors.Error = ErrManager.New("tenant database does not exist").SetStatusCode(http.StatusNotFound)
)

// invalid_catalog_name: connection attempted against a database that does
// not exist.
const pgInvalidCatalogName = "3D000"

type Manager struct {
	mu      sync.Mutex
	central *sql.DB
	tenants map[string]*sql.DB
	dsn     string
	prefix  string
}

// New opens and verifies the central pool. The tenant prefix is used both to
// derive database names for unprovisioned tenants and to key tenant pools.
func New(ctx context.Context, centralDSN, tenantPrefix string) (*Manager, error) {
	db, err := sql.Open("pgx", centralDSN)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to open central db")
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping central db")
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(16)
	return &Manager{
		central: db,
		tenants: make(map[string]*sql.DB),
		dsn:     centralDSN,
		prefix:  tenantPrefix,
	}, nil
}

// Central returns the shared central pool. Never nil on a constructed Manager.
func (m *Manager) Central() *sql.DB {
	return m.central
}

// DatabaseNameFor returns the tenant's assigned database name, falling back
// to the derived prefix+ID name while provisioning has not written the
// internal keys back yet.
func (m *Manager) DatabaseNameFor(t *models.Tenant) string {
	if t == nil {
		return ""
	}
	if t.DatabaseName != "" {
		return t.DatabaseName
	}
	return m.prefix + t.ID
}

// TenantDB returns the pool for the named tenant database, opening it on
// first use. A connection refused by the server because the database does
// not exist surfaces as ErrStorageMissing.
func (m *Manager) TenantDB(ctx context.Context, dbname string) (*sql.DB, apperrors.Error) {
	if dbname == "" {
		return nil, ErrManager.New("empty tenant database name")
	}
	m.mu.Lock()
	if db, ok := m.tenants[dbname]; ok {
		m.mu.Unlock()
		return db, nil
	}
	m.mu.Unlock()

	db, err := sql.Open("pgx", dsnWithDatabase(m.dsn, dbname))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("database", dbname).Msg("failed to open tenant db")
		return nil, ErrManager.Err(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgInvalidCatalogName {
			return nil, ErrStorageMissing.Err(err)
		}
		log.Ctx(ctx).Error().Err(err).Str("database", dbname).Msg("failed to ping tenant db")
		return nil, ErrManager.Err(err)
	}
	db.SetMaxOpenConns(8)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tenants[dbname]; ok {
		// lost the race; keep the pool that got registered first
		db.Close()
		return existing, nil
	}
	m.tenants[dbname] = db
	return db, nil
}

// CloseTenant evicts and closes the pool for one tenant database. Used after
// deprovisioning so a dropped database does not keep a cached pool alive.
func (m *Manager) CloseTenant(dbname string) {
	m.mu.Lock()
	db, ok := m.tenants[dbname]
	delete(m.tenants, dbname)
	m.mu.Unlock()
	if ok {
		db.Close()
	}
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, db := range m.tenants {
		db.Close()
		delete(m.tenants, name)
	}
	if m.central != nil {
		m.central.Close()
	}
}

// dsnWithDatabase swaps the dbname in a keyword/value DSN, appending it when
// the DSN carries none.
func dsnWithDatabase(dsn, dbname string) string {
	fields := strings.Fields(dsn)
	replaced := false
	for i, f := range fields {
		if strings.HasPrefix(f, "dbname=") {
			fields[i] = "dbname=" + dbname
			replaced = true
		}
	}
	if !replaced {
		fields = append(fields, "dbname="+dbname)
	}
	return strings.Join(fields, " ")
}
