package routing

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/tenancy"
)

type fakePools struct {
	central *sql.DB
	tenants map[string]*sql.DB
	prefix  string
}

func (f *fakePools) Central() *sql.DB { return f.central }

func (f *fakePools) TenantDB(ctx context.Context, dbname string) (*sql.DB, apperrors.Error) {
	if db, ok := f.tenants[dbname]; ok {
		return db, nil
	}
	return nil, apperrors.New("tenant database does not exist")
}

func (f *fakePools) DatabaseNameFor(t *models.Tenant) string {
	if t == nil {
		return ""
	}
	if t.DatabaseName != "" {
		return t.DatabaseName
	}
	return f.prefix + t.ID
}

func newFakePools(t *testing.T, tenantNames ...string) *fakePools {
	t.Helper()
	central, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { central.Close() })
	f := &fakePools{central: central, tenants: map[string]*sql.DB{}, prefix: "tenant_"}
	for _, name := range tenantNames {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		f.tenants[name] = db
	}
	return f
}

func newRequestCtx() context.Context {
	return WithBindings(tenancy.WithScope(context.Background()))
}

func TestResolveCentralOnly(t *testing.T) {
	pools := newFakePools(t, "tenant_acme-shoes")
	rt := NewRouter(pools)
	ctx := newRequestCtx()

	// central regardless of tenancy state
	db, err := rt.Resolve(ctx, CentralOnly)
	assert.Nil(t, err)
	assert.Same(t, pools.central, db)

	tenant := &models.Tenant{ID: "acme-shoes", DatabaseName: "tenant_acme-shoes"}
	require.NoError(t, tenancy.Initialize(ctx, tenant))
	require.Nil(t, rt.BindTenant(ctx, tenant))

	db, err = rt.Resolve(ctx, CentralOnly)
	assert.Nil(t, err)
	assert.Same(t, pools.central, db)
}

func TestResolveTenantScoped(t *testing.T) {
	pools := newFakePools(t, "tenant_acme-shoes")
	rt := NewRouter(pools)
	ctx := newRequestCtx()

	// no active tenant is a flow defect, not a lookup miss
	db, err := rt.Resolve(ctx, TenantScoped)
	assert.Nil(t, db)
	assert.ErrorIs(t, err, ErrNoActiveTenant)

	tenant := &models.Tenant{ID: "acme-shoes", DatabaseName: "tenant_acme-shoes"}
	require.NoError(t, tenancy.Initialize(ctx, tenant))
	db, err = rt.Resolve(ctx, TenantScoped)
	assert.Nil(t, err)
	assert.Same(t, pools.tenants["tenant_acme-shoes"], db)

	// ending tenancy revokes tenant-scoped access
	tenancy.End(ctx)
	_, err = rt.Resolve(ctx, TenantScoped)
	assert.ErrorIs(t, err, ErrNoActiveTenant)
}

func TestResolveDefaultFollowsContext(t *testing.T) {
	pools := newFakePools(t, "tenant_acme-shoes")
	rt := NewRouter(pools)
	ctx := newRequestCtx()

	db, err := rt.Resolve(ctx, DefaultFollowsContext)
	assert.Nil(t, err)
	assert.Same(t, pools.central, db)

	tenant := &models.Tenant{ID: "acme-shoes", DatabaseName: "tenant_acme-shoes"}
	require.NoError(t, tenancy.Initialize(ctx, tenant))
	require.Nil(t, rt.BindTenant(ctx, tenant))

	db, err = rt.Resolve(ctx, DefaultFollowsContext)
	assert.Nil(t, err)
	assert.Same(t, pools.tenants["tenant_acme-shoes"], db)

	ResetDefault(ctx)
	db, err = rt.Resolve(ctx, DefaultFollowsContext)
	assert.Nil(t, err)
	assert.Same(t, pools.central, db)
}

func TestWithOverrideRestoresOnSuccessAndError(t *testing.T) {
	pools := newFakePools(t, "tenant_acme-shoes")
	rt := NewRouter(pools)
	ctx := newRequestCtx()

	tenant := &models.Tenant{ID: "acme-shoes", DatabaseName: "tenant_acme-shoes"}
	require.NoError(t, tenancy.Initialize(ctx, tenant))
	require.Nil(t, rt.BindTenant(ctx, tenant))

	err := rt.WithOverride(ctx, CentralConnection, func(ctx context.Context) error {
		db, rerr := rt.Resolve(ctx, DefaultFollowsContext)
		assert.Nil(t, rerr)
		assert.Same(t, pools.central, db)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "tenant_acme-shoes", DefaultConnection(ctx))

	opErr := errors.New("session write failed")
	err = rt.WithOverride(ctx, CentralConnection, func(ctx context.Context) error {
		return opErr
	})
	assert.ErrorIs(t, err, opErr)
	assert.Equal(t, "tenant_acme-shoes", DefaultConnection(ctx))
}

func TestWithOverrideRestoresOnPanic(t *testing.T) {
	pools := newFakePools(t, "tenant_acme-shoes")
	rt := NewRouter(pools)
	ctx := newRequestCtx()

	tenant := &models.Tenant{ID: "acme-shoes", DatabaseName: "tenant_acme-shoes"}
	require.NoError(t, tenancy.Initialize(ctx, tenant))
	require.Nil(t, rt.BindTenant(ctx, tenant))

	assert.Panics(t, func() {
		rt.WithOverride(ctx, CentralConnection, func(ctx context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, "tenant_acme-shoes", DefaultConnection(ctx))
}

func TestBindTenantRequiresBindings(t *testing.T) {
	pools := newFakePools(t)
	rt := NewRouter(pools)
	ctx := tenancy.WithScope(context.Background())

	err := rt.BindTenant(ctx, &models.Tenant{ID: "acme-shoes"})
	assert.ErrorIs(t, err, ErrNoBindings)
}
