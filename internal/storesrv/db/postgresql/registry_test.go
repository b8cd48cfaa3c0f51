package postgresql

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/routing"
)

type centralPools struct {
	central *sql.DB
}

func (p *centralPools) Central() *sql.DB { return p.central }

func (p *centralPools) TenantDB(_ context.Context, _ string) (*sql.DB, apperrors.Error) {
	return nil, dberror.ErrDatabase.New("no tenant pools in this test")
}

func (p *centralPools) DatabaseNameFor(t *models.Tenant) string {
	return "tenant_" + t.ID
}

func newTestRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	rt := routing.NewRouter(&centralPools{central: db})
	return NewRegistry(rt), mock
}

func tenantRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "owner_email", "metadata", "database_name", "connection_name", "created_at", "updated_at",
	}).AddRow("acme", "Acme Shoes", "owner@acme.test", nil, "tenant_acme", "tenant:tenant_acme", now, now)
}

func TestGetTenantByDomainFound(t *testing.T) {
	reg, mock := newTestRegistry(t)

	mock.ExpectQuery(`SELECT t.id, t.name, .+ FROM tenants t\s+JOIN domains d`).
		WithArgs("acme.localhost").
		WillReturnRows(tenantRows())

	tenant, err := reg.GetTenantByDomain(context.Background(), "ACME.localhost ")
	require.Nil(t, err)
	assert.Equal(t, "acme", tenant.ID)
	assert.Equal(t, "tenant_acme", tenant.DatabaseName)
	assert.True(t, tenant.Provisioned())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenantByDomainMiss(t *testing.T) {
	reg, mock := newTestRegistry(t)

	mock.ExpectQuery(`JOIN domains d`).
		WithArgs("nosuch.localhost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	tenant, err := reg.GetTenantByDomain(context.Background(), "nosuch.localhost")
	assert.Nil(t, tenant)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestCreateTenantWithDomain(t *testing.T) {
	reg, mock := newTestRegistry(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tenants`).
		WithArgs("acme", "Acme Shoes", "owner@acme.test", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO domains`).
		WithArgs("acme", "acme.localhost").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tenant := &models.Tenant{ID: "acme", Name: "Acme Shoes", OwnerEmail: "owner@acme.test"}
	err := reg.CreateTenantWithDomain(context.Background(), tenant, "Acme.localhost")
	require.Nil(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTenantWithDomainConflict(t *testing.T) {
	reg, mock := newTestRegistry(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tenants`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO domains`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT tenant_id FROM domains`).
		WithArgs("taken.localhost").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("other"))
	mock.ExpectRollback()

	tenant := &models.Tenant{ID: "acme", Name: "Acme Shoes", OwnerEmail: "owner@acme.test"}
	err := reg.CreateTenantWithDomain(context.Background(), tenant, "taken.localhost")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrDomainConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTenantWithDomainIdempotent(t *testing.T) {
	reg, mock := newTestRegistry(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tenants`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO domains`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT tenant_id FROM domains`).
		WithArgs("acme.localhost").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("acme"))
	mock.ExpectCommit()

	tenant := &models.Tenant{ID: "acme", Name: "Acme Shoes", OwnerEmail: "owner@acme.test"}
	err := reg.CreateTenantWithDomain(context.Background(), tenant, "acme.localhost")
	require.Nil(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTenantWithDomainIDTakenByConcurrentRegistration(t *testing.T) {
	reg, mock := newTestRegistry(t)

	// the loser's view of an ID race: its tenant insert hits the winner's
	// committed row, but the new domain insert succeeds
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tenants`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO domains`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	tenant := &models.Tenant{ID: "acme", Name: "Acme Outlet", OwnerEmail: "outlet@acme.test"}
	err := reg.CreateTenantWithDomain(context.Background(), tenant, "outlet.localhost")
	require.NotNil(t, err, "registration must fail when the tenant row was not actually created")
	assert.ErrorIs(t, err, dberror.ErrAlreadyExists)
	assert.NotErrorIs(t, err, dberror.ErrDomainConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDomainExists(t *testing.T) {
	reg, mock := newTestRegistry(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM domains`).
		WithArgs("acme.localhost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := reg.DomainExists(context.Background(), "ACME.localhost")
	require.Nil(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTenantStorageMissingTenant(t *testing.T) {
	reg, mock := newTestRegistry(t)

	mock.ExpectExec(`UPDATE tenants`).
		WithArgs("ghost", "tenant_ghost", "tenant:tenant_ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := reg.UpdateTenantStorage(context.Background(), "ghost", "tenant_ghost", "tenant:tenant_ghost")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestDeleteTenantCascade(t *testing.T) {
	reg, mock := newTestRegistry(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM domains`).
		WithArgs("acme").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM tenants`).
		WithArgs("acme").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := reg.DeleteTenantCascade(context.Background(), "acme")
	require.Nil(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
