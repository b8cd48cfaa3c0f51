package provisioner

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
	"github.com/vendra/storefront/internal/storesrv/db/models"
)

type fakePools struct {
	central *sql.DB
	tenant  *sql.DB
	closed  []string
}

func (f *fakePools) Central() *sql.DB { return f.central }

func (f *fakePools) TenantDB(_ context.Context, _ string) (*sql.DB, apperrors.Error) {
	if f.tenant == nil {
		return nil, dberror.ErrDatabase.New("no tenant db")
	}
	return f.tenant, nil
}

func (f *fakePools) DatabaseNameFor(t *models.Tenant) string {
	if t.DatabaseName != "" {
		return t.DatabaseName
	}
	return "tenant_" + t.ID
}

func (f *fakePools) CloseTenant(dbname string) {
	f.closed = append(f.closed, dbname)
}

func TestDeprovisionDropsAndDeletes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DROP DATABASE IF EXISTS "tenant_acme"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	reg := &recordingRegistry{}
	pools := &fakePools{central: db}
	p := New(reg, pools)

	tenant := &models.Tenant{ID: "acme"}
	aerr := p.Deprovision(context.Background(), tenant)
	require.Nil(t, aerr)

	assert.Equal(t, []string{"tenant_acme"}, pools.closed)
	assert.Equal(t, []string{"acme"}, reg.deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeprovisionContinuesPastDropFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DROP DATABASE IF EXISTS "tenant_acme"`).
		WillReturnError(assert.AnError)

	reg := &recordingRegistry{}
	pools := &fakePools{central: db}
	p := New(reg, pools)

	tenant := &models.Tenant{ID: "acme"}
	aerr := p.Deprovision(context.Background(), tenant)
	require.NotNil(t, aerr)

	// registry cleanup still ran despite the drop failure
	assert.Equal(t, []string{"acme"}, reg.deleted)
}

func TestStopDrainsQueue(t *testing.T) {
	reg := &recordingRegistry{existing: map[string]bool{}}
	p := New(reg, &fakePools{})
	p.Stop()
	// Stop is idempotent
	p.Stop()
}
