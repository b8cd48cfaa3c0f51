// Package provisioner owns the tenant lifecycle: registry record creation,
// asynchronous database creation and migration, readiness probing, and
// compensating teardown when registration fails downstream.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/db/postgresql"
	"github.com/vendra/storefront/internal/storesrv/routing"
	"github.com/vendra/storefront/internal/storesrv/schema"
)

var (
	ErrProvisioning apperrors.Error = apperrors.New("provisioning error").SetStatusCode(http.StatusServiceUnavailable)
	// ErrProvisioningTimeout means storage did not become ready within the
	// bounded wait budget. Callers surface it as "try again shortly".
	ErrProvisioningTimeout apperrors.Error = ErrProvisioning.New("tenant storage did not become ready in time")
)

// RegistryAPI is the slice of the central registry the provisioner drives.
type RegistryAPI interface {
	TenantIDExists(ctx context.Context, tenantID string) (bool, apperrors.Error)
	CreateTenantWithDomain(ctx context.Context, tenant *models.Tenant, domain string) apperrors.Error
	UpdateTenantStorage(ctx context.Context, tenantID, databaseName, connectionName string) apperrors.Error
	DeleteTenantCascade(ctx context.Context, tenantID string) apperrors.Error
}

// StoragePools adds pool eviction to the routing view of the physical
// pools; deprovisioning must drop a cached pool before dropping the
// database behind it.
type StoragePools interface {
	routing.Pools
	CloseTenant(dbname string)
}

type Provisioner struct {
	registry RegistryAPI
	pools    StoragePools
	jobs     chan *models.Tenant
	wg       sync.WaitGroup
	once     sync.Once
}

func New(registry RegistryAPI, pools StoragePools) *Provisioner {
	return &Provisioner{
		registry: registry,
		pools:    pools,
		jobs:     make(chan *models.Tenant, 64),
	}
}

// maxIDAttempts bounds the create retries when concurrent registrations
// keep winning the same slug.
const maxIDAttempts = 3

// CreateTenant generates a unique slug ID from the store name and creates
// the tenant record plus its first domain in one central transaction, then
// queues storage provisioning. A concurrent registration can take the
// probed ID before the insert commits; the registry rejects that insert and
// the loop probes again for a fresh ID. The returned tenant is in its
// unprovisioned phase until the worker writes the storage keys back.
func (p *Provisioner) CreateTenant(ctx context.Context, storeName, domain, ownerEmail string) (*models.Tenant, apperrors.Error) {
	base := Slugify(storeName)
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := p.uniqueTenantID(ctx, base)
		if err != nil {
			return nil, err
		}
		tenant := &models.Tenant{
			ID:         id,
			Name:       storeName,
			OwnerEmail: ownerEmail,
		}
		err = p.registry.CreateTenantWithDomain(ctx, tenant, domain)
		if err == nil {
			log.Ctx(ctx).Info().Str("tenant_id", tenant.ID).Str("domain", domain).Msg("tenant registered")
			p.Enqueue(ctx, tenant)
			return tenant, nil
		}
		if errors.Is(err, dberror.ErrDomainConflict) || !errors.Is(err, dberror.ErrAlreadyExists) {
			return nil, err
		}
		log.Ctx(ctx).Info().Str("tenant_id", id).Msg("tenant id lost to a concurrent registration, retrying")
	}
	return nil, dberror.ErrAlreadyExists.New("could not allocate a unique store id")
}

// uniqueTenantID disambiguates slug collisions with a numeric suffix:
// base, base-1, base-2, ... Existence is checked before each candidate, so
// the loop terminates as soon as a free ID is found.
func (p *Provisioner) uniqueTenantID(ctx context.Context, base string) (string, apperrors.Error) {
	candidate := base
	for i := 1; ; i++ {
		exists, err := p.registry.TenantIDExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// Start launches the background worker that provisions queued tenants.
func (p *Provisioner) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for tenant := range p.jobs {
			jctx := log.Ctx(ctx).With().Str("tenant_id", tenant.ID).Logger().WithContext(ctx)
			if err := p.ProvisionStorage(jctx, tenant); err != nil {
				// tenant stays unprovisioned; the registration path
				// detects this through AwaitReady and compensates
				log.Ctx(jctx).Error().Err(err).Msg("tenant provisioning failed")
			}
		}
	}()
}

// Stop drains the queue and waits for the worker to finish.
func (p *Provisioner) Stop() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}

// Enqueue hands a tenant to the provisioning worker. The queue is bounded;
// a full queue is logged and the tenant is left unprovisioned for the
// caller's wait-and-compensate logic to handle.
func (p *Provisioner) Enqueue(ctx context.Context, tenant *models.Tenant) {
	select {
	case p.jobs <- tenant:
	default:
		log.Ctx(ctx).Error().Str("tenant_id", tenant.ID).Msg("provisioning queue full, tenant not queued")
	}
}

// ProvisionStorage creates the tenant's physical database, applies the
// tenant schema, and writes the storage keys back to the registry. Each
// step is idempotent, so a re-run after a partial failure converges.
func (p *Provisioner) ProvisionStorage(ctx context.Context, tenant *models.Tenant) apperrors.Error {
	dbname := p.pools.DatabaseNameFor(tenant)
	if err := postgresql.CreateDatabase(ctx, p.pools.Central(), dbname); err != nil {
		return ErrProvisioning.New("failed to create tenant database").Err(err)
	}
	db, err := p.pools.TenantDB(ctx, dbname)
	if err != nil {
		return ErrProvisioning.New("failed to connect to tenant database").Err(err)
	}
	if errMig := schema.MigrateTenant(ctx, db); errMig != nil {
		return ErrProvisioning.New("failed to migrate tenant database").Err(errMig)
	}
	if err := p.registry.UpdateTenantStorage(ctx, tenant.ID, dbname, "tenant:"+dbname); err != nil {
		return ErrProvisioning.New("failed to record tenant storage keys").Err(err)
	}
	tenant.DatabaseName = dbname
	tenant.ConnectionName = "tenant:" + dbname
	log.Ctx(ctx).Info().Str("database", dbname).Msg("tenant storage provisioned")
	return nil
}

// Deprovision is the compensating path for registration failures: it drops
// the tenant's database and deletes the registry records. Best effort;
// every failure is logged and the last one returned, but a partial
// compensation never masks the caller's original error.
func (p *Provisioner) Deprovision(ctx context.Context, tenant *models.Tenant) apperrors.Error {
	var last apperrors.Error
	dbname := p.pools.DatabaseNameFor(tenant)
	p.pools.CloseTenant(dbname)
	if err := postgresql.DropDatabase(ctx, p.pools.Central(), dbname); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("tenant_id", tenant.ID).Msg("tenant rollback: failed to drop database")
		last = err
	}
	if err := p.registry.DeleteTenantCascade(ctx, tenant.ID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("tenant_id", tenant.ID).Msg("tenant rollback: failed to delete registry records")
		last = err
	}
	if last == nil {
		log.Ctx(ctx).Info().Str("tenant_id", tenant.ID).Msg("tenant rollback complete")
	}
	return last
}
