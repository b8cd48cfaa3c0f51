package provisioner

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/dbmanager"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/db/postgresql"
	"github.com/vendra/storefront/internal/storesrv/schema"
)

// Readiness is the tri-state outcome of a storage probe. NotReady means
// the tenant's database or schema is verifiably absent; Unavailable means
// the probe itself failed and nothing can be concluded.
type Readiness int

const (
	Ready Readiness = iota
	NotReady
	Unavailable
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case NotReady:
		return "not-ready"
	default:
		return "unavailable"
	}
}

// StorageProber answers whether a tenant's storage is usable right now.
type StorageProber interface {
	Probe(ctx context.Context, tenant *models.Tenant) Readiness
}

// Probe checks the tenant's database existence and its marker table in a
// single pass. The marker table distinguishes a created-but-unmigrated
// database from a usable one.
func (p *Provisioner) Probe(ctx context.Context, tenant *models.Tenant) Readiness {
	dbname := p.pools.DatabaseNameFor(tenant)
	exists, err := postgresql.DatabaseExists(ctx, p.pools.Central(), dbname)
	if err != nil {
		return Unavailable
	}
	if !exists {
		return NotReady
	}
	db, aerr := p.pools.TenantDB(ctx, dbname)
	if aerr != nil {
		if errors.Is(aerr, dbmanager.ErrStorageMissing) {
			return NotReady
		}
		return Unavailable
	}
	migrated, err := postgresql.TableExists(ctx, db, schema.MarkerTable)
	if err != nil {
		return Unavailable
	}
	if !migrated {
		return NotReady
	}
	return Ready
}

var errStorageNotReady = errors.New("tenant storage not ready")

// AwaitReady polls the prober with exponential backoff until the tenant's
// storage is Ready, the attempt budget is spent, or ctx is canceled. The
// registration flow calls this right after enqueueing provisioning so the
// client gets a working store or a clean failure, never a half-built one.
func AwaitReady(ctx context.Context, prober StorageProber, tenant *models.Tenant, maxAttempts uint, baseDelay, maxDelay time.Duration) apperrors.Error {
	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			if prober.Probe(ctx, tenant) == Ready {
				return nil
			}
			return errStorageNotReady
		},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(baseDelay),
		retry.MaxDelay(maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, _ error) {
			log.Ctx(ctx).Debug().Str("tenant_id", tenant.ID).Uint("attempt", n+1).Msg("waiting for tenant storage")
		}),
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ErrProvisioning.New("wait for tenant storage canceled").Err(ctxErr)
	}
	log.Ctx(ctx).Error().Str("tenant_id", tenant.ID).Int("attempts", attempt).Msg("tenant storage never became ready")
	return ErrProvisioningTimeout
}
