package postgresql

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/routing"
)

// Registry is the durable domain -> tenant mapping, queried on every
// request. All of its operations are CentralOnly.
type Registry struct {
	router *routing.Router
}

func NewRegistry(rt *routing.Router) *Registry {
	return &Registry{router: rt}
}

const tenantColumns = `id, name, owner_email, metadata, database_name, connection_name, created_at, updated_at`

func scanTenant(row *sql.Row) (*models.Tenant, error) {
	var t models.Tenant
	var metadata pgtype.JSONB
	var dbName, connName sql.NullString
	err := row.Scan(&t.ID, &t.Name, &t.OwnerEmail, &metadata, &dbName, &connName, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Metadata = metadata
	t.DatabaseName = dbName.String
	t.ConnectionName = connName.String
	return &t, nil
}

// NormalizeDomain lowercases and trims a domain string. Registration and
// lookup both normalize this way, which is what makes lookups exact-match.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// GetTenantByDomain resolves a hostname to its owning tenant. Exact match
// only: a registered "store1.example" does not cover "www.store1.example".
func (r *Registry) GetTenantByDomain(ctx context.Context, host string) (*models.Tenant, apperrors.Error) {
	db, err := r.router.Resolve(ctx, routing.CentralOnly)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT t.id, t.name, t.owner_email, t.metadata, t.database_name, t.connection_name, t.created_at, t.updated_at
		FROM tenants t
		JOIN domains d ON d.tenant_id = t.id
		WHERE d.domain = $1;
	`
	tenant, errDb := scanTenant(db.QueryRowContext(ctx, query, NormalizeDomain(host)))
	if errDb != nil {
		if errDb == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.New("no tenant for domain")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("domain", host).Msg("failed to resolve tenant by domain")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return tenant, nil
}

// GetTenant fetches a tenant record by its ID.
func (r *Registry) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, apperrors.Error) {
	db, err := r.router.Resolve(ctx, routing.CentralOnly)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1;`
	tenant, errDb := scanTenant(db.QueryRowContext(ctx, query, tenantID))
	if errDb != nil {
		if errDb == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.New("tenant not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("tenant_id", tenantID).Msg("failed to get tenant")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return tenant, nil
}

// TenantIDExists supports the slug collision loop during registration.
func (r *Registry) TenantIDExists(ctx context.Context, tenantID string) (bool, apperrors.Error) {
	db, err := r.router.Resolve(ctx, routing.CentralOnly)
	if err != nil {
		return false, err
	}
	var exists bool
	errDb := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1);`, tenantID).Scan(&exists)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("tenant_id", tenantID).Msg("failed to check tenant id")
		return false, dberror.ErrDatabase.Err(errDb)
	}
	return exists, nil
}

// DomainExists reports whether a domain string is already registered,
// regardless of owner. Used for registration-time validation.
func (r *Registry) DomainExists(ctx context.Context, domain string) (bool, apperrors.Error) {
	db, err := r.router.Resolve(ctx, routing.CentralOnly)
	if err != nil {
		return false, err
	}
	var exists bool
	errDb := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM domains WHERE domain = $1);`, NormalizeDomain(domain)).Scan(&exists)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("domain", domain).Msg("failed to check domain")
		return false, dberror.ErrDatabase.Err(errDb)
	}
	return exists, nil
}

// CreateTenantWithDomain inserts the tenant record and its first domain in a
// single transaction: no observer ever sees one without the other. A domain
// already registered to a different tenant fails with ErrDomainConflict; the
// same (tenant, domain) pair is a no-op success. A tenant ID that was taken
// by a concurrent registration fails with ErrAlreadyExists so the caller can
// retry with a fresh ID.
func (r *Registry) CreateTenantWithDomain(ctx context.Context, tenant *models.Tenant, domain string) (err apperrors.Error) {
	db, err := r.router.Resolve(ctx, routing.CentralOnly)
	if err != nil {
		return err
	}
	domain = NormalizeDomain(domain)
	if tenant.Metadata.Status == pgtype.Undefined {
		tenant.Metadata = pgtype.JSONB{Status: pgtype.Null}
	}

	tx, errDb := db.BeginTx(ctx, &sql.TxOptions{})
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to start transaction")
		return dberror.ErrDatabase.Err(errDb)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	insertTenant := `
		INSERT INTO tenants (id, name, owner_email, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	res, errDb := tx.ExecContext(ctx, insertTenant, tenant.ID, tenant.Name, tenant.OwnerEmail, tenant.Metadata)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("tenant_id", tenant.ID).Msg("failed to insert tenant")
		return dberror.ErrDatabase.Err(errDb)
	}
	tenantInserted, _ := res.RowsAffected()

	insertDomain := `
		INSERT INTO domains (tenant_id, domain)
		VALUES ($1, $2)
		ON CONFLICT (domain) DO NOTHING;
	`
	res, errDb = tx.ExecContext(ctx, insertDomain, tenant.ID, domain)
	if errDb != nil {
		if pgErrCode(errDb) == pgUniqueViolation {
			return dberror.ErrDomainConflict
		}
		log.Ctx(ctx).Error().Err(errDb).Str("domain", domain).Msg("failed to insert domain")
		return dberror.ErrDatabase.Err(errDb)
	}
	domainInserted, _ := res.RowsAffected()

	switch {
	case domainInserted == 0:
		// domain row already present; only a different owner is a conflict
		var owner string
		errDb = tx.QueryRowContext(ctx, `SELECT tenant_id FROM domains WHERE domain = $1;`, domain).Scan(&owner)
		if errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Str("domain", domain).Msg("failed to look up domain owner")
			return dberror.ErrDatabase.Err(errDb)
		}
		if owner != tenant.ID {
			log.Ctx(ctx).Info().Str("domain", domain).Str("owner", owner).Msg("domain already registered to another tenant")
			return dberror.ErrDomainConflict
		}
	case tenantInserted == 0:
		// the ID existed before this transaction: a concurrent registration
		// committed it between the caller's existence probe and this insert.
		// Committing now would bind the new domain to the other registration's
		// tenant record, so fail and leave the domain unbound.
		log.Ctx(ctx).Info().Str("tenant_id", tenant.ID).Msg("tenant id taken by a concurrent registration")
		return dberror.ErrAlreadyExists.New("tenant id already exists")
	}

	if errDb := tx.Commit(); errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

// UpdateTenantStorage writes the internal provisioning keys back to the
// tenant record once its database exists and is migrated.
func (r *Registry) UpdateTenantStorage(ctx context.Context, tenantID, databaseName, connectionName string) apperrors.Error {
	db, err := r.router.Resolve(ctx, routing.CentralOnly)
	if err != nil {
		return err
	}
	query := `
		UPDATE tenants
		SET database_name = $2, connection_name = $3, updated_at = now()
		WHERE id = $1;
	`
	res, errDb := db.ExecContext(ctx, query, tenantID, databaseName, connectionName)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("tenant_id", tenantID).Msg("failed to update tenant storage keys")
		return dberror.ErrDatabase.Err(errDb)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.New("tenant not found")
	}
	return nil
}

// DeleteTenantCascade removes the tenant's domains and the tenant record in
// one transaction. Used on administrative removal and on registration
// rollback.
func (r *Registry) DeleteTenantCascade(ctx context.Context, tenantID string) (err apperrors.Error) {
	db, err := r.router.Resolve(ctx, routing.CentralOnly)
	if err != nil {
		return err
	}
	tx, errDb := db.BeginTx(ctx, &sql.TxOptions{})
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to start transaction")
		return dberror.ErrDatabase.Err(errDb)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	if _, errDb = tx.ExecContext(ctx, `DELETE FROM domains WHERE tenant_id = $1;`, tenantID); errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("tenant_id", tenantID).Msg("failed to delete domains")
		return dberror.ErrDatabase.Err(errDb)
	}
	if _, errDb = tx.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1;`, tenantID); errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("tenant_id", tenantID).Msg("failed to delete tenant")
		return dberror.ErrDatabase.Err(errDb)
	}
	if errDb := tx.Commit(); errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}
