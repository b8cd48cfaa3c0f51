// Package routing maps logical data-access operations onto physical
// database handles. Every operation declares what it needs (central store,
// the active tenant's store, or whatever the ambient default is) and the
// router resolves that against the request's tenancy scope and binding
// state. The binding state is request-scoped: it rides the context, so one
// request's override can never bleed into another.
package routing

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/tenancy"
)

// OperationKind declares the storage requirement of a data-access operation.
type OperationKind int

const (
	// CentralOnly operations (registry rows, session rows) always hit the
	// central store, whatever tenant is active.
	CentralOnly OperationKind = iota
	// TenantScoped operations (users, products, carts) require an active
	// tenant and hit that tenant's database only.
	TenantScoped
	// DefaultFollowsContext operations run against the ambient default
	// connection: the active tenant's database once the pipeline has bound
	// it, the central store otherwise, and whatever WithOverride says while
	// an override is in effect.
	DefaultFollowsContext
)

// CentralConnection is the binding name of the central store.
const CentralConnection = "central"

var (
	ErrRouting apperrors.Error = apperrors.New("connection routing error").SetStatusCode(http.StatusInternalServerError)
	// ErrNoActiveTenant flags a pipeline ordering defect: a TenantScoped
	// operation ran before tenancy was initialized. Not a user error.
	ErrNoActiveTenant apperrors.Error = ErrRouting.New("tenant-scoped operation without an active tenant")
	// ErrNoBindings means WithBindings was not run for this request.
	ErrNoBindings apperrors.Error = ErrRouting.New("connection bindings not attached to context")
)

// Pools is the physical side of the router, satisfied by dbmanager.Manager.
type Pools interface {
	Central() *sql.DB
	TenantDB(ctx context.Context, dbname string) (*sql.DB, apperrors.Error)
	DatabaseNameFor(t *models.Tenant) string
}

type ctxKeyType string

const ctxBindingKey ctxKeyType = "ConnectionBindings"

// bindingState is mutable and request-scoped. The default name is restored
// by WithOverride on every exit path, so callers never save/restore by hand.
type bindingState struct {
	def string
}

// WithBindings installs fresh binding state with the central store as the
// default connection.
func WithBindings(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxBindingKey, &bindingState{def: CentralConnection})
}

func bindingsFrom(ctx context.Context) *bindingState {
	s, _ := ctx.Value(ctxBindingKey).(*bindingState)
	return s
}

// DefaultConnection returns the current ambient default connection name.
func DefaultConnection(ctx context.Context) string {
	if s := bindingsFrom(ctx); s != nil {
		return s.def
	}
	return CentralConnection
}

type Router struct {
	pools Pools
}

func NewRouter(pools Pools) *Router {
	return &Router{pools: pools}
}

// Resolve returns the physical handle for one operation of the given kind.
func (rt *Router) Resolve(ctx context.Context, kind OperationKind) (*sql.DB, apperrors.Error) {
	switch kind {
	case CentralOnly:
		return rt.pools.Central(), nil
	case TenantScoped:
		tenant := tenancy.Current(ctx)
		if tenant == nil {
			log.Ctx(ctx).Error().Msg("tenant-scoped operation attempted without active tenant")
			return nil, ErrNoActiveTenant
		}
		return rt.pools.TenantDB(ctx, rt.pools.DatabaseNameFor(tenant))
	case DefaultFollowsContext:
		name := DefaultConnection(ctx)
		if name == CentralConnection {
			return rt.pools.Central(), nil
		}
		return rt.pools.TenantDB(ctx, name)
	}
	return nil, ErrRouting.New("unknown operation kind")
}

// BindTenant switches the ambient default to the tenant's connection for the
// remainder of the request. The pipeline calls this right after tenancy
// initialization.
func (rt *Router) BindTenant(ctx context.Context, tenant *models.Tenant) apperrors.Error {
	s := bindingsFrom(ctx)
	if s == nil {
		return ErrNoBindings
	}
	dbname := rt.pools.DatabaseNameFor(tenant)
	if dbname == "" {
		return ErrRouting.New("tenant has no database name")
	}
	s.def = dbname
	return nil
}

// ResetDefault restores the central store as the ambient default. Teardown
// calls this so a reused worker never inherits a tenant binding.
func ResetDefault(ctx context.Context) {
	if s := bindingsFrom(ctx); s != nil {
		s.def = CentralConnection
	}
}

// WithOverride runs op with the ambient default temporarily set to name and
// restores the prior default on every exit path, including panics. Session
// persistence uses this to reach the central store while a tenant connection
// is the ambient default.
func (rt *Router) WithOverride(ctx context.Context, name string, op func(ctx context.Context) error) error {
	s := bindingsFrom(ctx)
	if s == nil {
		return ErrNoBindings
	}
	prev := s.def
	s.def = name
	defer func() {
		s.def = prev
	}()
	return op(ctx)
}
