// Package tenancy tracks which tenant, if any, is active for the current
// request. The scope rides the request's context.Context; there is no
// process-wide current tenant, so concurrently executing requests can never
// observe each other's scope.
package tenancy

import (
	"context"
	"net/http"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/models"
)

type ctxKeyType string

const ctxScopeKey ctxKeyType = "TenancyScope"

var (
	ErrTenancy apperrors.Error = apperrors.New("tenancy error").SetStatusCode(http.StatusInternalServerError)
	// ErrNoScope means a handler ran outside the request pipeline; the
	// scope is installed by middleware before any business logic.
	ErrNoScope apperrors.Error = ErrTenancy.New("tenancy scope not attached to context")
	// ErrTenantMismatch means Initialize was called while a different
	// tenant was already active. The scope is left unchanged.
	ErrTenantMismatch apperrors.Error = ErrTenancy.New("tenancy already initialized for another tenant")
)

// scope is deliberately a pointer held in the context: Initialize and End
// mutate the request's scope in place so every frame of the call chain sees
// the same state without re-deriving contexts.
type scope struct {
	tenant      *models.Tenant
	initialized bool
}

// WithScope installs an empty tenancy scope. Every request gets one,
// central-domain requests simply leave it uninitialized.
func WithScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxScopeKey, &scope{})
}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(ctxScopeKey).(*scope)
	return s
}

// Initialize makes tenant the active tenant for this scope. Re-initializing
// with the same tenant is a no-op; initializing with a different tenant
// while active is an error and leaves the scope untouched.
func Initialize(ctx context.Context, tenant *models.Tenant) apperrors.Error {
	s := scopeFrom(ctx)
	if s == nil {
		return ErrNoScope
	}
	if tenant == nil {
		return ErrTenancy.New("cannot initialize tenancy with nil tenant")
	}
	if s.initialized {
		if s.tenant != nil && s.tenant.ID == tenant.ID {
			return nil
		}
		return ErrTenantMismatch
	}
	s.tenant = tenant
	s.initialized = true
	return nil
}

// End clears the scope unconditionally. Safe to call when already
// uninitialized, and safe to call more than once.
func End(ctx context.Context) {
	s := scopeFrom(ctx)
	if s == nil {
		return
	}
	s.tenant = nil
	s.initialized = false
}

// Current returns the active tenant, or nil when uninitialized.
func Current(ctx context.Context) *models.Tenant {
	s := scopeFrom(ctx)
	if s == nil || !s.initialized {
		return nil
	}
	return s.tenant
}

func IsInitialized(ctx context.Context) bool {
	s := scopeFrom(ctx)
	return s != nil && s.initialized
}
