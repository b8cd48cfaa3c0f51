package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/common/httpx"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/provisioner"
	"github.com/vendra/storefront/internal/storesrv/routing"
	"github.com/vendra/storefront/internal/storesrv/tenancy"
)

// TenantResolver maps a request host to its tenant, if any.
type TenantResolver interface {
	GetTenantByDomain(ctx context.Context, host string) (*models.Tenant, apperrors.Error)
}

// TenancyPipeline is the middleware chain that identifies the tenant for a
// request and scopes everything downstream of it. Order matters: Scope
// installs the request-scoped tenancy slot and connection bindings,
// ResolveTenant fills them from the Host header, VerifyStorage gates
// tenant routes on storage readiness.
type TenancyPipeline struct {
	Resolver      TenantResolver
	Router        *routing.Router
	Prober        provisioner.StorageProber
	GraceWindow   time.Duration
	IsCentralHost func(host string) bool
}

// HostWithoutPort strips the port from a Host header value and lowercases
// the rest.
func HostWithoutPort(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}

// Scope installs an empty tenancy slot and central-default connection
// bindings for the request, and tears both down when the request ends.
// Teardown is unconditional so a recycled goroutine or reused context can
// never leak one tenant's identity into the next request.
func (p *TenancyPipeline) Scope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tenancy.WithScope(r.Context())
		ctx = routing.WithBindings(ctx)
		defer func() {
			tenancy.End(ctx)
			routing.ResetDefault(ctx)
		}()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ResolveTenant looks the request host up in the registry and initializes
// tenancy for the request. Central hosts skip resolution entirely. A miss
// leaves the request uninitialized; only routes behind VerifyStorage
// reject it.
func (p *TenancyPipeline) ResolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		host := HostWithoutPort(r.Host)
		if p.IsCentralHost != nil && p.IsCentralHost(host) {
			next.ServeHTTP(w, r)
			return
		}
		tenant, err := p.Resolver.GetTenantByDomain(ctx, host)
		if err != nil {
			if errors.Is(err, dberror.ErrNotFound) {
				next.ServeHTTP(w, r)
				return
			}
			log.Ctx(ctx).Error().Err(err).Str("host", host).Msg("tenant resolution failed")
			httpx.ErrStoreNotReady().Send(w)
			return
		}
		if aerr := tenancy.Initialize(ctx, tenant); aerr != nil {
			httpx.SendError(w, aerr)
			return
		}
		if aerr := p.Router.BindTenant(ctx, tenant); aerr != nil {
			httpx.SendError(w, aerr)
			return
		}
		log.Ctx(ctx).Debug().Str("tenant_id", tenant.ID).Str("host", host).Msg("tenant resolved")
		next.ServeHTTP(w, r)
	})
}

// VerifyStorage gates tenant routes on a live storage probe. An unknown
// host 404s; a tenant whose storage is not usable yet 503s while it is
// within the provisioning grace window and 404s after it; a probe fault
// always 503s since nothing can be concluded about the tenant.
func (p *TenancyPipeline) VerifyStorage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenant := tenancy.Current(ctx)
		if tenant == nil {
			httpx.ErrStoreNotFound().Send(w)
			return
		}
		switch p.Prober.Probe(ctx, tenant) {
		case provisioner.Ready:
			next.ServeHTTP(w, r)
		case provisioner.Unavailable:
			log.Ctx(ctx).Error().Str("tenant_id", tenant.ID).Msg("storage probe failed")
			httpx.ErrStoreNotReady().Send(w)
		default:
			if time.Since(tenant.CreatedAt) < p.GraceWindow {
				log.Ctx(ctx).Info().Str("tenant_id", tenant.ID).Msg("tenant storage still provisioning")
				httpx.ErrStoreNotReady().Send(w)
				return
			}
			log.Ctx(ctx).Warn().Str("tenant_id", tenant.ID).Msg("tenant storage absent past grace window")
			httpx.ErrStoreNotFound().Send(w)
		}
	})
}

// RequireCentralHost restricts a route to the central domains. On a tenant
// host the route simply does not exist.
func (p *TenancyPipeline) RequireCentralHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.IsCentralHost == nil || !p.IsCentralHost(HostWithoutPort(r.Host)) {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
