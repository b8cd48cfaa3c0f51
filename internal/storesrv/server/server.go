// Package server wires the HTTP surface: the tenancy pipeline, the
// central registration endpoint, and the per-store API.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/httpx"
	"github.com/vendra/storefront/internal/common/logtrace"
	commonmiddleware "github.com/vendra/storefront/internal/common/middleware"
	"github.com/vendra/storefront/internal/storesrv/auth"
	"github.com/vendra/storefront/internal/storesrv/config"
	"github.com/vendra/storefront/internal/storesrv/db/postgresql"
	"github.com/vendra/storefront/internal/storesrv/provisioner"
	"github.com/vendra/storefront/internal/storesrv/routing"
)

type StorefrontServer struct {
	Router *chi.Mux

	registry    *postgresql.Registry
	tenantStore *postgresql.TenantStore
	sessions    *auth.Manager
	provisioner *provisioner.Provisioner
	pools       provisioner.StoragePools
	connRouter  *routing.Router
	pipeline    *TenancyPipeline
}

// Dependencies carries everything the HTTP layer needs; main builds it
// once after the stores and the provisioner are up.
type Dependencies struct {
	Registry    *postgresql.Registry
	TenantStore *postgresql.TenantStore
	Sessions    *auth.Manager
	Provisioner *provisioner.Provisioner
	Pools       provisioner.StoragePools
	ConnRouter  *routing.Router
}

func CreateNewServer(deps Dependencies) (*StorefrontServer, error) {
	s := &StorefrontServer{
		Router:      chi.NewRouter(),
		registry:    deps.Registry,
		tenantStore: deps.TenantStore,
		sessions:    deps.Sessions,
		provisioner: deps.Provisioner,
		pools:       deps.Pools,
		connRouter:  deps.ConnRouter,
	}
	s.pipeline = &TenancyPipeline{
		Resolver:      deps.Registry,
		Router:        deps.ConnRouter,
		Prober:        deps.Provisioner,
		GraceWindow:   config.Config().ProvisionGraceWindow(),
		IsCentralHost: config.Config().IsCentralDomain,
	}
	return s, nil
}

func (s *StorefrontServer) MountHandlers() {
	s.Router.Use(commonmiddleware.RequestLogger)
	s.Router.Use(commonmiddleware.PanicHandler)
	if config.Config().HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	s.Router.Use(s.pipeline.Scope)
	s.Router.Use(s.pipeline.ResolveTenant)
	s.Router.Route("/api", s.mountResourceHandlers)
	s.Router.Get("/version", s.getVersion)
	if logtrace.IsTraceEnabled() {
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("Error walking router")
		}
	}
}

func (s *StorefrontServer) mountResourceHandlers(r chi.Router) {
	// registration lives on the central domains only
	r.Group(func(r chi.Router) {
		r.Use(s.pipeline.RequireCentralHost)
		r.Post("/register", httpx.WrapHttpRsp(s.registerStore))
	})

	// everything else is the per-store surface, gated on storage readiness
	r.Group(func(r chi.Router) {
		r.Use(s.pipeline.VerifyStorage)
		r.Post("/login", httpx.WrapHttpRsp(s.login))
		r.Post("/logout", httpx.WrapHttpRsp(s.logout))
		r.Get("/session", httpx.WrapHttpRsp(s.whoAmI))
		r.Post("/users", httpx.WrapHttpRsp(s.createUser))
		r.Get("/products", httpx.WrapHttpRsp(s.listProducts))
		r.Post("/products", httpx.WrapHttpRsp(s.createProduct))
		r.Get("/cart", httpx.WrapHttpRsp(s.getCart))
		r.Post("/cart", httpx.WrapHttpRsp(s.addToCart))
	})
}

type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

func (s *StorefrontServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &GetVersionRsp{
		ServerVersion: "Vendra Storefront Server: 0.1.0",
		ApiVersion:    "v1alpha1",
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *StorefrontServer) HandleCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Accept-Encoding"},
		ExposedHeaders:   []string{"Link", "Location", "X-Storefront-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
