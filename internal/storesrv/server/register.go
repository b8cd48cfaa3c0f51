package server

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/httpx"
	"github.com/vendra/storefront/internal/storesrv/auth"
	"github.com/vendra/storefront/internal/storesrv/config"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/db/postgresql"
	"github.com/vendra/storefront/internal/storesrv/provisioner"
	"github.com/vendra/storefront/internal/storesrv/tenancy"
)

var validate = validator.New()

const subdomainRegex = `^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`
const subdomainMaxLength = 50

func subdomainValidator(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) > subdomainMaxLength {
		return false
	}
	return regexp.MustCompile(subdomainRegex).MatchString(s)
}

func init() {
	validate.RegisterValidation("subdomain", subdomainValidator)
}

type registerStoreReq struct {
	StoreName string `json:"store_name" validate:"required,min=2,max=100"`
	Subdomain string `json:"subdomain" validate:"required,subdomain"`
	Name      string `json:"name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
}

type registerStoreRsp struct {
	TenantID     string `json:"tenant_id"`
	Domain       string `json:"domain"`
	RedirectURL  string `json:"redirect_url"`
	SessionToken string `json:"session_token"`
}

// registerStore is the synchronous registration flow: create the tenant
// and its domain, wait for storage provisioning, bootstrap the admin user
// on the new database, and log them in. Any failure after the registry
// write compensates by tearing the tenant back down, so a failed
// registration leaves nothing behind and the domain can be retried.
func (s *StorefrontServer) registerStore(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()

	req := &registerStoreReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	if err := validate.Struct(req); err != nil {
		return nil, httpx.ErrInvalidRequest(err.Error())
	}
	domain := postgresql.NormalizeDomain(req.Subdomain + "." + config.Config().BaseDomain)
	if config.Config().IsCentralDomain(domain) {
		return nil, httpx.ErrInvalidRequest("subdomain is reserved")
	}
	// fast-path check; the create below still catches the race where the
	// domain is taken between here and the registry transaction
	if taken, aerr := s.registry.DomainExists(ctx, domain); aerr != nil {
		return nil, aerr
	} else if taken {
		return nil, httpx.ErrInvalidRequest("domain is already taken")
	}

	tenant, aerr := s.provisioner.CreateTenant(ctx, req.StoreName, domain, req.Email)
	if aerr != nil {
		if errors.Is(aerr, dberror.ErrDomainConflict) {
			return nil, httpx.ErrInvalidRequest("domain is already taken")
		}
		return nil, aerr
	}

	cfg := config.Config()
	if aerr := provisioner.AwaitReady(ctx, s.provisioner, tenant,
		uint(cfg.ProvisionMaxAttempts), cfg.ProvisionBaseDelay(), cfg.ProvisionMaxDelay()); aerr != nil {
		s.provisioner.Deprovision(ctx, tenant)
		return nil, aerr
	}

	// the registry record now carries the storage keys; refresh before
	// binding anything to the tenant
	refreshed, aerr := s.registry.GetTenant(ctx, tenant.ID)
	if aerr != nil {
		s.provisioner.Deprovision(ctx, tenant)
		return nil, aerr
	}
	tenant = refreshed

	session, err := s.bootstrapAdmin(r, tenant, req)
	if err != nil {
		s.provisioner.Deprovision(ctx, tenant)
		return nil, err
	}

	log.Ctx(ctx).Info().Str("tenant_id", tenant.ID).Str("domain", domain).Msg("store registered")
	redirect := "http://" + domain
	if port := cfg.ServerPort; port != "" && port != "80" {
		redirect += ":" + port
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   redirect,
		Response: &registerStoreRsp{
			TenantID:     tenant.ID,
			Domain:       domain,
			RedirectURL:  redirect,
			SessionToken: session.Token,
		},
	}, nil
}

// bootstrapAdmin creates the store's admin user directly on the tenant's
// new database and issues their first session. Tenancy is initialized only
// for the session issue and ended before returning; the registration
// request itself stays on the central surface.
func (s *StorefrontServer) bootstrapAdmin(r *http.Request, tenant *models.Tenant, req *registerStoreReq) (*models.Session, error) {
	ctx := r.Context()

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, httpx.ErrApplicationError("failed to hash password")
	}
	db, aerr := s.pools.TenantDB(ctx, s.pools.DatabaseNameFor(tenant))
	if aerr != nil {
		return nil, aerr
	}
	admin := &models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}
	if aerr := postgresql.InsertUser(ctx, db, admin); aerr != nil {
		return nil, aerr
	}

	if aerr := tenancy.Initialize(ctx, tenant); aerr != nil {
		return nil, aerr
	}
	defer tenancy.End(ctx)
	session, aerr := s.sessions.IssueFor(ctx, admin)
	if aerr != nil {
		return nil, aerr
	}
	return session, nil
}
