package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/httpx"
	"github.com/vendra/storefront/internal/storesrv/auth"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
	"github.com/vendra/storefront/internal/storesrv/db/models"
)

// sessionToken pulls the bearer token off the request. An empty return
// means the request is anonymous.
func sessionToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return r.Header.Get("X-Session-Token")
}

// requireUser authenticates the request's session against the active
// tenant.
func (s *StorefrontServer) requireUser(r *http.Request) (*models.User, error) {
	token := sessionToken(r)
	if token == "" {
		return nil, httpx.ErrUnAuthorized("missing session token")
	}
	user, aerr := s.sessions.Authenticate(r.Context(), token)
	if aerr != nil {
		return nil, aerr
	}
	return user, nil
}

type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userRsp struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
}

type loginRsp struct {
	SessionToken string  `json:"session_token"`
	User         userRsp `json:"user"`
}

func (s *StorefrontServer) login(r *http.Request) (*httpx.Response, error) {
	req := &loginReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	if err := validate.Struct(req); err != nil {
		return nil, httpx.ErrInvalidRequest(err.Error())
	}
	session, user, aerr := s.sessions.Login(r.Context(), req.Email, req.Password)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &loginRsp{
			SessionToken: session.Token,
			User:         userRsp{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role},
		},
	}, nil
}

func (s *StorefrontServer) logout(r *http.Request) (*httpx.Response, error) {
	token := sessionToken(r)
	if token == "" {
		return nil, httpx.ErrUnAuthorized("missing session token")
	}
	if aerr := s.sessions.Logout(r.Context(), token); aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: map[string]string{"status": "logged out"}}, nil
}

func (s *StorefrontServer) whoAmI(r *http.Request) (*httpx.Response, error) {
	user, err := s.requireUser(r)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &userRsp{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role},
	}, nil
}

type createUserReq struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// createUser lets a store admin add a member account to their store.
func (s *StorefrontServer) createUser(r *http.Request) (*httpx.Response, error) {
	user, err := s.requireUser(r)
	if err != nil {
		return nil, err
	}
	if user.Role != models.RoleAdmin {
		return nil, httpx.ErrUnAuthorized("admin role required")
	}
	req := &createUserReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	if err := validate.Struct(req); err != nil {
		return nil, httpx.ErrInvalidRequest(err.Error())
	}
	hash, errHash := auth.HashPassword(req.Password)
	if errHash != nil {
		return nil, httpx.ErrApplicationError("failed to hash password")
	}
	member := &models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         models.RoleMember,
	}
	if aerr := s.tenantStore.CreateUser(r.Context(), member); aerr != nil {
		if errors.Is(aerr, dberror.ErrAlreadyExists) {
			return nil, httpx.ErrInvalidRequest("email is already registered")
		}
		return nil, aerr
	}
	log.Ctx(r.Context()).Info().Str("user_id", member.ID.String()).Msg("user created")
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Response:   &userRsp{ID: member.ID, Name: member.Name, Email: member.Email, Role: member.Role},
	}, nil
}

type productRsp struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PriceCents  int64     `json:"price_cents"`
}

func (s *StorefrontServer) listProducts(r *http.Request) (*httpx.Response, error) {
	products, aerr := s.tenantStore.ListProducts(r.Context())
	if aerr != nil {
		return nil, aerr
	}
	rsp := make([]productRsp, 0, len(products))
	for _, p := range products {
		rsp = append(rsp, productRsp{ID: p.ID, Name: p.Name, Description: p.Description, PriceCents: p.PriceCents})
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}

type createProductReq struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	PriceCents  int64  `json:"price_cents" validate:"required,gt=0"`
}

func (s *StorefrontServer) createProduct(r *http.Request) (*httpx.Response, error) {
	user, err := s.requireUser(r)
	if err != nil {
		return nil, err
	}
	if user.Role != models.RoleAdmin {
		return nil, httpx.ErrUnAuthorized("admin role required")
	}
	req := &createProductReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	if err := validate.Struct(req); err != nil {
		return nil, httpx.ErrInvalidRequest(err.Error())
	}
	product := &models.Product{
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Attributes:  pgtype.JSONB{Status: pgtype.Null},
	}
	if aerr := s.tenantStore.CreateProduct(r.Context(), product); aerr != nil {
		return nil, aerr
	}
	log.Ctx(r.Context()).Info().Str("product_id", product.ID.String()).Msg("product created")
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Response:   &productRsp{ID: product.ID, Name: product.Name, Description: product.Description, PriceCents: product.PriceCents},
	}, nil
}

type cartItemRsp struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

func (s *StorefrontServer) getCart(r *http.Request) (*httpx.Response, error) {
	user, err := s.requireUser(r)
	if err != nil {
		return nil, err
	}
	items, aerr := s.tenantStore.GetCartItems(r.Context(), user.ID)
	if aerr != nil {
		return nil, aerr
	}
	rsp := make([]cartItemRsp, 0, len(items))
	for _, it := range items {
		rsp = append(rsp, cartItemRsp{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}

type addToCartReq struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0,lte=100"`
}

func (s *StorefrontServer) addToCart(r *http.Request) (*httpx.Response, error) {
	user, err := s.requireUser(r)
	if err != nil {
		return nil, err
	}
	req := &addToCartReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	if err := validate.Struct(req); err != nil {
		return nil, httpx.ErrInvalidRequest(err.Error())
	}
	item := &models.CartItem{
		UserID:    user.ID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	}
	if aerr := s.tenantStore.UpsertCartItem(r.Context(), item); aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: map[string]string{"status": "added"}}, nil
}
