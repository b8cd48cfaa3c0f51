package postgresql

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/routing"
)

// TenantStore accesses the per-tenant tables (users, products, carts).
// Every operation is TenantScoped: it resolves against the active tenant's
// database and fails with ErrNoActiveTenant when the pipeline has not
// initialized tenancy.
type TenantStore struct {
	router *routing.Router
}

func NewTenantStore(rt *routing.Router) *TenantStore {
	return &TenantStore{router: rt}
}

// InsertUser runs against an explicit querier so the registration flow can
// create the admin user on a freshly provisioned database before any
// tenancy is initialized for the request.
func InsertUser(ctx context.Context, q Querier, user *models.User) apperrors.Error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	query := `
		INSERT INTO users (id, name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := q.ExecContext(ctx, query, user.ID, user.Name, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return dberror.ErrAlreadyExists.New("user email already registered")
		}
		log.Ctx(ctx).Error().Err(err).Str("email", user.Email).Msg("failed to insert user")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *TenantStore) CreateUser(ctx context.Context, user *models.User) apperrors.Error {
	db, err := s.router.Resolve(ctx, routing.TenantScoped)
	if err != nil {
		return err
	}
	return InsertUser(ctx, db, user)
}

func (s *TenantStore) GetUserByEmail(ctx context.Context, email string) (*models.User, apperrors.Error) {
	db, err := s.router.Resolve(ctx, routing.TenantScoped)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT id, name, email, password_hash, role, created_at, updated_at
		FROM users
		WHERE email = $1;
	`
	var user models.User
	errDb := db.QueryRowContext(ctx, query, email).
		Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if errDb != nil {
		if errDb == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.New("user not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to get user by email")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &user, nil
}

func (s *TenantStore) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, apperrors.Error) {
	db, err := s.router.Resolve(ctx, routing.TenantScoped)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT id, name, email, password_hash, role, created_at, updated_at
		FROM users
		WHERE id = $1;
	`
	var user models.User
	errDb := db.QueryRowContext(ctx, query, userID).
		Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if errDb != nil {
		if errDb == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.New("user not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to get user")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &user, nil
}

func (s *TenantStore) CreateProduct(ctx context.Context, product *models.Product) apperrors.Error {
	db, err := s.router.Resolve(ctx, routing.TenantScoped)
	if err != nil {
		return err
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if product.Attributes.Status == pgtype.Undefined {
		product.Attributes = pgtype.JSONB{Status: pgtype.Null}
	}
	query := `
		INSERT INTO products (id, name, description, price_cents, attributes)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, errDb := db.ExecContext(ctx, query, product.ID, product.Name, product.Description, product.PriceCents, product.Attributes)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("name", product.Name).Msg("failed to insert product")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (s *TenantStore) ListProducts(ctx context.Context) ([]models.Product, apperrors.Error) {
	db, err := s.router.Resolve(ctx, routing.TenantScoped)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT id, name, description, price_cents, attributes, created_at, updated_at
		FROM products
		ORDER BY created_at DESC;
	`
	rows, errDb := db.QueryContext(ctx, query)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to list products")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if errDb := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.Attributes, &p.CreatedAt, &p.UpdatedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan product")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		products = append(products, p)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return products, nil
}

// UpsertCartItem adds quantity to the user's cart line for the product,
// creating the line when absent.
func (s *TenantStore) UpsertCartItem(ctx context.Context, item *models.CartItem) apperrors.Error {
	db, err := s.router.Resolve(ctx, routing.TenantScoped)
	if err != nil {
		return err
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	query := `
		INSERT INTO cart_items (id, user_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = now();
	`
	_, errDb := db.ExecContext(ctx, query, item.ID, item.UserID, item.ProductID, item.Quantity)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to upsert cart item")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (s *TenantStore) GetCartItems(ctx context.Context, userID uuid.UUID) ([]models.CartItem, apperrors.Error) {
	db, err := s.router.Resolve(ctx, routing.TenantScoped)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT id, user_id, product_id, quantity, created_at, updated_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY created_at;
	`
	rows, errDb := db.QueryContext(ctx, query, userID)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to list cart items")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var it models.CartItem
		if errDb := rows.Scan(&it.ID, &it.UserID, &it.ProductID, &it.Quantity, &it.CreatedAt, &it.UpdatedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan cart item")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		items = append(items, it)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return items, nil
}
