package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/routing"
	"github.com/vendra/storefront/internal/storesrv/tenancy"
)

var (
	ErrAuth apperrors.Error = apperrors.New("authentication error").SetStatusCode(http.StatusUnauthorized)
	// ErrInvalidCredentials deliberately does not distinguish unknown email
	// from wrong password.
	ErrInvalidCredentials apperrors.Error = ErrAuth.New("invalid email or password")
	ErrSessionInvalid     apperrors.Error = ErrAuth.New("session is invalid or expired")
)

const tokenLength = 32

// SessionPersistence is the central-store session table.
type SessionPersistence interface {
	CreateSession(ctx context.Context, session *models.Session) apperrors.Error
	GetSession(ctx context.Context, token string) (*models.Session, apperrors.Error)
	DeleteSession(ctx context.Context, token string) apperrors.Error
	DeleteExpiredSessions(ctx context.Context) (int64, apperrors.Error)
}

// UserDirectory is the tenant-scoped user table.
type UserDirectory interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, apperrors.Error)
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, apperrors.Error)
}

// Manager issues and validates sessions. Users live in the active tenant's
// database; session rows always live in the central store, which the
// manager enforces by running every session operation under the router's
// central override.
type Manager struct {
	sessions SessionPersistence
	users    UserDirectory
	router   *routing.Router
	ttl      time.Duration
}

func NewManager(sessions SessionPersistence, users UserDirectory, rt *routing.Router, ttl time.Duration) *Manager {
	return &Manager{sessions: sessions, users: users, router: rt, ttl: ttl}
}

// Login verifies credentials against the active tenant's users and issues
// a session bound to that tenant.
func (m *Manager) Login(ctx context.Context, email, password string) (*models.Session, *models.User, apperrors.Error) {
	user, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !VerifyPassword(password, user.PasswordHash) {
		log.Ctx(ctx).Info().Str("email", email).Msg("login failed: bad password")
		return nil, nil, ErrInvalidCredentials
	}
	session, err := m.IssueFor(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

// IssueFor creates a session for an already-authenticated user. The
// registration flow uses it to log the new admin in without a password
// round trip.
func (m *Manager) IssueFor(ctx context.Context, user *models.User) (*models.Session, apperrors.Error) {
	tenant := tenancy.Current(ctx)
	if tenant == nil {
		return nil, routing.ErrNoActiveTenant
	}
	token, errTok := gonanoid.New(tokenLength)
	if errTok != nil {
		return nil, ErrAuth.New("failed to generate session token").Err(errTok)
	}
	session := &models.Session{
		Token:     token,
		TenantID:  tenant.ID,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(m.ttl),
	}
	var err apperrors.Error
	if opErr := m.router.WithOverride(ctx, routing.CentralConnection, func(ctx context.Context) error {
		err = m.sessions.CreateSession(ctx, session)
		if err != nil {
			return err
		}
		return nil
	}); opErr != nil && err == nil {
		return nil, ErrAuth.New("failed to persist session").Err(opErr)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Authenticate resolves a token to its user within the active tenant. A
// session issued for a different tenant is invalid here even if the token
// itself is live.
func (m *Manager) Authenticate(ctx context.Context, token string) (*models.User, apperrors.Error) {
	tenant := tenancy.Current(ctx)
	if tenant == nil {
		return nil, routing.ErrNoActiveTenant
	}
	var session *models.Session
	var err apperrors.Error
	if opErr := m.router.WithOverride(ctx, routing.CentralConnection, func(ctx context.Context) error {
		session, err = m.sessions.GetSession(ctx, token)
		if err != nil {
			return err
		}
		return nil
	}); opErr != nil && err == nil {
		return nil, ErrAuth.New("failed to load session").Err(opErr)
	}
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if session.Expired(time.Now()) || session.TenantID != tenant.ID {
		return nil, ErrSessionInvalid
	}
	user, err := m.users.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	return user, nil
}

// PurgeExpired removes expired session rows from the central store. The
// server runs it on a background sweep; Authenticate rejects expired
// tokens on its own, the sweep just keeps the table from growing without
// bound.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, apperrors.Error) {
	var n int64
	var err apperrors.Error
	if opErr := m.router.WithOverride(ctx, routing.CentralConnection, func(ctx context.Context) error {
		n, err = m.sessions.DeleteExpiredSessions(ctx)
		if err != nil {
			return err
		}
		return nil
	}); opErr != nil && err == nil {
		return 0, ErrAuth.New("failed to purge expired sessions").Err(opErr)
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Logout deletes the session row. Unknown tokens are a no-op.
func (m *Manager) Logout(ctx context.Context, token string) apperrors.Error {
	var err apperrors.Error
	if opErr := m.router.WithOverride(ctx, routing.CentralConnection, func(ctx context.Context) error {
		err = m.sessions.DeleteSession(ctx, token)
		if err != nil {
			return err
		}
		return nil
	}); opErr != nil && err == nil {
		return ErrAuth.New("failed to delete session").Err(opErr)
	}
	return err
}
