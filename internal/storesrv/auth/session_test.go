package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/routing"
	"github.com/vendra/storefront/internal/storesrv/tenancy"
)

type fakeSessions struct {
	byToken map[string]*models.Session
	// connection default observed on the last write, to prove the
	// central override was in effect
	lastConn string
}

func (f *fakeSessions) CreateSession(ctx context.Context, s *models.Session) apperrors.Error {
	f.lastConn = routing.DefaultConnection(ctx)
	f.byToken[s.Token] = s
	return nil
}

func (f *fakeSessions) GetSession(_ context.Context, token string) (*models.Session, apperrors.Error) {
	s, ok := f.byToken[token]
	if !ok {
		return nil, dberror.ErrNotFound.New("session not found")
	}
	return s, nil
}

func (f *fakeSessions) DeleteSession(_ context.Context, token string) apperrors.Error {
	delete(f.byToken, token)
	return nil
}

func (f *fakeSessions) DeleteExpiredSessions(ctx context.Context) (int64, apperrors.Error) {
	f.lastConn = routing.DefaultConnection(ctx)
	var n int64
	for token, s := range f.byToken {
		if s.Expired(time.Now()) {
			delete(f.byToken, token)
			n++
		}
	}
	return n, nil
}

type fakeUsers struct {
	byEmail map[string]*models.User
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, apperrors.Error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, dberror.ErrNotFound.New("user not found")
	}
	return u, nil
}

func (f *fakeUsers) GetUser(_ context.Context, id uuid.UUID) (*models.User, apperrors.Error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, dberror.ErrNotFound.New("user not found")
}

func newTestManager(t *testing.T, password string) (*Manager, *fakeSessions, context.Context, *models.Tenant) {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)

	admin := &models.User{
		ID:           uuid.New(),
		Email:        "owner@acme.test",
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}
	sessions := &fakeSessions{byToken: map[string]*models.Session{}}
	users := &fakeUsers{byEmail: map[string]*models.User{admin.Email: admin}}
	rt := routing.NewRouter(nil)
	m := NewManager(sessions, users, rt, time.Hour)

	tenant := &models.Tenant{ID: "acme", DatabaseName: "tenant_acme"}
	ctx := routing.WithBindings(tenancy.WithScope(context.Background()))
	require.Nil(t, tenancy.Initialize(ctx, tenant))
	return m, sessions, ctx, tenant
}

func TestLoginIssuesSessionOnCentral(t *testing.T) {
	m, sessions, ctx, tenant := newTestManager(t, "hunter22")

	session, user, err := m.Login(ctx, "owner@acme.test", "hunter22")
	require.Nil(t, err)
	assert.Equal(t, "owner@acme.test", user.Email)
	assert.Equal(t, tenant.ID, session.TenantID)
	assert.NotEmpty(t, session.Token)
	assert.False(t, session.Expired(time.Now()))

	// the write went through the central override even though no tenant
	// binding was ever changed for the rest of the request
	assert.Equal(t, routing.CentralConnection, sessions.lastConn)
	assert.Equal(t, routing.CentralConnection, routing.DefaultConnection(ctx))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m, _, ctx, _ := newTestManager(t, "hunter22")

	_, _, err := m.Login(ctx, "owner@acme.test", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = m.Login(ctx, "nobody@acme.test", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateRoundTrip(t *testing.T) {
	m, _, ctx, _ := newTestManager(t, "hunter22")

	session, _, err := m.Login(ctx, "owner@acme.test", "hunter22")
	require.Nil(t, err)

	user, err := m.Authenticate(ctx, session.Token)
	require.Nil(t, err)
	assert.Equal(t, "owner@acme.test", user.Email)
}

func TestAuthenticateRejectsForeignTenantSession(t *testing.T) {
	m, sessions, ctx, _ := newTestManager(t, "hunter22")

	session, _, err := m.Login(ctx, "owner@acme.test", "hunter22")
	require.Nil(t, err)

	// same token presented under a different tenant's scope
	sessions.byToken[session.Token].TenantID = "other-store"
	_, err = m.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestAuthenticateRejectsExpired(t *testing.T) {
	m, sessions, ctx, _ := newTestManager(t, "hunter22")

	session, _, err := m.Login(ctx, "owner@acme.test", "hunter22")
	require.Nil(t, err)
	sessions.byToken[session.Token].ExpiresAt = time.Now().Add(-time.Minute)

	_, err = m.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestPurgeExpiredSweepsOnlyExpiredRows(t *testing.T) {
	m, sessions, ctx, _ := newTestManager(t, "hunter22")

	live, _, err := m.Login(ctx, "owner@acme.test", "hunter22")
	require.Nil(t, err)
	stale, _, err := m.Login(ctx, "owner@acme.test", "hunter22")
	require.Nil(t, err)
	sessions.byToken[stale.Token].ExpiresAt = time.Now().Add(-time.Minute)
	sessions.lastConn = ""

	n, aerr := m.PurgeExpired(ctx)
	require.Nil(t, aerr)
	assert.EqualValues(t, 1, n)
	// the sweep runs against the central store like every session write
	assert.Equal(t, routing.CentralConnection, sessions.lastConn)

	_, aerr = m.Authenticate(ctx, live.Token)
	require.Nil(t, aerr)
	_, aerr = m.Authenticate(ctx, stale.Token)
	assert.ErrorIs(t, aerr, ErrSessionInvalid)
}

func TestLogout(t *testing.T) {
	m, _, ctx, _ := newTestManager(t, "hunter22")

	session, _, err := m.Login(ctx, "owner@acme.test", "hunter22")
	require.Nil(t, err)
	require.Nil(t, m.Logout(ctx, session.Token))

	_, err = m.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	// unknown token logout is a no-op
	assert.Nil(t, m.Logout(ctx, "no-such-token"))
}
