package postgresql

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
	"github.com/vendra/storefront/internal/storesrv/db/models"
	"github.com/vendra/storefront/internal/storesrv/routing"
)

// SessionStore persists session rows. Session rows always live in the
// central store, but the store itself resolves DefaultFollowsContext:
// callers are expected to run it under the router's central override, which
// is what keeps session writes off tenant databases while a tenant
// connection is the ambient default.
type SessionStore struct {
	router *routing.Router
}

func NewSessionStore(rt *routing.Router) *SessionStore {
	return &SessionStore{router: rt}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *models.Session) apperrors.Error {
	db, err := s.router.Resolve(ctx, routing.DefaultFollowsContext)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sessions (token, tenant_id, user_id, expires_at)
		VALUES ($1, $2, $3, $4);
	`
	_, errDb := db.ExecContext(ctx, query, session.Token, session.TenantID, session.UserID, session.ExpiresAt)
	if errDb != nil {
		if pgErrCode(errDb) == pgUniqueViolation {
			return dberror.ErrAlreadyExists.New("session token already exists")
		}
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to insert session")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, token string) (*models.Session, apperrors.Error) {
	db, err := s.router.Resolve(ctx, routing.DefaultFollowsContext)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT token, tenant_id, user_id, expires_at, created_at
		FROM sessions
		WHERE token = $1;
	`
	var session models.Session
	errDb := db.QueryRowContext(ctx, query, token).
		Scan(&session.Token, &session.TenantID, &session.UserID, &session.ExpiresAt, &session.CreatedAt)
	if errDb != nil {
		if errDb == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.New("session not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to get session")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &session, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, token string) apperrors.Error {
	db, err := s.router.Resolve(ctx, routing.DefaultFollowsContext)
	if err != nil {
		return err
	}
	if _, errDb := db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1;`, token); errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to delete session")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry. Returns the
// number of rows removed.
func (s *SessionStore) DeleteExpiredSessions(ctx context.Context) (int64, apperrors.Error) {
	db, err := s.router.Resolve(ctx, routing.DefaultFollowsContext)
	if err != nil {
		return 0, err
	}
	res, errDb := db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= now();`)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to delete expired sessions")
		return 0, dberror.ErrDatabase.Err(errDb)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
