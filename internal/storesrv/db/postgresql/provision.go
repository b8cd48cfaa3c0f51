package postgresql

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/apperrors"
	"github.com/vendra/storefront/internal/storesrv/db/dberror"
)

// DDL for tenant databases runs on the central pool: CREATE/DROP DATABASE
// cannot run inside a transaction and does not take bind parameters, hence
// the identifier check before interpolation.

// CreateDatabase creates the tenant's physical database. Creating a
// database that already exists is a no-op success, so a retried
// provisioning job converges.
func CreateDatabase(ctx context.Context, db *sql.DB, name string) apperrors.Error {
	if !validIdentifier(name) {
		return dberror.ErrInvalidInput.New("invalid database name")
	}
	_, err := db.ExecContext(ctx, `CREATE DATABASE "`+name+`"`)
	if err != nil {
		if pgErrCode(err) == pgDuplicateDatabase {
			log.Ctx(ctx).Info().Str("database", name).Msg("database already exists")
			return nil
		}
		log.Ctx(ctx).Error().Err(err).Str("database", name).Msg("failed to create database")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// DropDatabase removes the tenant's physical database. Best-effort teardown
// path; absence is not an error.
func DropDatabase(ctx context.Context, db *sql.DB, name string) apperrors.Error {
	if !validIdentifier(name) {
		return dberror.ErrInvalidInput.New("invalid database name")
	}
	_, err := db.ExecContext(ctx, `DROP DATABASE IF EXISTS "`+name+`"`)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("database", name).Msg("failed to drop database")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// DatabaseExists checks pg_database from the central pool.
func DatabaseExists(ctx context.Context, db *sql.DB, name string) (bool, apperrors.Error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1);`, name).Scan(&exists)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("database", name).Msg("failed to check database existence")
		return false, dberror.ErrDatabase.Err(err)
	}
	return exists, nil
}

// TableExists checks for a table in the public schema of the given pool.
// The readiness probe uses it against the tenant database's marker table.
func TableExists(ctx context.Context, db *sql.DB, table string) (bool, apperrors.Error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		);
	`
	err := db.QueryRowContext(ctx, query, table).Scan(&exists)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("table", table).Msg("failed to check table existence")
		return false, dberror.ErrDatabase.Err(err)
	}
	return exists, nil
}
