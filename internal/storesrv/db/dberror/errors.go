package dberror

import (
	"net/http"

	"github.com/vendra/storefront/internal/common/apperrors"
)

var (
	ErrDatabase       apperrors.Error = apperrors.New("db error").SetStatusCode(http.StatusInternalServerError)
	ErrAlreadyExists  apperrors.Error = ErrDatabase.New("already exists").SetStatusCode(http.StatusConflict)
	ErrNotFound       apperrors.Error = ErrDatabase.New("not found").SetStatusCode(http.StatusNotFound)
	ErrInvalidInput   apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest)
	ErrDomainConflict apperrors.Error = ErrAlreadyExists.New("domain already registered to another store").SetStatusCode(http.StatusConflict)
)
