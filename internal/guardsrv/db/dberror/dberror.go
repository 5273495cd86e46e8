// Package dberror defines database-layer errors for the fenceline stores.
package dberror

import (
	"errors"
	"net/http"

	"github.com/jackc/pgconn"

	"github.com/fenceline/fenceline/internal/common/apperrors"
)

var (
	ErrDatabase        apperrors.Error = apperrors.New("db error").SetStatusCode(http.StatusInternalServerError)
	ErrAlreadyExists   apperrors.Error = ErrDatabase.New("already exists").SetStatusCode(http.StatusConflict)
	ErrNotFound        apperrors.Error = ErrDatabase.New("not found").SetStatusCode(http.StatusNotFound)
	ErrInvalidInput    apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest)
	ErrMissingTenantID apperrors.Error = ErrInvalidInput.New("missing tenant ID").SetStatusCode(http.StatusBadRequest)
	ErrNoConnection    apperrors.Error = ErrDatabase.New("no database connection").SetStatusCode(http.StatusServiceUnavailable)
)

// Translate maps a driver error onto the store error taxonomy.
// Constraint violations become client errors; everything else stays a
// plain database error.
func Translate(err error) apperrors.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrAlreadyExists.Err(err)
		case "23502", "23514":
			return ErrInvalidInput.Err(err)
		}
	}
	return ErrDatabase.Err(err)
}
