package search

import (
	"net/http"

	"github.com/fenceline/fenceline/internal/common/apperrors"
)

var (
	// ErrSearchStore is the base error for search adapter failures.
	ErrSearchStore apperrors.Error = apperrors.New("search store error").SetStatusCode(http.StatusInternalServerError)

	// ErrInvalidDocument is returned when an uploaded document has no key
	// or carries malformed attributes.
	ErrInvalidDocument apperrors.Error = ErrSearchStore.New("invalid search document").SetStatusCode(http.StatusBadRequest)

	// ErrCrossTenantDeleteDenied is returned when a batch delete names a
	// key owned by another tenant. The whole batch is refused; nothing is
	// deleted.
	ErrCrossTenantDeleteDenied apperrors.Error = ErrSearchStore.New("delete denied").SetStatusCode(http.StatusForbidden)

	// ErrNotFound mirrors the record adapter's uniform not-found shape.
	ErrNotFound apperrors.Error = ErrSearchStore.New("requested resource not found").SetStatusCode(http.StatusNotFound)
)
