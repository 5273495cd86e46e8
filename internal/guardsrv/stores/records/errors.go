package records

import (
	"net/http"

	"github.com/fenceline/fenceline/internal/common/apperrors"
)

var (
	// ErrRecordStore is the base error for record adapter failures.
	ErrRecordStore apperrors.Error = apperrors.New("record store error").SetStatusCode(http.StatusInternalServerError)

	// ErrNotFound matches the message of a boundary denial exactly: a
	// caller must not be able to tell a missing record from one owned by
	// another tenant.
	ErrNotFound apperrors.Error = ErrRecordStore.New("requested resource not found").SetStatusCode(http.StatusNotFound)

	// ErrAlreadyExists is returned when a record with the same ID exists
	// in the collection.
	ErrAlreadyExists apperrors.Error = ErrRecordStore.New("record already exists").SetStatusCode(http.StatusConflict)

	// ErrInvalidRecord is returned when the record document is not valid
	// JSON or the identifiers are empty.
	ErrInvalidRecord apperrors.Error = ErrRecordStore.New("invalid record").SetStatusCode(http.StatusBadRequest)

	// ErrTenantTagImmutable is returned when an update attempts to touch
	// the tenant tag. The tag is set once, at create, by the adapter.
	ErrTenantTagImmutable apperrors.Error = ErrRecordStore.New("tenant tag is immutable").SetStatusCode(http.StatusBadRequest)

	// ErrInvalidPatch is returned when the patch document cannot be
	// applied.
	ErrInvalidPatch apperrors.Error = ErrRecordStore.New("invalid patch document").SetStatusCode(http.StatusBadRequest)
)
