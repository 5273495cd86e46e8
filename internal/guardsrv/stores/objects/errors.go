package objects

import (
	"net/http"

	"github.com/fenceline/fenceline/internal/common/apperrors"
)

var (
	// ErrObjectStore is the base error for object adapter failures.
	ErrObjectStore apperrors.Error = apperrors.New("object store error").SetStatusCode(http.StatusInternalServerError)

	// ErrNotFound matches the uniform not-found shape of the other
	// adapters.
	ErrNotFound apperrors.Error = ErrObjectStore.New("requested resource not found").SetStatusCode(http.StatusNotFound)

	// ErrContainerNotInScope is returned when a request names a container
	// that is not provisioned for the tenant. No lookup against the
	// backing store happens in that case.
	ErrContainerNotInScope apperrors.Error = ErrObjectStore.New("container not in tenant scope").SetStatusCode(http.StatusForbidden)

	// ErrInvalidObject is returned for empty names or payloads.
	ErrInvalidObject apperrors.Error = ErrObjectStore.New("invalid object").SetStatusCode(http.StatusBadRequest)

	// ErrInvalidObjectToken is returned when a scoped access token fails
	// verification or names a different container.
	ErrInvalidObjectToken apperrors.Error = ErrObjectStore.New("invalid object access token").SetStatusCode(http.StatusUnauthorized)
)
