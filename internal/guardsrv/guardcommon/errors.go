package guardcommon

import (
	"net/http"

	"github.com/fenceline/fenceline/internal/common/apperrors"
)

var (
	// ErrTenantContext is the base error for tenant context failures.
	ErrTenantContext apperrors.Error = apperrors.New("tenant context error").SetStatusCode(http.StatusInternalServerError)

	// ErrNoTenantContext is returned when an operation requires a tenant
	// identifier and none is established. Callers must fail closed.
	ErrNoTenantContext apperrors.Error = ErrTenantContext.New("no tenant context established").SetStatusCode(http.StatusForbidden)

	// ErrContextAlreadySet is returned on an attempt to establish a
	// tenant context twice within the same request.
	ErrContextAlreadySet apperrors.Error = ErrTenantContext.New("tenant context already set").SetStatusCode(http.StatusForbidden)
)
