package registry

import (
	"net/http"

	"github.com/fenceline/fenceline/internal/common/apperrors"
)

var (
	// ErrRegistry is the base error for tenant registry failures.
	ErrRegistry apperrors.Error = apperrors.New("tenant registry error").SetStatusCode(http.StatusInternalServerError)

	// ErrUnknownTenant is returned when a credential names a tenant that
	// is not registered. Treated as a provisioning error, not a caller
	// error, but the caller is still refused.
	ErrUnknownTenant apperrors.Error = ErrRegistry.New("unknown tenant").SetStatusCode(http.StatusForbidden)

	// ErrTenantNotActive is returned when the tenant exists but is not in
	// active status. Suspended tenants keep their data; they just cannot
	// reach it.
	ErrTenantNotActive apperrors.Error = ErrRegistry.New("tenant is not active").SetStatusCode(http.StatusForbidden)
)
