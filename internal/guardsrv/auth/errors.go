package auth

import (
	"net/http"

	"github.com/fenceline/fenceline/internal/common/apperrors"
)

// Base auth error
var (
	ErrAuth apperrors.Error = apperrors.New("auth error").SetStatusCode(http.StatusInternalServerError)
)

// Credential verification errors. All verification failures look the
// same to the caller apart from expiry, which is reported distinctly so
// clients can refresh instead of re-authenticating.
var (
	ErrInvalidCredential  apperrors.Error = ErrAuth.New("invalid credential").SetStatusCode(http.StatusUnauthorized)
	ErrCredentialExpired  apperrors.Error = ErrAuth.New("credential expired").SetStatusCode(http.StatusUnauthorized)
	ErrTenantClaimMissing apperrors.Error = ErrAuth.New("credential carries no tenant claim").SetStatusCode(http.StatusUnauthorized)
	ErrUnauthorized       apperrors.Error = ErrAuth.New("unauthorized access").SetStatusCode(http.StatusUnauthorized)
)

// Token issuance errors
var (
	ErrTokenGeneration            apperrors.Error = ErrAuth.New("failed to generate token").SetStatusCode(http.StatusInternalServerError)
	ErrUnableToParseTokenDuration apperrors.Error = ErrAuth.New("unable to parse token duration").SetStatusCode(http.StatusInternalServerError)
)
