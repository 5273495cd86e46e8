package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/common/httpx"
	"github.com/fenceline/fenceline/internal/guardsrv/audit"
	"github.com/fenceline/fenceline/internal/guardsrv/db"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
	"github.com/fenceline/fenceline/internal/guardsrv/registry"
)

// Middleware authenticates the request and establishes the tenant
// context. The sequence is fixed: verify the credential, resolve the
// tenant against the registry, establish the context, then confine the
// request's database connection to the tenant. A failure at any step
// leaves no tenant context behind, so no store adapter can run.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			log.Ctx(ctx).Warn().Msg("missing or invalid authorization header")
			httpx.ErrUnAuthorized("missing or invalid authorization header").Send(w)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		cred, err := VerifyCredential(ctx, token)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("credential verification failed")
			audit.Emit(ctx, audit.Event{
				Time:     time.Now().UTC(),
				Kind:     audit.KindAuthn,
				Severity: audit.SeverityWarn,
				Outcome:  audit.OutcomeDenied,
				Detail:   err.Error(),
			})
			sendAuthError(w, err)
			return
		}

		if cred.TokenUse() != guardcommon.TokenUseAccess {
			log.Ctx(ctx).Warn().Str("token_use", string(cred.TokenUse())).Msg("credential not usable for API access")
			httpx.ErrUnAuthorized("invalid credential").Send(w)
			return
		}

		tenantID := cred.TenantID()

		tenant, err := registry.RequireActive(ctx, tenantID)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("tenant_id", string(tenantID)).Msg("tenant rejected")
			audit.Emit(ctx, audit.Event{
				Time:     time.Now().UTC(),
				Kind:     audit.KindAuthz,
				Severity: audit.SeverityWarn,
				Outcome:  audit.OutcomeDenied,
				Tenant:   tenantID,
				Subject:  cred.Subject(),
				Detail:   err.Error(),
			})
			sendAuthError(w, err)
			return
		}

		ctx, err = guardcommon.Establish(ctx, tenant.TenantID)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("unable to establish tenant context")
			sendAuthError(w, err)
			return
		}
		ctx = guardcommon.WithPrincipal(ctx, &guardcommon.Principal{
			Subject: cred.Subject(),
			Roles:   cred.Roles(),
		})
		ctx = registry.WithTenantConfig(ctx, &tenant.Config)

		if goerr := db.ApplyTenantScope(ctx); goerr != nil {
			log.Ctx(ctx).Error().Err(goerr).Msg("unable to apply tenant scope")
			httpx.ErrApplicationError("unable to process request").Send(w)
			return
		}

		audit.Emit(ctx, audit.Event{
			Time:     time.Now().UTC(),
			Kind:     audit.KindAuthn,
			Severity: audit.SeverityInfo,
			Outcome:  audit.OutcomeAllowed,
			Tenant:   tenant.TenantID,
			Subject:  cred.Subject(),
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sendAuthError(w http.ResponseWriter, err apperrors.Error) {
	switch err.StatusCode() {
	case http.StatusForbidden:
		httpx.ErrForbidden(err.Error()).Send(w)
	default:
		httpx.ErrUnAuthorized(err.Error()).Send(w)
	}
}
