// Package auth verifies caller credentials and establishes the tenant
// context for a request. Verification is the single entry point through
// which a tenant identity enters the system: the tenant is read from the
// credential's signed claims, never from request parameters.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/guardsrv/auth/keymanager"
	"github.com/fenceline/fenceline/internal/guardsrv/config"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

// RequiredClaims is a list of claims that must be present in a credential.
var RequiredClaims = []string{
	"tenant_id",
	"sub",
	"iss",
	"aud",
	"exp",
	"iat",
	"token_use",
}

// Credential is a verified caller credential.
type Credential struct {
	token  *jwt.Token
	claims jwt.MapClaims
}

// TenantID returns the tenant claim.
func (c *Credential) TenantID() guardcommon.TenantId {
	tenantID, _ := c.claims["tenant_id"].(string)
	return guardcommon.TenantId(tenantID)
}

// Subject returns the caller identity.
func (c *Credential) Subject() string {
	sub, _ := c.claims["sub"].(string)
	return sub
}

// Roles returns the role claim, if present.
func (c *Credential) Roles() []string {
	raw, ok := c.claims["roles"].([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

// TokenUse returns the credential kind.
func (c *Credential) TokenUse() guardcommon.TokenUse {
	use, ok := c.claims["token_use"].(string)
	if !ok {
		return guardcommon.TokenUseUnknown
	}
	switch use {
	case string(guardcommon.TokenUseAccess):
		return guardcommon.TokenUseAccess
	case string(guardcommon.TokenUseObjectAccess):
		return guardcommon.TokenUseObjectAccess
	default:
		return guardcommon.TokenUseUnknown
	}
}

// Claim returns a raw claim value.
func (c *Credential) Claim(name string) any {
	return c.claims[name]
}

// VerifyCredential parses and verifies a credential string. A credential
// is accepted only when the signature, issuer, audience, and time claims
// all check out and a non-empty tenant claim is present. Expiry is
// reported as ErrCredentialExpired; every other failure collapses into
// ErrInvalidCredential so the error reveals nothing about why.
func VerifyCredential(ctx context.Context, tokenString string) (*Credential, apperrors.Error) {
	if tokenString == "" {
		return nil, ErrInvalidCredential.Msg("empty credential")
	}

	signingKey, err := keymanager.GetKeyManager().GetActiveKey(ctx)
	if err != nil {
		return nil, err
	}

	cfg := config.Config().Auth
	token, parseErr := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return signingKey.PublicKey, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(cfg.GetClockSkewOrDefault()),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			log.Ctx(ctx).Info().Msg("expired credential presented")
			return nil, ErrCredentialExpired.Err(parseErr)
		}
		log.Ctx(ctx).Info().Err(parseErr).Msg("credential verification failed")
		return nil, ErrInvalidCredential.Err(parseErr)
	}

	if !token.Valid {
		return nil, ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidCredential
	}

	cred := &Credential{token: token, claims: claims}
	if err := cred.validate(ctx); err != nil {
		return nil, err
	}

	return cred, nil
}

// validate checks the claims the jwt parser does not cover: required
// claim presence, the tenant claim, and the credential age ceiling.
func (c *Credential) validate(ctx context.Context) apperrors.Error {
	for _, claim := range RequiredClaims {
		if _, ok := c.claims[claim]; !ok {
			if claim == "tenant_id" {
				log.Ctx(ctx).Info().Msg("credential carries no tenant claim")
				return ErrTenantClaimMissing
			}
			log.Ctx(ctx).Debug().Str("claim", claim).Msg("missing required claim")
			return ErrInvalidCredential.Msg("missing required claim: " + claim)
		}
	}

	if tenantID, ok := c.claims["tenant_id"].(string); !ok || tenantID == "" {
		log.Ctx(ctx).Info().Msg("credential tenant claim is empty")
		return ErrTenantClaimMissing
	}

	if c.TokenUse() == guardcommon.TokenUseUnknown {
		return ErrInvalidCredential.Msg("unknown token use")
	}

	maxAge, goerr := config.Config().Auth.GetMaxTokenAge()
	if goerr != nil {
		return ErrUnableToParseTokenDuration.MsgErr("unable to parse max token age", goerr)
	}
	iat, ok := c.claims["iat"].(float64)
	if !ok {
		return ErrInvalidCredential.Msg("missing or invalid iat claim")
	}
	issuedAt := time.Unix(int64(iat), 0)
	if time.Since(issuedAt) > maxAge {
		log.Ctx(ctx).Info().Time("issued_at", issuedAt).Msg("credential exceeds maximum age")
		return ErrCredentialExpired.Msg("credential exceeds maximum age")
	}

	return nil
}
