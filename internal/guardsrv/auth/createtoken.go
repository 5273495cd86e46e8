package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/common/uuid"
	"github.com/fenceline/fenceline/internal/guardsrv/auth/keymanager"
	"github.com/fenceline/fenceline/internal/guardsrv/config"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

// TokenOptions contains options for credential issuance.
type TokenOptions struct {
	Validity         time.Duration
	Roles            []string
	AdditionalClaims map[string]any
}

// TokenOption is a function that modifies TokenOptions.
type TokenOption func(*TokenOptions)

// WithValidity overrides the configured default validity.
func WithValidity(d time.Duration) TokenOption {
	return func(o *TokenOptions) {
		o.Validity = d
	}
}

// WithRoles sets the role claim.
func WithRoles(roles ...string) TokenOption {
	return func(o *TokenOptions) {
		o.Roles = roles
	}
}

// WithAdditionalClaims sets additional claims for the credential.
func WithAdditionalClaims(claims map[string]any) TokenOption {
	return func(o *TokenOptions) {
		o.AdditionalClaims = claims
	}
}

// Reserved JWT claims that cannot be overwritten
var reservedClaims = map[string]bool{
	"tenant_id": true,
	"sub":       true,
	"iss":       true,
	"exp":       true,
	"iat":       true,
	"nbf":       true,
	"aud":       true,
	"jti":       true,
	"token_use": true,
}

// IssueCredential creates a signed credential binding the subject to the
// tenant. Used by provisioning tooling and tests; callers in production
// normally obtain credentials from the identity provider.
func IssueCredential(ctx context.Context, tenantID guardcommon.TenantId, subject string, opts ...TokenOption) (string, time.Time, apperrors.Error) {
	options := &TokenOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if tenantID == "" {
		return "", time.Time{}, ErrTokenGeneration.Msg("tenant ID is required")
	}
	if subject == "" {
		return "", time.Time{}, ErrTokenGeneration.Msg("subject is required")
	}

	validity := options.Validity
	if validity == 0 {
		var goerr error
		validity, goerr = config.Config().Auth.GetDefaultTokenValidity()
		if goerr != nil {
			log.Ctx(ctx).Error().Err(goerr).Msg("unable to parse token duration")
			return "", time.Time{}, ErrUnableToParseTokenDuration.MsgErr("unable to parse token duration", goerr)
		}
	}

	now := time.Now()
	expiry := now.Add(validity)
	skew := config.Config().Auth.GetClockSkewOrDefault()

	claims := jwt.MapClaims{
		"token_use": string(guardcommon.TokenUseAccess),
		"tenant_id": string(tenantID),
		"sub":       subject,
		"iss":       config.Config().Auth.Issuer,
		"aud":       []string{config.Config().Auth.Audience},
		"exp":       jwt.NewNumericDate(expiry),
		"iat":       jwt.NewNumericDate(now),
		"nbf":       jwt.NewNumericDate(now.Add(-skew)),
		"jti":       uuid.New().String(),
	}
	if len(options.Roles) > 0 {
		claims["roles"] = options.Roles
	}

	for k, v := range options.AdditionalClaims {
		if reservedClaims[k] {
			log.Ctx(ctx).Warn().Str("claim", k).Msg("attempt to override reserved claim ignored")
			continue
		}
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)

	signingKey, err := keymanager.GetKeyManager().GetActiveKey(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to get active signing key")
		return "", time.Time{}, err
	}

	token.Header["kid"] = signingKey.KeyID.String()

	tokenString, goerr := token.SignedString(signingKey.PrivateKey)
	if goerr != nil {
		log.Ctx(ctx).Error().Err(goerr).Msg("unable to sign credential")
		return "", time.Time{}, ErrTokenGeneration.MsgErr("unable to sign credential", goerr)
	}

	return tokenString, expiry, nil
}
