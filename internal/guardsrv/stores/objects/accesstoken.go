package objects

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/common/uuid"
	"github.com/fenceline/fenceline/internal/guardsrv/auth/keymanager"
	"github.com/fenceline/fenceline/internal/guardsrv/config"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

// ObjectGrant is the verified content of a scoped object access token.
type ObjectGrant struct {
	TenantID  guardcommon.TenantId
	Container string
	Subject   string
	ExpiresAt time.Time
}

// MintAccessToken issues a short-lived token granting access to a single
// container of the caller's tenant. The requested validity is clamped to
// the configured ceiling; the grant can never outlive it.
func MintAccessToken(ctx context.Context, container string, validity time.Duration) (string, time.Time, apperrors.Error) {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	container, err = ResolveContainer(ctx, container)
	if err != nil {
		return "", time.Time{}, err
	}

	ceiling := config.Config().Auth.GetObjectTokenValidityOrDefault()
	if validity <= 0 || validity > ceiling {
		validity = ceiling
	}

	now := time.Now()
	expiry := now.Add(validity)
	skew := config.Config().Auth.GetClockSkewOrDefault()

	claims := jwt.MapClaims{
		"token_use": string(guardcommon.TokenUseObjectAccess),
		"tenant_id": string(tenantID),
		"container": container,
		"sub":       guardcommon.GetSubject(ctx),
		"iss":       config.Config().Auth.Issuer,
		"aud":       []string{config.Config().Auth.Audience},
		"exp":       jwt.NewNumericDate(expiry),
		"iat":       jwt.NewNumericDate(now),
		"nbf":       jwt.NewNumericDate(now.Add(-skew)),
		"jti":       uuid.New().String(),
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
		log.Ctx(ctx).Error().Err(goerr).Msg("unable to sign object access token")
		return "", time.Time{}, ErrObjectStore.MsgErr("unable to sign object access token", goerr)
	}

	return tokenString, expiry, nil
}

// VerifyAccessToken checks a scoped object access token and returns its
// grant. The grant's container is fixed at mint time; a token for one
// container is useless for any other.
func VerifyAccessToken(ctx context.Context, tokenString string) (*ObjectGrant, apperrors.Error) {
	if tokenString == "" {
		return nil, ErrInvalidObjectToken
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
	)
	if parseErr != nil {
		log.Ctx(ctx).Info().Err(parseErr).Msg("object access token verification failed")
		return nil, ErrInvalidObjectToken.Err(parseErr)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidObjectToken
	}

	use, _ := claims["token_use"].(string)
	if use != string(guardcommon.TokenUseObjectAccess) {
		return nil, ErrInvalidObjectToken.Msg("not an object access token")
	}

	tenantID, _ := claims["tenant_id"].(string)
	container, _ := claims["container"].(string)
	if tenantID == "" || container == "" {
		return nil, ErrInvalidObjectToken.Msg("token missing tenant or container")
	}

	grant := &ObjectGrant{
		TenantID:  guardcommon.TenantId(tenantID),
		Container: container,
	}
	if sub, ok := claims["sub"].(string); ok {
		grant.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		grant.ExpiresAt = exp.Time
	}

	return grant, nil
}
