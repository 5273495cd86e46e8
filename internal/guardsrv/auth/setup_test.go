package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/fenceline/fenceline/internal/guardsrv/auth/keymanager"
)

// signTestToken signs arbitrary claims with the service's active key,
// for building credentials that IssueCredential refuses to produce.
func signTestToken(t *testing.T, ctx context.Context, claims jwt.MapClaims) string {
	t.Helper()

	signingKey, err := keymanager.GetKeyManager().GetActiveKey(ctx)
	require.Nil(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = signingKey.KeyID.String()

	tokenString, goerr := token.SignedString(signingKey.PrivateKey)
	require.NoError(t, goerr)
	return tokenString
}
