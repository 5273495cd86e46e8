package apperrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivedErrorsMatchBase(t *testing.T) {
	base := New("store error").SetStatusCode(http.StatusInternalServerError)
	notFound := base.New("not found").SetStatusCode(http.StatusNotFound)

	derived := notFound.Msg("record abc not found")
	assert.True(t, errors.Is(derived, notFound))
	assert.True(t, errors.Is(derived, base))
	assert.Equal(t, http.StatusNotFound, derived.StatusCode())
	assert.Equal(t, "record abc not found", derived.Error())
}

func TestSiblingsDoNotMatch(t *testing.T) {
	base := New("store error")
	notFound := base.New("not found")
	denied := base.New("denied")

	assert.False(t, errors.Is(notFound, denied))
	assert.True(t, errors.Is(notFound.Msg("x"), base))
}

func TestErrWrapsExternalErrors(t *testing.T) {
	base := New("store error").SetStatusCode(http.StatusInternalServerError)
	ext := errors.New("connection reset")

	wrapped := base.Err(ext)
	assert.True(t, errors.Is(wrapped, ext))
	assert.True(t, errors.Is(wrapped, base))

	all := wrapped.UnwrapAll()
	require.Len(t, all, 2)
}

func TestErrorAllExpansion(t *testing.T) {
	base := New("store error")
	ext := errors.New("timeout")

	e := base.MsgErr("query failed", ext)
	assert.Equal(t, "query failed", e.ErrorAll())

	expanded := e.SetExpandError(true)
	assert.Contains(t, expanded.ErrorAll(), "query failed")
	assert.Contains(t, expanded.ErrorAll(), "timeout")
}

func TestStatusCodeInheritance(t *testing.T) {
	base := New("auth error").SetStatusCode(http.StatusUnauthorized)
	child := base.New("expired credential")
	assert.Equal(t, http.StatusUnauthorized, child.StatusCode())

	overridden := child.SetStatusCode(http.StatusForbidden)
	assert.Equal(t, http.StatusForbidden, overridden.StatusCode())
	assert.Equal(t, http.StatusUnauthorized, child.StatusCode())
}
