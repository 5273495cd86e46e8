package guardcommon

import (
	"context"

	"github.com/fenceline/fenceline/internal/common/apperrors"
)

// ctxKeyType represents the type for all context keys.
type ctxKeyType string

const (
	ctxTenantIdKey  ctxKeyType = "GuardTenantId"
	ctxPrincipalKey ctxKeyType = "GuardPrincipal"
	ctxTestKey      ctxKeyType = "GuardTestContext"
)

// Establish binds the resolved tenant identifier to the request context.
// It may be called exactly once per request: a second call fails with
// ErrContextAlreadySet so a request can never switch tenants mid-flight.
// The value is carried by context.Context and is therefore affine to the
// request's call chain; concurrent requests never share it.
func Establish(ctx context.Context, tenantId TenantId) (context.Context, apperrors.Error) {
	if tenantId == "" {
		return ctx, ErrNoTenantContext
	}
	if _, ok := ctx.Value(ctxTenantIdKey).(TenantId); ok {
		return ctx, ErrContextAlreadySet
	}
	return context.WithValue(ctx, ctxTenantIdKey, tenantId), nil
}

// Current returns the tenant identifier established for this request.
// It fails closed with ErrNoTenantContext when none is set; callers must
// not proceed with an unscoped operation.
func Current(ctx context.Context) (TenantId, apperrors.Error) {
	tenantId, ok := ctx.Value(ctxTenantIdKey).(TenantId)
	if !ok || tenantId == "" {
		return "", ErrNoTenantContext
	}
	return tenantId, nil
}

// TenantIDOrEmpty returns the established tenant identifier or the empty
// string. Intended for logging and audit enrichment only; enforcement
// paths must use Current.
func TenantIDOrEmpty(ctx context.Context) TenantId {
	tenantId, _ := ctx.Value(ctxTenantIdKey).(TenantId)
	return tenantId
}

// WithPrincipal stores the authenticated caller in the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, p)
}

// GetPrincipal retrieves the authenticated caller, or nil.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(ctxPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// GetSubject returns the caller subject, or the empty string.
func GetSubject(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.Subject
	}
	return ""
}

// WithTestContext marks the context as belonging to a test.
func WithTestContext(ctx context.Context, isTest bool) context.Context {
	return context.WithValue(ctx, ctxTestKey, isTest)
}

// GetTestContext reports whether the context belongs to a test.
func GetTestContext(ctx context.Context) bool {
	if isTest, ok := ctx.Value(ctxTestKey).(bool); ok {
		return isTest
	}
	return false
}
