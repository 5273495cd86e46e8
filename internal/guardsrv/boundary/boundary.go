// Package boundary is the last line of defense against tenant isolation
// failures. Adapters call Check after every read that crossed a trust
// boundary: if a fetched resource carries a tenant tag other than the
// caller's, the access is converted into a not-found and a security
// event is recorded. The caller must never learn that the resource
// exists, let alone whom it belongs to.
package boundary

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/guardsrv/audit"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

// ErrBoundaryViolation reports a cross-tenant access attempt. Its status
// code is deliberately 404: the response to the caller must be
// indistinguishable from the resource not existing.
var ErrBoundaryViolation apperrors.Error = apperrors.New("requested resource not found").SetStatusCode(http.StatusNotFound)

// Resource identifies the entity whose ownership is being checked.
type Resource struct {
	Type guardcommon.ResourceType
	ID   string
	// Operation is the adapter operation that fetched the resource,
	// recorded in the audit trail.
	Operation string
}

// Check verifies that a fetched resource belongs to the caller's tenant.
// On mismatch it records a violation event and returns
// ErrBoundaryViolation. The resource's actual tenant goes only to the
// audit trail, never into the returned error.
func Check(ctx context.Context, expected, actual guardcommon.TenantId, res Resource) apperrors.Error {
	if expected == "" {
		// An unestablished context can never pass an ownership check.
		return guardcommon.ErrNoTenantContext
	}
	if actual == expected {
		return nil
	}

	log.Ctx(ctx).Warn().
		Str("resource_type", string(res.Type)).
		Str("resource_id", res.ID).
		Str("operation", res.Operation).
		Str("attempted_tenant", string(expected)).
		Msg("tenant boundary violation detected")

	event := audit.NewViolationEvent(expected, actual, res.Type, res.ID, res.Operation)
	event.Subject = guardcommon.GetSubject(ctx)
	audit.Emit(ctx, event)

	return ErrBoundaryViolation
}
