// Package guardcommon provides the tenant context and shared types for
// the isolation enforcement service.
package guardcommon

// TenantId is the opaque, stable identifier of a tenant. It is the sole
// partitioning dimension across all backing stores.
type TenantId string

// TenantTagField is the name of the tenant tag field as persisted on every
// stored entity, across all three back ends. Adapters enforce this name;
// it is a contract, not a convention.
const TenantTagField = "tenantId"

// TenantStatus is the lifecycle status of a registered tenant.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// ResourceType identifies the backing store a resource lives in, used in
// audit events and boundary violation reports.
type ResourceType string

const (
	ResourceTypeRecord         ResourceType = "record"
	ResourceTypeSearchDocument ResourceType = "searchDocument"
	ResourceTypeObject         ResourceType = "object"
)

// TokenUse distinguishes the credential kinds issued and accepted by the
// service.
type TokenUse string

const (
	TokenUseAccess       TokenUse = "access"
	TokenUseObjectAccess TokenUse = "object_access"
	TokenUseUnknown      TokenUse = "unknown"
)

// Principal describes the authenticated caller of a request.
type Principal struct {
	// Subject is the caller identity from the credential.
	Subject string
	// Roles holds the role set from the credential. Roles beyond tenant
	// scoping are not interpreted by this layer.
	Roles []string
}
