// Package audit emits structured security events: authentication,
// authorization, data access, and boundary violations. Events fan out to
// zerolog and a tamper-evident hash-chained file sink without ever
// blocking the request path.
package audit

import (
	"time"

	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

// Kind classifies an audit event.
type Kind string

const (
	KindAuthn     Kind = "authn"
	KindAuthz     Kind = "authz"
	KindAccess    Kind = "access"
	KindViolation Kind = "violation"
)

// Severity ranks an audit event for telemetry routing. Boundary
// violations are security incidents and must remain distinguishable from
// routine denials even though callers see the same response shape.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeveritySecurity Severity = "security"
)

// Outcome records whether the audited operation was allowed.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
)

// Event is a single audit record. Events are immutable once emitted.
type Event struct {
	Time           time.Time                `json:"time"`
	Kind           Kind                     `json:"kind"`
	Severity       Severity                 `json:"severity"`
	Outcome        Outcome                  `json:"outcome"`
	Tenant         guardcommon.TenantId     `json:"tenant,omitempty"`
	Subject        string                   `json:"subject,omitempty"`
	Operation      string                   `json:"operation,omitempty"`
	ResourceType   guardcommon.ResourceType `json:"resourceType,omitempty"`
	ResourceID     string                   `json:"resourceId,omitempty"`
	AttemptedTenant guardcommon.TenantId    `json:"attemptedTenant,omitempty"`
	ResourceTenant  guardcommon.TenantId    `json:"resourceTenant,omitempty"`
	Detail         string                   `json:"detail,omitempty"`
}

// NewViolationEvent builds the write-once record for a detected boundary
// violation. The resource tenant tag is recorded for the investigation
// trail; it is never echoed to the caller.
func NewViolationEvent(attempted, resourceTenant guardcommon.TenantId, resourceType guardcommon.ResourceType, resourceID, operation string) Event {
	return Event{
		Time:            time.Now().UTC(),
		Kind:            KindViolation,
		Severity:        SeveritySecurity,
		Outcome:         OutcomeDenied,
		Tenant:          attempted,
		Operation:       operation,
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		AttemptedTenant: attempted,
		ResourceTenant:  resourceTenant,
	}
}
