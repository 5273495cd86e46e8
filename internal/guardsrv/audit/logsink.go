package audit

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSink writes audit events as structured zerolog records, the path an
// external telemetry collector scrapes.
type LogSink struct{}

// NewLogSink creates a zerolog-backed sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Write implements Sink.
func (s *LogSink) Write(event Event) error {
	var e *zerolog.Event
	switch event.Severity {
	case SeveritySecurity:
		e = log.Warn()
	default:
		e = log.Info()
	}

	e = e.Str("audit_kind", string(event.Kind)).
		Str("severity", string(event.Severity)).
		Str("outcome", string(event.Outcome)).
		Time("event_time", event.Time)

	if event.Tenant != "" {
		e = e.Str("tenant", string(event.Tenant))
	}
	if event.Subject != "" {
		e = e.Str("subject", event.Subject)
	}
	if event.Operation != "" {
		e = e.Str("operation", event.Operation)
	}
	if event.ResourceType != "" {
		e = e.Str("resource_type", string(event.ResourceType)).
			Str("resource_id", event.ResourceID)
	}
	if event.Kind == KindViolation {
		e = e.Str("attempted_tenant", string(event.AttemptedTenant)).
			Str("resource_tenant", string(event.ResourceTenant))
	}
	if event.Detail != "" {
		e = e.Str("detail", event.Detail)
	}

	e.Msg("audit event")
	return nil
}
