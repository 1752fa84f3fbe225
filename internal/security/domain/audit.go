package domain

import "time"

// EventCategory classifies audit events.
type EventCategory string

const (
	EventAuthentication   EventCategory = "authentication"
	EventAuthorization    EventCategory = "authorization"
	EventDataModification EventCategory = "data_modification"
	EventSecurity         EventCategory = "security_event"
	EventAdminAction      EventCategory = "admin_action"
	EventSystem           EventCategory = "system_event"
)

// Severity levels for audit events. Critical events additionally trigger the
// alert notifier.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AuditEvent is an immutable, append-only security audit record.
type AuditEvent struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Category      EventCategory  `json:"category"`
	Severity      Severity       `json:"severity"`
	ActorID       string         `json:"actor_id,omitempty"`
	Action        string         `json:"action"`
	Details       map[string]any `json:"details,omitempty"`
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// AuditFilter narrows an audit query. Zero values mean "don't filter".
type AuditFilter struct {
	ActorID  string
	Category EventCategory
	Severity Severity
	From     time.Time
	To       time.Time
	Limit    int
}

// CategorySeverityCount is one row of a security report aggregation.
type CategorySeverityCount struct {
	Category EventCategory `json:"category"`
	Severity Severity      `json:"severity"`
	Count    int           `json:"count"`
}

// SuspiciousActor is an identifier that crossed the failed-event threshold
// inside a report window.
type SuspiciousActor struct {
	Identifier string `json:"identifier"` // actor id when known, else network address
	Failures   int    `json:"failures"`
}

// SecurityReport aggregates audit activity over a time window.
type SecurityReport struct {
	From             time.Time               `json:"from"`
	To               time.Time               `json:"to"`
	EventCounts      []CategorySeverityCount `json:"event_counts"`
	FailedLogins     int                     `json:"failed_logins"`
	SuspiciousActors []SuspiciousActor       `json:"suspicious_actors"`
	GeneratedAt      time.Time               `json:"generated_at"`
}
