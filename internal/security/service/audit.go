package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
	"github.com/agriquest/authcore/internal/security/store"
	"github.com/agriquest/authcore/pkg/httpx"
	"github.com/agriquest/authcore/pkg/idx"

	"golang.org/x/time/rate"
)

// suspiciousFailureThreshold is how many failed events flag an actor in a
// security report.
const suspiciousFailureThreshold = 5

// AlertNotifier receives critical audit events. Implementations deliver them
// wherever the operators watch (email, chat webhook); the core stays agnostic.
type AlertNotifier interface {
	Notify(ctx context.Context, ev domain.AuditEvent)
}

// Entry is the caller-supplied part of an audit event. The service fills in
// id, timestamp, network address, and correlation id.
type Entry struct {
	Category domain.EventCategory
	Severity domain.Severity
	ActorID  string
	Action   string
	Details  map[string]any
	Success  bool
	Error    string
}

// AuditService appends security events to the durable store and mirrors them
// to the structured log. Persistence is best effort: a failing audit store
// must never abort the operation being audited, so append errors land in the
// fallback log sink and are swallowed.
type AuditService struct {
	Store store.Store

	// Logger is the fallback/mirror sink. Required.
	Logger *slog.Logger

	// Notifier, when set, receives critical events. Throttled so an alert
	// storm cannot amplify an incident.
	Notifier     AlertNotifier
	alertLimiter *rate.Limiter

	// Now is the clock, injectable for tests. Nil means time.Now.
	Now func() time.Time
}

func NewAuditService(st store.Store, logger *slog.Logger, notifier AlertNotifier) *AuditService {
	return &AuditService{
		Store:        st,
		Logger:       logger,
		Notifier:     notifier,
		alertLimiter: rate.NewLimiter(rate.Every(time.Minute), 5),
	}
}

func (s *AuditService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Log records one audit event.
func (s *AuditService) Log(ctx context.Context, e Entry) {
	now := s.now().UTC()

	ev := domain.AuditEvent{
		ID:            idx.NewAt(now).String(),
		Timestamp:     now,
		Category:      e.Category,
		Severity:      e.Severity,
		ActorID:       e.ActorID,
		Action:        e.Action,
		Details:       e.Details,
		Success:       e.Success,
		Error:         e.Error,
		IPAddress:     httpx.ClientIPFromContext(ctx),
		CorrelationID: httpx.RequestIDFromContext(ctx),
	}

	if err := s.Store.AuditEvents().AppendAuditEvent(ctx, ev); err != nil {
		s.Logger.Error("audit event not persisted",
			"error", err,
			"action", ev.Action,
			"category", string(ev.Category),
		)
	}

	s.mirror(ev)

	if ev.Severity == domain.SeverityCritical && s.Notifier != nil && s.alertLimiter.Allow() {
		s.Notifier.Notify(ctx, ev)
	}
}

// mirror writes the event to the structured log at the severity-mapped level.
func (s *AuditService) mirror(ev domain.AuditEvent) {
	attrs := []any{
		"audit_id", ev.ID,
		"category", string(ev.Category),
		"severity", string(ev.Severity),
		"action", ev.Action,
		"success", ev.Success,
	}
	if ev.ActorID != "" {
		attrs = append(attrs, "actor_id", ev.ActorID)
	}
	if ev.IPAddress != "" {
		attrs = append(attrs, "ip", ev.IPAddress)
	}
	if ev.CorrelationID != "" {
		attrs = append(attrs, "correlation_id", ev.CorrelationID)
	}
	if ev.Error != "" {
		attrs = append(attrs, "error", ev.Error)
	}

	switch ev.Severity {
	case domain.SeverityLow:
		s.Logger.Debug("audit", attrs...)
	case domain.SeverityMedium:
		s.Logger.Info("audit", attrs...)
	case domain.SeverityHigh:
		s.Logger.Warn("audit", attrs...)
	case domain.SeverityCritical:
		s.Logger.Error("audit", attrs...)
	default:
		s.Logger.Info("audit", attrs...)
	}
}

// LogAuthentication records a sign-in or token event. Failures are high
// severity, successes medium.
func (s *AuditService) LogAuthentication(ctx context.Context, actorID, action string, success bool, errMsg string) {
	severity := domain.SeverityMedium
	if !success {
		severity = domain.SeverityHigh
	}
	s.Log(ctx, Entry{
		Category: domain.EventAuthentication,
		Severity: severity,
		ActorID:  actorID,
		Action:   action,
		Success:  success,
		Error:    errMsg,
	})
}

// LogAuthorization records an access-control decision. Denials are high
// severity.
func (s *AuditService) LogAuthorization(ctx context.Context, actorID, action string, allowed bool) {
	severity := domain.SeverityMedium
	if !allowed {
		severity = domain.SeverityHigh
	}
	s.Log(ctx, Entry{
		Category: domain.EventAuthorization,
		Severity: severity,
		ActorID:  actorID,
		Action:   action,
		Success:  allowed,
	})
}

// LogDataModification records a write to protected data.
func (s *AuditService) LogDataModification(ctx context.Context, actorID, action string, details map[string]any) {
	s.Log(ctx, Entry{
		Category: domain.EventDataModification,
		Severity: domain.SeverityMedium,
		ActorID:  actorID,
		Action:   action,
		Details:  details,
		Success:  true,
	})
}

// LogSecurityEvent records rate limiting, lockouts, and other defensive
// actions at the caller's chosen severity.
func (s *AuditService) LogSecurityEvent(ctx context.Context, actorID, action string, severity domain.Severity, details map[string]any) {
	s.Log(ctx, Entry{
		Category: domain.EventSecurity,
		Severity: severity,
		ActorID:  actorID,
		Action:   action,
		Details:  details,
	})
}

// LogAdminAction records privileged operations. Always high severity.
func (s *AuditService) LogAdminAction(ctx context.Context, actorID, action string, details map[string]any) {
	s.Log(ctx, Entry{
		Category: domain.EventAdminAction,
		Severity: domain.SeverityHigh,
		ActorID:  actorID,
		Action:   action,
		Details:  details,
		Success:  true,
	})
}

// LogSystemEvent records service lifecycle events at low severity.
func (s *AuditService) LogSystemEvent(ctx context.Context, action string, details map[string]any) {
	s.Log(ctx, Entry{
		Category: domain.EventSystem,
		Severity: domain.SeverityLow,
		Action:   action,
		Details:  details,
		Success:  true,
	})
}

// Query returns stored events matching the filter, newest first.
func (s *AuditService) Query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEvent, error) {
	return s.Store.AuditEvents().QueryAuditEvents(ctx, f)
}

// SecurityReport aggregates audit activity over a window: event counts by
// category and severity, the failed-authentication total, and actors or
// addresses whose failures crossed the suspicion threshold.
func (s *AuditService) SecurityReport(ctx context.Context, from, to time.Time) (domain.SecurityReport, error) {
	counts, err := s.Store.AuditEvents().CountsByCategorySeverity(ctx, from, to)
	if err != nil {
		return domain.SecurityReport{}, err
	}

	failed, err := s.Store.AuditEvents().CountFailedAuthentications(ctx, from, to)
	if err != nil {
		return domain.SecurityReport{}, err
	}

	actors, err := s.Store.AuditEvents().ListSuspiciousActors(ctx, from, to, suspiciousFailureThreshold)
	if err != nil {
		return domain.SecurityReport{}, err
	}

	return domain.SecurityReport{
		From:             from,
		To:               to,
		EventCounts:      counts,
		FailedLogins:     failed,
		SuspiciousActors: actors,
		GeneratedAt:      s.now().UTC(),
	}, nil
}
