package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
)

type auditEventsRepo struct {
	db dbtx
}

const auditColumns = `id, timestamp, category, severity, actor_id, action, details, success, error, ip_address, correlation_id`

func (r *auditEventsRepo) AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	var details sql.NullString
	if len(ev.Details) > 0 {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return err
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Timestamp, string(ev.Category), string(ev.Severity),
		mapStringNull(ev.ActorID), ev.Action, details, ev.Success,
		mapStringNull(ev.Error), mapStringNull(ev.IPAddress), mapStringNull(ev.CorrelationID),
	)
	return err
}

func scanAuditEvent(rows *sql.Rows) (domain.AuditEvent, error) {
	var ev domain.AuditEvent
	var category, severity string
	var actorID, details, errMsg, ip, correlationID sql.NullString
	err := rows.Scan(
		&ev.ID, &ev.Timestamp, &category, &severity,
		&actorID, &ev.Action, &details, &ev.Success,
		&errMsg, &ip, &correlationID,
	)
	if err != nil {
		return domain.AuditEvent{}, err
	}

	ev.Category = domain.EventCategory(category)
	ev.Severity = domain.Severity(severity)
	ev.ActorID = mapNullString(actorID)
	ev.Error = mapNullString(errMsg)
	ev.IPAddress = mapNullString(ip)
	ev.CorrelationID = mapNullString(correlationID)

	if details.Valid {
		if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
			return domain.AuditEvent{}, err
		}
	}
	return ev, nil
}

func (r *auditEventsRepo) QueryAuditEvents(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEvent, error) {
	var (
		conds []string
		args  []any
	)
	if f.ActorID != "" {
		conds = append(conds, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if !f.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.To)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_events`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *auditEventsRepo) CountsByCategorySeverity(ctx context.Context, from, to time.Time) ([]domain.CategorySeverityCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, severity, COUNT(*)
		FROM audit_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY category, severity
		ORDER BY category, severity`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []domain.CategorySeverityCount
	for rows.Next() {
		var c domain.CategorySeverityCount
		var category, severity string
		if err := rows.Scan(&category, &severity, &c.Count); err != nil {
			return nil, err
		}
		c.Category = domain.EventCategory(category)
		c.Severity = domain.Severity(severity)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (r *auditEventsRepo) CountFailedAuthentications(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM audit_events
		WHERE category = ? AND success = 0 AND timestamp >= ? AND timestamp <= ?`,
		string(domain.EventAuthentication), from, to,
	).Scan(&n)
	return n, err
}

func (r *auditEventsRepo) ListSuspiciousActors(ctx context.Context, from, to time.Time, threshold int) ([]domain.SuspiciousActor, error) {
	// Actors are bucketed by actor id when present, otherwise by source
	// address, so anonymous brute forcing still surfaces.
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(actor_id, ''), ip_address) AS who, COUNT(*) AS failures
		FROM audit_events
		WHERE success = 0 AND timestamp >= ? AND timestamp <= ?
		  AND COALESCE(NULLIF(actor_id, ''), ip_address) IS NOT NULL
		GROUP BY who
		HAVING failures > ?
		ORDER BY failures DESC`,
		from, to, threshold,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []domain.SuspiciousActor
	for rows.Next() {
		var a domain.SuspiciousActor
		if err := rows.Scan(&a.Identifier, &a.Failures); err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}
