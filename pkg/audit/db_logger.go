package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBLogger persists audit events in the audit_events Postgres table and
// serves the read side (Search, GetStats, DeleteBefore).
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger wraps an open connection. The audit_events table is
// created lazily if absent.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		provider VARCHAR(100),
		subject VARCHAR(255),
		email VARCHAR(255),
		username VARCHAR(255),
		downstream VARCHAR(100),
		account_id VARCHAR(255),
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		message TEXT,
		error_message TEXT,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_email ON audit_events(email);
	CREATE INDEX IF NOT EXISTS idx_audit_events_downstream ON audit_events(downstream);
	CREATE INDEX IF NOT EXISTS idx_audit_events_status ON audit_events(status);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log inserts the event and fills in its assigned ID.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	if event.Metadata != nil {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = data
	}

	query := `
		INSERT INTO audit_events (
			timestamp, event_type, status,
			provider, subject, email, username, downstream, account_id,
			ip_address, user_agent, request_id, method, path,
			message, error_message, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17
		) RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.EventType, event.Status,
		event.Provider, event.Subject, event.Email, event.Username, event.Downstream, event.AccountID,
		event.IPAddress, event.UserAgent, event.RequestID, event.Method, event.Path,
		event.Message, event.ErrorMessage, metadataJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search retrieves audit events matching the filter, newest first.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT
			id, timestamp, event_type, status,
			provider, subject, email, username, downstream, account_id,
			ip_address, user_agent, request_id, method, path,
			message, error_message, metadata
		FROM audit_events
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	addCond := func(clause string, value interface{}) {
		query += fmt.Sprintf(" AND "+clause, argCount)
		args = append(args, value)
		argCount++
	}

	if filter.StartTime != nil {
		addCond("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		addCond("timestamp <= $%d", *filter.EndTime)
	}
	if len(filter.EventTypes) > 0 {
		eventTypeStrs := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypeStrs[i] = string(et)
		}
		addCond("event_type = ANY($%d)", pq.Array(eventTypeStrs))
	}
	if filter.Status != nil {
		addCond("status = $%d", string(*filter.Status))
	}
	if filter.Provider != "" {
		addCond("provider = $%d", filter.Provider)
	}
	if filter.Email != "" {
		addCond("email = $%d", filter.Email)
	}
	if filter.Downstream != "" {
		addCond("downstream = $%d", filter.Downstream)
	}
	if filter.RequestID != "" {
		addCond("request_id = $%d", filter.RequestID)
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	event := &Event{}
	var metadataJSON []byte

	err := rows.Scan(
		&event.ID, &event.Timestamp, &event.EventType, &event.Status,
		&event.Provider, &event.Subject, &event.Email, &event.Username, &event.Downstream, &event.AccountID,
		&event.IPAddress, &event.UserAgent, &event.RequestID, &event.Method, &event.Path,
		&event.Message, &event.ErrorMessage, &metadataJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	if len(metadataJSON) > 0 {
		event.Metadata = make(map[string]interface{})
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return event, nil
}

// GetStats aggregates totals, per-type and per-status counts, distinct
// emails, and denial counts over the optional time window.
func (l *DBLogger) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	stats := &Stats{
		EventsByType:   make(map[EventType]int64),
		EventsByStatus: make(map[EventStatus]int64),
	}

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if startTime != nil {
		whereClause += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *startTime)
		argCount++
	}
	if endTime != nil {
		whereClause += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *endTime)
	}

	err := l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM audit_events %s", whereClause), args...).Scan(&stats.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to get total events: %w", err)
	}

	byType, err := l.countsBy(ctx, "event_type", whereClause, args)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by type: %w", err)
	}
	for label, n := range byType {
		stats.EventsByType[EventType(label)] = n
	}

	byStatus, err := l.countsBy(ctx, "status", whereClause, args)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by status: %w", err)
	}
	for label, n := range byStatus {
		stats.EventsByStatus[EventStatus(label)] = n
	}

	err = l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT email) FROM audit_events %s AND email <> ''", whereClause), args...).Scan(&stats.UniqueEmails)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique emails: %w", err)
	}

	deniedClause := whereClause + " AND status = 'denied'"
	err = l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM audit_events %s", deniedClause), args...).Scan(&stats.AuthDenials)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth denials: %w", err)
	}

	return stats, nil
}

// countsBy runs a GROUP BY over one label column.
func (l *DBLogger) countsBy(ctx context.Context, column, whereClause string, args []interface{}) (map[string]int64, error) {
	rows, err := l.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_events %s GROUP BY %s", column, whereClause, column), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var label string
		var n int64
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

// DeleteBefore removes audit events older than the cutoff, returning how
// many rows were removed.
func (l *DBLogger) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit events: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the database connection is shared with the shadow
// store and closed by its owner.
func (l *DBLogger) Close() error {
	return nil
}
