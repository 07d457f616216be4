package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Webhook ingestion events
	EventTypeWebhookReceived EventType = "webhook.received"
	EventTypeWebhookRejected EventType = "webhook.rejected"

	// Identity lifecycle events
	EventTypeUserProvisioned EventType = "user.provisioned"
	EventTypeUserDeleted     EventType = "user.deleted"
	EventTypeSyncRequested   EventType = "user.sync_requested"

	// Forward-auth events
	EventTypeAuthAllowed   EventType = "auth.allowed"
	EventTypeAuthDenied    EventType = "auth.denied"
	EventTypeSessionMinted EventType = "auth.session_minted"

	// Resilience events
	EventTypeBreakerOpened EventType = "breaker.opened"

	// Token issuer events
	EventTypeTokenIssued EventType = "token.issued"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusFailure EventStatus = "failure"
	StatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Identity context
	Provider   string `json:"provider,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Email      string `json:"email,omitempty"`
	Username   string `json:"username,omitempty"`
	Downstream string `json:"downstream,omitempty"`
	AccountID  string `json:"account_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	// Details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit events
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	EventTypes []EventType
	Status     *EventStatus

	Provider   string
	Email      string
	Downstream string
	RequestID  string

	Limit  int
	Offset int
}

// ExportFormat represents the format for exporting audit events
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// Stats summarizes the audit trail for operators
type Stats struct {
	TotalEvents    int64                 `json:"total_events"`
	EventsByType   map[EventType]int64   `json:"events_by_type"`
	EventsByStatus map[EventStatus]int64 `json:"events_by_status"`
	UniqueEmails   int64                 `json:"unique_emails"`
	AuthDenials    int64                 `json:"auth_denials"`
}

// RetentionPolicy defines how long audit events are kept
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep audit events
	RetentionDays int

	// ArchiveEnabled uploads expiring events to S3 before deletion
	ArchiveEnabled bool
}

// DefaultRetentionPolicy returns the default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:  90,
		ArchiveEnabled: false,
	}
}
