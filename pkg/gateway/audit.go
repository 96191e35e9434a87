package gateway

import "time"

// Operation categorizes an audit entry by what kind of work it describes.
type Operation string

// Operation categories. The set is fixed; log queries filter on it. CRUD,
// DB_QUERY, and HEALTH are query-filter vocabulary only: no span in this
// process emits them.
const (
	OpSearch      Operation = "SEARCH"
	OpFetch       Operation = "FETCH"
	OpCRUD        Operation = "CRUD"
	OpHandlerInit Operation = "HANDLER_INIT"
	OpDBQuery     Operation = "DB_QUERY"
	OpAPICall     Operation = "API_CALL"
	OpHealth      Operation = "HEALTH"
)

// Status marks where in its lifecycle an audited operation is. Every START
// is followed by exactly one terminal SUCCESS or FAILED entry, possibly
// with IN_PROGRESS or WARNING entries in between.
type Status string

// Audit statuses.
const (
	StatusStart      Status = "START"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusWarning    Status = "WARNING"
)

// Level is the severity of an audit entry.
type Level string

// Audit severity levels.
const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// AuditEntry is one persisted, queryable log record. Entries sharing a
// correlation ID reconstruct the causal tree of one end-to-end operation.
type AuditEntry struct {
	ID string `json:"id"`

	// Timestamp is recorded in epoch milliseconds.
	Timestamp int64 `json:"ts"`

	Level     Level     `json:"level"`
	Operation Operation `json:"operation"`
	Status    Status    `json:"status,omitempty"`

	// Method is the method or handler name the entry describes.
	Method string `json:"method,omitempty"`

	Message string `json:"message"`

	// OwnerID and SourceID link the entry to the tenant data it concerns,
	// when known.
	OwnerID  string `json:"owner_id,omitempty"`
	SourceID string `json:"source_id,omitempty"`

	CorrelationID string `json:"correlation_id"`

	// ElapsedSec is set on terminal entries: seconds since the matching
	// START, measured on the monotonic clock.
	ElapsedSec float64 `json:"elapsed_sec,omitempty"`

	// Details carries free-form structured context.
	Details map[string]string `json:"details,omitempty"`
}

// Time returns the entry timestamp as a time.Time.
func (e *AuditEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
