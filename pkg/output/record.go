// Package output provides JSONL output for sync runs.
//
// Output is structured as typed record envelopes containing plans, events,
// per-item results, errors, and summaries. Each line is a self-contained
// JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: blobsync.<type>.v<version>
const (
	// TypePlan identifies the computed copy plan.
	TypePlan = "blobsync.plan.v1"

	// TypeEvent identifies sync lifecycle events.
	TypeEvent = "blobsync.event.v1"

	// TypeItem identifies per-object copy/delete results.
	TypeItem = "blobsync.item.v1"

	// TypeError identifies error records.
	TypeError = "blobsync.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "blobsync.summary.v1"

	// TypePreflight identifies preflight capability check records.
	TypePreflight = "blobsync.preflight.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "blobsync.item.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates all records of one sync run.
	RunID string `json:"run_id"`

	// Provider identifies the source storage provider.
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// PlanRecord is the data payload for a computed plan.
type PlanRecord struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Prefix      string   `json:"prefix,omitempty"`
	Overwrite   string   `json:"overwrite"`
	ToCopy      []string `json:"to_copy"`
	ToDelete    []string `json:"to_delete"`
	Missing     int      `json:"missing"`
	Fresh       int      `json:"fresh"`
}

// EventRecord is the data payload for one sync event.
type EventRecord struct {
	Event     string     `json:"event"`
	Container string     `json:"container,omitempty"`
	Side      string     `json:"side,omitempty"`
	Name      string     `json:"name,omitempty"`
	Count     int        `json:"count,omitempty"`
	ETag      string     `json:"etag,omitempty"`
	Expiry    *time.Time `json:"expiry,omitempty"`
	Existed   *bool      `json:"existed,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// ItemRecord is the data payload for one executed copy or delete.
type ItemRecord struct {
	Name      string `json:"name"`
	Op        string `json:"op"`
	Outcome   string `json:"outcome"`
	Attempts  int    `json:"attempts,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PreflightRecord is the data payload for preflight capability checks.
//
// Preflight records are emitted before any mutating call. They record what
// was checked and whether the principal appears to have the required
// permissions.
type PreflightRecord struct {
	Mode    string                 `json:"mode"`
	Results []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is a single capability check result.
type PreflightCheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Key is the object name related to this error, if applicable.
	Key string `json:"key,omitempty"`

	// Container is the container being accessed when the error occurred.
	Container string `json:"container,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord and ItemRecord.
const (
	ErrCodeAccessDenied        = "ACCESS_DENIED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeThrottled           = "THROTTLED"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeInvalidConfig       = "INVALID_CONFIG"
	ErrCodeInternal            = "INTERNAL"
)

// CodeForKind maps an error kind name onto an error code.
func CodeForKind(kind string) string {
	switch kind {
	case "access_denied":
		return ErrCodeAccessDenied
	case "not_found":
		return ErrCodeNotFound
	case "canceled", "timeout":
		return ErrCodeTimeout
	case "throttled":
		return ErrCodeThrottled
	case "unavailable":
		return ErrCodeProviderUnavailable
	case "config":
		return ErrCodeInvalidConfig
	default:
		return ErrCodeInternal
	}
}

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	SourceObjects int  `json:"source_objects"`
	DestObjects   int  `json:"dest_objects"`
	PlannedCopies int  `json:"planned_copies"`
	PlannedDelete int  `json:"planned_deletes"`
	Fresh         int  `json:"fresh"`
	Copied        int  `json:"copied"`
	Deleted       int  `json:"deleted"`
	Absent        int  `json:"absent"`
	Failed        int  `json:"failed"`
	Skipped       int  `json:"skipped"`
	Created       bool `json:"container_created,omitempty"`
	DryRun        bool `json:"dry_run,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
