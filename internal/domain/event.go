package domain

import "time"

// EventKind classifies tool lifecycle events.
type EventKind string

const (
	EventStarted               EventKind = "started"
	EventOutputLine            EventKind = "output_line"
	EventFinished              EventKind = "finished"
	EventRejected              EventKind = "rejected"
	EventConfirmationRequested EventKind = "confirmation_requested"
)

// Decision sources recorded on started/finished/rejected events.
const (
	DecisionAuto         = "auto"
	DecisionAllowPattern = "allow_pattern"
	DecisionUserApproved = "user_approved"
	DecisionSessionAllow = "session_allow"
	DecisionUserRejected = "user_rejected"
	DecisionDenyPattern  = "deny_pattern"
)

// Status values carried by finished events.
const (
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusControlFlow = "control_flow"
	StatusRejected    = "rejected"
)

// ToolEvent is one append-only record on the event bus.
type ToolEvent struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"event_type"`
	Tool      string         `json:"tool"`
	CallID    string         `json:"call_id,omitempty"`
	Worker    string         `json:"worker,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	Status        string  `json:"status,omitempty"`
	Duration      float64 `json:"duration,omitempty"` // seconds
	Error         string  `json:"error,omitempty"`
	ResultPreview string  `json:"result_preview,omitempty"`
	Decision      string  `json:"decision,omitempty"`

	// output_line
	Stream string `json:"stream,omitempty"`
	Line   string `json:"line,omitempty"`

	// confirmation_requested
	Description string `json:"description,omitempty"`
	ApprovalID  string `json:"approval_id,omitempty"`
}
