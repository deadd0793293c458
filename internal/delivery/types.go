package delivery

import (
	"context"
	"time"
)

// Messenger is the outbound port to the chat platform.
//
// Handles are opaque to this package; whatever Send returns is passed back
// to Edit.
type Messenger interface {
	Send(ctx context.Context, scopeID, text string) (handle string, err error)
	Edit(ctx context.Context, handle, text string) error
	SendDirect(ctx context.Context, userID, text string) error
}

// ScopeOracle tells whether the bot may post into a scope right now.
type ScopeOracle interface {
	CanWriteScope(ctx context.Context, scopeID string) bool
}

// Config controls outbound pacing and the operator report destination.
type Config struct {
	// RatePerSec is the token bucket rate shared by all outbound calls (default 3).
	RatePerSec int
	// CallTimeout bounds each platform call (default 10s).
	CallTimeout time.Duration
	// ReportScope receives failure reports when writable.
	ReportScope string
	// OperatorID receives failure reports by direct message otherwise.
	OperatorID string
}

// Request is one notification to deliver.
type Request struct {
	ScopeID       string
	Handle        string // existing message to edit; empty sends a new one
	Recipients    []string
	Content       string
	AllowFallback bool

	// Subject identifies the notification in logs, events and reports.
	Subject string
}

// Result reports which tier delivered the content.
type Result struct {
	Scope  bool
	Direct bool
	// Handle is the scope message that now shows Content, if any.
	Handle string
}

// Delivered reports whether any recipient saw the content.
func (r Result) Delivered() bool { return r.Scope || r.Direct }

// Event is published on the bus for every delivery outcome.
type Event struct {
	Subject string    `json:"subject,omitempty"`
	ScopeID string    `json:"scope_id,omitempty"`
	Handle  string    `json:"handle,omitempty"`
	Sent    int       `json:"sent,omitempty"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

// Event types.
const (
	EventScope  = "delivery.scope"
	EventDirect = "delivery.direct"
	EventFailed = "delivery.failed"
	EventReport = "delivery.report"
)
