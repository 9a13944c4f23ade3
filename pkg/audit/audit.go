// Package audit records one event per tool-call outcome. Every orchestrator
// branch emits exactly one event, and the returned outcome carries the event
// id, so a caller can always trace a result back to its log entry.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single audit-log entry
type Event struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	SessionID    string                 `json:"session_id,omitempty"`
	ToolName     string                 `json:"tool_name"`
	Outcome      string                 `json:"outcome"` // success, pending_approval, failure
	ErrorCode    string                 `json:"error_code,omitempty"`
	DeterminedBy string                 `json:"determined_by,omitempty"`
	ApprovalID   string                 `json:"approval_id,omitempty"`
	DurationMs   int64                  `json:"duration_ms"`
	Detail       map[string]interface{} `json:"detail,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Sink persists audit events. Record must complete (or durably queue) before
// the orchestrator returns, since every outcome carries the event id.
type Sink interface {
	Record(ctx context.Context, event Event) (string, error)
}

// NewEventID returns a fresh audit event id
func NewEventID() string {
	return uuid.NewString()
}

// MemorySink collects events in memory, for tests and local runs
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record implements Sink
func (s *MemorySink) Record(_ context.Context, event Event) (string, error) {
	if event.ID == "" {
		event.ID = NewEventID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)

	return event.ID, nil
}

// Events returns a copy of all recorded events
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
