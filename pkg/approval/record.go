// Package approval persists pending tool-call approvals and drives their
// state machine: pending transitions once, to approved, rejected, or expired,
// and never leaves a terminal state. Records are never deleted, only
// status-transitioned, so the table doubles as an audit trail.
package approval

import (
	"context"
	"errors"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/stewardhq/steward/pkg/catalog"
)

// Status is the approval state machine state
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// DefaultTTL is how long a pending approval stays decidable
const DefaultTTL = 4 * time.Hour

var (
	// ErrNotFound is returned when no record exists with the given id
	ErrNotFound = errors.New("approval not found")

	// ErrAlreadyDecided is returned when a transition races a prior decision
	ErrAlreadyDecided = errors.New("approval already decided")

	// ErrExpired is returned when a decision arrives after expiry
	ErrExpired = errors.New("approval expired")
)

// Record is a persisted request for human sign-off on a specific tool call
type Record struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	ToolName       string                 `json:"tool_name"`
	Parameters     map[string]interface{} `json:"parameters"`
	Category       catalog.Category       `json:"category"`
	RiskLevel      catalog.RiskLevel      `json:"risk_level"`
	Reasoning      string                 `json:"reasoning,omitempty"`
	Status         Status                 `json:"status"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	RequestedAt    time.Time              `json:"requested_at"`
	ExpiresAt      time.Time              `json:"expires_at"`
	DecidedAt      *time.Time             `json:"decided_at,omitempty"`
	Result         interface{}            `json:"result,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
}

// NewID returns a fresh approval record id
func NewID() string {
	id, _ := gonanoid.New()
	return id
}

// Overdue reports whether a pending record's expiry has passed
func (r *Record) Overdue(now time.Time) bool {
	return r.Status == StatusPending && now.After(r.ExpiresAt)
}

// Store persists approval records. Transition must be atomic: the
// check-status-then-transition is a single serializable operation, so two
// concurrent decisions on the same record cannot both succeed.
type Store interface {
	// Create persists a new pending record.
	Create(ctx context.Context, rec *Record) error

	// Get returns the record by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Transition moves a pending record to a terminal status. Returns
	// ErrAlreadyDecided when the record is no longer pending.
	Transition(ctx context.Context, id string, to Status, decidedAt time.Time, errorMessage string) (*Record, error)

	// SetResult records the execution result (or error) on a decided record.
	SetResult(ctx context.Context, id string, result interface{}, errorMessage string) error

	// ListPending returns a user's pending records, oldest first.
	ListPending(ctx context.Context, userID string) ([]*Record, error)

	// ExpireOverdue bulk-transitions pending records past their expiry and
	// returns how many were expired.
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}

// Fetch reads a record and applies lazy expiry: a pending record whose
// expiry has passed is transitioned to expired before being returned. No
// background timer is needed for correctness.
func Fetch(ctx context.Context, store Store, id string, now time.Time) (*Record, error) {
	rec, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !rec.Overdue(now) {
		return rec, nil
	}

	expired, err := store.Transition(ctx, id, StatusExpired, now, "")
	if errors.Is(err, ErrAlreadyDecided) {
		// Lost a race with a concurrent decision or sweep; the stored state wins.
		return store.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	return expired, nil
}
