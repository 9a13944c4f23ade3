package orchestrator

import (
	"time"

	"github.com/stewardhq/steward/pkg/catalog"
)

// ErrorCode is a stable failure code surfaced to callers
type ErrorCode string

const (
	CodeToolNotFound           ErrorCode = "tool_not_found"
	CodeValidationFailed       ErrorCode = "validation_failed"
	CodeIntegrationMissing     ErrorCode = "integration_missing"
	CodeExecutionFailed        ErrorCode = "execution_failed"
	CodeApprovalExpired        ErrorCode = "approval_expired"
	CodeApprovalAlreadyDecided ErrorCode = "approval_already_decided"
)

// Action is the upstream classifier's pre-decision for a tool call
type Action string

const (
	ActionExecute         Action = "execute"
	ActionRequestApproval Action = "request_approval"
)

// ClassifierDecision is produced by the upstream classification step. This
// core consumes it; it never produces one.
type ClassifierDecision struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// ExecutionContext identifies who is calling and under which conversation
type ExecutionContext struct {
	UserID         string        `json:"user_id"`
	SessionID      string        `json:"session_id,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Timeout        time.Duration `json:"-"` // overrides the orchestrator default when > 0
}

// ExecutionRequest is one tool-call attempt: the orchestrator's input
type ExecutionRequest struct {
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters"`
	Context    ExecutionContext       `json:"context"`
	Decision   ClassifierDecision     `json:"decision"`
}

// Outcome is a closed sum over exactly three shapes: Success,
// PendingApproval, and Failure. Every outcome carries the audit-log reference
// and the measured duration. Consumers should switch over the concrete types
// and handle all three.
type Outcome interface {
	isOutcome()

	// AuditID returns the audit-log entry recorded for this outcome.
	AuditID() string
}

// Success carries the tool's return value
type Success struct {
	Result       interface{}   `json:"result"`
	Truncated    bool          `json:"truncated,omitempty"`
	ShouldNotify bool          `json:"should_notify"`
	AuditLogID   string        `json:"audit_log_id"`
	Duration     time.Duration `json:"duration"`
}

func (Success) isOutcome()        {}
func (s Success) AuditID() string { return s.AuditLogID }

// ApprovalSummary is the human-readable digest attached to a pending outcome
type ApprovalSummary struct {
	ToolName    string                 `json:"tool_name"`
	Description string                 `json:"description"`
	RiskLevel   catalog.RiskLevel      `json:"risk_level"`
	Reasoning   string                 `json:"reasoning,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// PendingApproval means a human must sign off before the tool runs
type PendingApproval struct {
	ApprovalID string          `json:"approval_id"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Summary    ApprovalSummary `json:"summary"`
	AuditLogID string          `json:"audit_log_id"`
	Duration   time.Duration   `json:"duration"`
}

func (PendingApproval) isOutcome()        {}
func (p PendingApproval) AuditID() string { return p.AuditLogID }

// Failure carries a stable error code and whether the caller may retry
type Failure struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	AuditLogID string                 `json:"audit_log_id"`
	Duration   time.Duration          `json:"duration"`
}

func (Failure) isOutcome()        {}
func (f Failure) AuditID() string { return f.AuditLogID }

// DecisionError is returned by DecideApproval when a decision cannot be
// applied, carrying the same stable codes as Failure outcomes
type DecisionError struct {
	Code    ErrorCode
	Message string
}

func (e *DecisionError) Error() string {
	return string(e.Code) + ": " + e.Message
}
