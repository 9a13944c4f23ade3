// Package orchestrator is the single entry point for tool execution: it
// sequences parameter validation, integration checks, autonomy resolution,
// and either runs the tool body or opens an approval, emitting exactly one
// audit event per call.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stewardhq/steward/internal/metrics"
	"github.com/stewardhq/steward/pkg/approval"
	"github.com/stewardhq/steward/pkg/audit"
	"github.com/stewardhq/steward/pkg/autonomy"
	"github.com/stewardhq/steward/pkg/catalog"
	"github.com/stewardhq/steward/pkg/integrations"
)

const (
	// DefaultExecTimeout bounds a single tool body execution
	DefaultExecTimeout = 30 * time.Second

	// maxOutputSize caps the tool output carried in outcomes and audit detail
	maxOutputSize = 10 * 1024
)

// transienter marks an execution error as transient, making the failure
// retryable for the calling loop
type transienter interface {
	Transient() bool
}

// Config wires the orchestrator's collaborators. Registry, Settings,
// Integrations, Approvals, and Audit are required; Metrics is optional.
type Config struct {
	Registry     *catalog.Registry
	Settings     autonomy.Store
	Integrations *integrations.Checker
	Approvals    approval.Store
	Audit        audit.Sink
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	ApprovalTTL  time.Duration
	ExecTimeout  time.Duration
}

// Orchestrator sequences validation, integration checks, autonomy resolution,
// and execution for every tool-call attempt. Calls are independent; the same
// user may have multiple attempts in flight.
type Orchestrator struct {
	registry    *catalog.Registry
	settings    autonomy.Store
	checker     *integrations.Checker
	approvals   approval.Store
	sink        audit.Sink
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	approvalTTL time.Duration
	execTimeout time.Duration
	now         func() time.Time
}

// New creates an orchestrator from the given configuration
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Settings == nil {
		return nil, errors.New("settings store is required")
	}
	if cfg.Integrations == nil {
		return nil, errors.New("integration checker is required")
	}
	if cfg.Approvals == nil {
		return nil, errors.New("approval store is required")
	}
	if cfg.Audit == nil {
		return nil, errors.New("audit sink is required")
	}

	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = approval.DefaultTTL
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}

	return &Orchestrator{
		registry:    cfg.Registry,
		settings:    cfg.Settings,
		checker:     cfg.Integrations,
		approvals:   cfg.Approvals,
		sink:        cfg.Audit,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		approvalTTL: cfg.ApprovalTTL,
		execTimeout: cfg.ExecTimeout,
		now:         time.Now,
	}, nil
}

// ExecuteToolCall runs one tool-call attempt end to end and returns one of
// the three outcome shapes. Steps run strictly in order and short-circuit on
// the first failure; every branch emits exactly one audit event.
func (o *Orchestrator) ExecuteToolCall(ctx context.Context, req ExecutionRequest) Outcome {
	start := o.now()

	tool := o.registry.Get(req.ToolName)
	if tool == nil {
		return o.failure(ctx, req, start, Failure{
			Code:    CodeToolNotFound,
			Message: fmt.Sprintf("unknown tool: %s", req.ToolName),
		}, "")
	}

	vr, err := o.registry.ValidateParameters(req.ToolName, req.Parameters)
	if err != nil {
		return o.failure(ctx, req, start, Failure{
			Code:    CodeExecutionFailed,
			Message: fmt.Sprintf("parameter validation error: %v", err),
		}, "")
	}
	if !vr.Valid {
		fieldErrors := make([]map[string]interface{}, 0, len(vr.Errors))
		for _, fe := range vr.Errors {
			fieldErrors = append(fieldErrors, map[string]interface{}{
				"path":    fe.Path,
				"message": fe.Message,
			})
		}
		// Retryable: the caller may re-prompt with corrected arguments.
		return o.failure(ctx, req, start, Failure{
			Code:      CodeValidationFailed,
			Message:   fmt.Sprintf("invalid parameters for %s", req.ToolName),
			Details:   map[string]interface{}{"field_errors": fieldErrors},
			Retryable: true,
		}, "")
	}

	missing, err := o.checker.Missing(ctx, req.Context.UserID, tool.RequiredIntegrations)
	if err != nil {
		return o.failure(ctx, req, start, Failure{
			Code:      CodeExecutionFailed,
			Message:   fmt.Sprintf("integration availability check failed: %v", err),
			Retryable: true,
		}, "")
	}
	if len(missing) > 0 {
		guidance := make([]string, 0, len(missing))
		for _, id := range missing {
			guidance = append(guidance, integrations.Guidance(id))
		}
		return o.failure(ctx, req, start, Failure{
			Code:    CodeIntegrationMissing,
			Message: fmt.Sprintf("missing integrations for %s", req.ToolName),
			Details: map[string]interface{}{
				"missing_integrations": missing,
				"guidance":             guidance,
			},
		}, "")
	}

	// Settings are read fresh per resolution so a concurrent update cannot
	// leave a stale policy in play.
	settings, err := o.settings.Get(ctx, req.Context.UserID)
	if err != nil {
		return o.failure(ctx, req, start, Failure{
			Code:      CodeExecutionFailed,
			Message:   fmt.Sprintf("failed to load autonomy settings: %v", err),
			Retryable: true,
		}, "")
	}

	decision := autonomy.Resolve(settings, tool.Name, tool.Category, tool.RiskLevel, req.Decision.Confidence, o.now())

	if o.metrics != nil {
		o.metrics.ObserveDecision(string(decision.DeterminedBy), decision.Required)
	}

	// Caller intent is never downgraded: a pre-decided request_approval opens
	// an approval even when the resolver would have auto-executed.
	if decision.Required || req.Decision.Action == ActionRequestApproval {
		return o.createApproval(ctx, req, tool, vr.Parsed, decision, start)
	}

	return o.runTool(ctx, req, tool, vr.Parsed, decision, start)
}

// createApproval opens a pending approval record and returns the pending outcome
func (o *Orchestrator) createApproval(ctx context.Context, req ExecutionRequest, tool *catalog.ToolDefinition, params map[string]interface{}, decision autonomy.Decision, start time.Time) Outcome {
	reasoning := req.Decision.Reasoning
	if reasoning == "" {
		reasoning = decision.Reason
	}

	rec := &approval.Record{
		ID:             approval.NewID(),
		UserID:         req.Context.UserID,
		ToolName:       tool.Name,
		Parameters:     params,
		Category:       tool.Category,
		RiskLevel:      tool.RiskLevel,
		Reasoning:      reasoning,
		Status:         approval.StatusPending,
		ConversationID: req.Context.ConversationID,
		RequestedAt:    start,
		ExpiresAt:      start.Add(o.approvalTTL),
	}

	if err := o.approvals.Create(ctx, rec); err != nil {
		return o.failure(ctx, req, start, Failure{
			Code:      CodeExecutionFailed,
			Message:   fmt.Sprintf("failed to create approval: %v", err),
			Retryable: true,
		}, string(decision.DeterminedBy))
	}

	if o.metrics != nil {
		o.metrics.ApprovalsCreatedTotal.Inc()
	}

	duration := o.now().Sub(start)
	auditID := o.emit(ctx, audit.Event{
		UserID:       req.Context.UserID,
		SessionID:    req.Context.SessionID,
		ToolName:     tool.Name,
		Outcome:      "pending_approval",
		DeterminedBy: string(decision.DeterminedBy),
		ApprovalID:   rec.ID,
		DurationMs:   duration.Milliseconds(),
		Detail:       map[string]interface{}{"reason": decision.Reason},
	})

	o.observeExecution(tool.Name, "pending_approval", duration)

	return PendingApproval{
		ApprovalID: rec.ID,
		ExpiresAt:  rec.ExpiresAt,
		Summary: ApprovalSummary{
			ToolName:    tool.Name,
			Description: tool.Description,
			RiskLevel:   tool.RiskLevel,
			Reasoning:   reasoning,
			Parameters:  params,
		},
		AuditLogID: auditID,
		Duration:   duration,
	}
}

// runTool invokes the tool body with the validated parameters
func (o *Orchestrator) runTool(ctx context.Context, req ExecutionRequest, tool *catalog.ToolDefinition, params map[string]interface{}, decision autonomy.Decision, start time.Time) Outcome {
	timeout := o.execTimeout
	if req.Context.Timeout > 0 {
		timeout = req.Context.Timeout
	}

	result, err := invoke(ctx, tool.Handler, params, timeout)
	duration := o.now().Sub(start)

	if err != nil {
		retryable := false
		var tr transienter
		if errors.As(err, &tr) {
			retryable = tr.Transient()
		}

		o.logger.Error().
			Str("tool", tool.Name).
			Str("user_id", req.Context.UserID).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")

		auditID := o.emit(ctx, audit.Event{
			UserID:       req.Context.UserID,
			SessionID:    req.Context.SessionID,
			ToolName:     tool.Name,
			Outcome:      "failure",
			ErrorCode:    string(CodeExecutionFailed),
			DeterminedBy: string(decision.DeterminedBy),
			DurationMs:   duration.Milliseconds(),
			Detail:       map[string]interface{}{"error": err.Error()},
		})

		o.observeExecution(tool.Name, "failure", duration)

		return Failure{
			Code:       CodeExecutionFailed,
			Message:    err.Error(),
			Retryable:  retryable,
			AuditLogID: auditID,
			Duration:   duration,
		}
	}

	output, truncated := truncateOutput(result)

	auditID := o.emit(ctx, audit.Event{
		UserID:       req.Context.UserID,
		SessionID:    req.Context.SessionID,
		ToolName:     tool.Name,
		Outcome:      "success",
		DeterminedBy: string(decision.DeterminedBy),
		DurationMs:   duration.Milliseconds(),
	})

	o.observeExecution(tool.Name, "success", duration)

	o.logger.Debug().
		Str("tool", tool.Name).
		Dur("duration", duration).
		Bool("truncated", truncated).
		Msg("Tool executed")

	return Success{
		Result:       output,
		Truncated:    truncated,
		ShouldNotify: decision.ShouldNotify,
		AuditLogID:   auditID,
		Duration:     duration,
	}
}

// DecideApproval applies a human decision to a pending approval. Approving
// executes the underlying tool body at approval time and records the result;
// rejecting records the notes and never executes. A second decision on the
// same record fails with approval_already_decided.
func (o *Orchestrator) DecideApproval(ctx context.Context, approvalID, decision, notes string) (*approval.Record, error) {
	start := o.now()

	rec, err := approval.Fetch(ctx, o.approvals, approvalID, start)
	if errors.Is(err, approval.ErrNotFound) {
		return nil, &DecisionError{Code: CodeApprovalAlreadyDecided, Message: fmt.Sprintf("approval not found: %s", approvalID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch approval %s: %w", approvalID, err)
	}

	switch rec.Status {
	case approval.StatusPending:
		// decidable
	case approval.StatusExpired:
		return nil, &DecisionError{Code: CodeApprovalExpired, Message: fmt.Sprintf("approval %s expired at %s", approvalID, rec.ExpiresAt.Format(time.RFC3339))}
	default:
		return nil, &DecisionError{Code: CodeApprovalAlreadyDecided, Message: fmt.Sprintf("approval %s is already %s", approvalID, rec.Status)}
	}

	switch decision {
	case "approve":
		return o.approve(ctx, rec, start)
	case "reject":
		return o.reject(ctx, rec, notes, start)
	default:
		return nil, fmt.Errorf("unknown decision %q: want approve or reject", decision)
	}
}

func (o *Orchestrator) approve(ctx context.Context, rec *approval.Record, start time.Time) (*approval.Record, error) {
	// Claim the record first: the CAS on status is what serializes two
	// concurrent approve calls.
	claimed, err := o.approvals.Transition(ctx, rec.ID, approval.StatusApproved, start, "")
	if errors.Is(err, approval.ErrAlreadyDecided) {
		return nil, &DecisionError{Code: CodeApprovalAlreadyDecided, Message: fmt.Sprintf("approval %s is already decided", rec.ID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to approve %s: %w", rec.ID, err)
	}

	if o.metrics != nil {
		o.metrics.ApprovalsDecidedTotal.WithLabelValues("approved").Inc()
	}

	tool := o.registry.Get(claimed.ToolName)

	var result interface{}
	var execErr error
	if tool == nil {
		execErr = fmt.Errorf("tool no longer registered: %s", claimed.ToolName)
	} else {
		result, execErr = invoke(ctx, tool.Handler, claimed.Parameters, o.execTimeout)
	}

	errorMessage := ""
	outcome := "approval_executed"
	if execErr != nil {
		errorMessage = execErr.Error()
		outcome = "approval_execution_failed"
		o.logger.Error().
			Str("approval_id", claimed.ID).
			Str("tool", claimed.ToolName).
			Err(execErr).
			Msg("Approved tool execution failed")
	}

	output, _ := truncateOutput(result)
	if err := o.approvals.SetResult(ctx, claimed.ID, output, errorMessage); err != nil {
		return nil, fmt.Errorf("failed to record result for %s: %w", claimed.ID, err)
	}

	duration := o.now().Sub(start)
	o.emit(ctx, audit.Event{
		UserID:     claimed.UserID,
		ToolName:   claimed.ToolName,
		Outcome:    outcome,
		ApprovalID: claimed.ID,
		DurationMs: duration.Milliseconds(),
	})
	o.observeExecution(claimed.ToolName, outcome, duration)

	return o.approvals.Get(ctx, claimed.ID)
}

func (o *Orchestrator) reject(ctx context.Context, rec *approval.Record, notes string, start time.Time) (*approval.Record, error) {
	rejected, err := o.approvals.Transition(ctx, rec.ID, approval.StatusRejected, start, notes)
	if errors.Is(err, approval.ErrAlreadyDecided) {
		return nil, &DecisionError{Code: CodeApprovalAlreadyDecided, Message: fmt.Sprintf("approval %s is already decided", rec.ID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reject %s: %w", rec.ID, err)
	}

	if o.metrics != nil {
		o.metrics.ApprovalsDecidedTotal.WithLabelValues("rejected").Inc()
	}

	o.emit(ctx, audit.Event{
		UserID:     rejected.UserID,
		ToolName:   rejected.ToolName,
		Outcome:    "approval_rejected",
		ApprovalID: rejected.ID,
		DurationMs: o.now().Sub(start).Milliseconds(),
	})

	return rejected, nil
}

// failure emits the audit event for a failed branch and finishes the outcome
func (o *Orchestrator) failure(ctx context.Context, req ExecutionRequest, start time.Time, f Failure, determinedBy string) Outcome {
	duration := o.now().Sub(start)
	f.Duration = duration

	f.AuditLogID = o.emit(ctx, audit.Event{
		UserID:       req.Context.UserID,
		SessionID:    req.Context.SessionID,
		ToolName:     req.ToolName,
		Outcome:      "failure",
		ErrorCode:    string(f.Code),
		DeterminedBy: determinedBy,
		DurationMs:   duration.Milliseconds(),
		Detail:       f.Details,
	})

	o.observeExecution(req.ToolName, "failure", duration)

	o.logger.Warn().
		Str("tool", req.ToolName).
		Str("user_id", req.Context.UserID).
		Str("code", string(f.Code)).
		Msg(f.Message)

	return f
}

// emit records the audit event, which must complete before the outcome is
// returned. A sink failure is logged but never turns a result into an error.
func (o *Orchestrator) emit(ctx context.Context, event audit.Event) string {
	id, err := o.sink.Record(ctx, event)
	if err != nil {
		o.logger.Error().Err(err).Str("tool", event.ToolName).Msg("Failed to record audit event")
		return ""
	}
	return id
}

func (o *Orchestrator) observeExecution(tool, outcome string, duration time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.ToolExecutionsTotal.WithLabelValues(tool, outcome).Inc()
	o.metrics.ToolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// invoke runs a tool handler with a timeout, honoring caller cancellation
func invoke(ctx context.Context, handler catalog.Handler, params map[string]interface{}, timeout time.Duration) (interface{}, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errChan:
		return nil, err
	case <-timeoutCtx.Done():
		return nil, fmt.Errorf("tool execution timeout after %v", timeout)
	}
}

// truncateOutput caps oversized string output before it is audited or returned
func truncateOutput(output interface{}) (interface{}, bool) {
	if output == nil {
		return nil, false
	}

	str, ok := output.(string)
	if !ok {
		return output, false
	}
	if len(str) <= maxOutputSize {
		return output, false
	}

	return str[:maxOutputSize] + "\n... [output truncated]", true
}
