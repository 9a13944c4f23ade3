package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/pkg/approval"
	"github.com/stewardhq/steward/pkg/audit"
	"github.com/stewardhq/steward/pkg/autonomy"
	"github.com/stewardhq/steward/pkg/catalog"
	"github.com/stewardhq/steward/pkg/integrations"
)

type transientErr struct{ msg string }

func (e transientErr) Error() string   { return e.msg }
func (e transientErr) Transient() bool { return true }

// fixture bundles an orchestrator with its collaborators so tests can assert
// on stored state
type fixture struct {
	orch      *Orchestrator
	sink      *audit.MemorySink
	approvals *approval.MemoryStore
	settings  *autonomy.MemoryStore
	sent      *atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := catalog.NewRegistry()
	sent := &atomic.Int64{}

	require.NoError(t, registry.Register(catalog.ToolDefinition{
		Name:        "list_events",
		Description: "List calendar events",
		Category:    catalog.CategoryQuery,
		RiskLevel:   catalog.RiskLow,
		Parameters: []catalog.Parameter{
			{Name: "date", Type: "string", Description: "Day to list"},
		},
		Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return []string{"standup"}, nil
		},
	}))

	require.NoError(t, registry.Register(catalog.ToolDefinition{
		Name:        "send_email",
		Description: "Send an email",
		Category:    catalog.CategoryExternal,
		RiskLevel:   catalog.RiskHigh,
		Parameters: []catalog.Parameter{
			{Name: "to", Type: "string", Description: "Recipient", Required: true},
			{Name: "subject", Type: "string", Description: "Subject", Required: true},
		},
		RequiredIntegrations: []string{"gmail"},
		Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			sent.Add(1)
			return map[string]interface{}{"message_id": "m-1"}, nil
		},
	}))

	require.NoError(t, registry.Register(catalog.ToolDefinition{
		Name:        "flaky_tool",
		Description: "Fails transiently",
		Category:    catalog.CategoryQuery,
		RiskLevel:   catalog.RiskLow,
		Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return nil, transientErr{msg: "upstream timeout"}
		},
	}))

	require.NoError(t, registry.Register(catalog.ToolDefinition{
		Name:        "broken_tool",
		Description: "Fails permanently",
		Category:    catalog.CategoryQuery,
		RiskLevel:   catalog.RiskLow,
		Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return nil, errors.New("schema mismatch")
		},
	}))

	accounts := integrations.StaticAccounts{
		"user-1/gmail": true,
	}

	sink := audit.NewMemorySink()
	approvals := approval.NewMemoryStore()
	settings := autonomy.NewMemoryStore()

	orch, err := New(Config{
		Registry:     registry,
		Settings:     settings,
		Integrations: integrations.NewChecker(accounts, zerolog.Nop()),
		Approvals:    approvals,
		Audit:        sink,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	return &fixture{
		orch:      orch,
		sink:      sink,
		approvals: approvals,
		settings:  settings,
		sent:      sent,
	}
}

func request(tool string, params map[string]interface{}) ExecutionRequest {
	return ExecutionRequest{
		ToolName:   tool,
		Parameters: params,
		Context:    ExecutionContext{UserID: "user-1", SessionID: "sess-1"},
		Decision:   ClassifierDecision{Action: ActionExecute, Confidence: 0.9},
	}
}

// TestNew_RequiredCollaborators tests constructor validation
func TestNew_RequiredCollaborators(t *testing.T) {
	f := newFixture(t)

	complete := Config{
		Registry:     f.orch.registry,
		Settings:     f.settings,
		Integrations: f.orch.checker,
		Approvals:    f.approvals,
		Audit:        f.sink,
	}

	for _, tt := range []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"nil registry", func(cfg *Config) { cfg.Registry = nil }},
		{"nil settings", func(cfg *Config) { cfg.Settings = nil }},
		{"nil integrations", func(cfg *Config) { cfg.Integrations = nil }},
		{"nil approvals", func(cfg *Config) { cfg.Approvals = nil }},
		{"nil audit", func(cfg *Config) { cfg.Audit = nil }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := complete
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

// TestExecuteToolCall_ToolNotFound tests the unknown-tool branch
func TestExecuteToolCall_ToolNotFound(t *testing.T) {
	f := newFixture(t)

	outcome := f.orch.ExecuteToolCall(context.Background(), request("teleport", nil))

	failure, ok := outcome.(Failure)
	require.True(t, ok)
	assert.Equal(t, CodeToolNotFound, failure.Code)
	assert.False(t, failure.Retryable)
	assert.NotEmpty(t, failure.AuditLogID)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "failure", events[0].Outcome)
	assert.Equal(t, string(CodeToolNotFound), events[0].ErrorCode)
}

// TestExecuteToolCall_ValidationFailed tests that bad parameters short-circuit
// before any integration or autonomy work
func TestExecuteToolCall_ValidationFailed(t *testing.T) {
	f := newFixture(t)

	outcome := f.orch.ExecuteToolCall(context.Background(), request("send_email", map[string]interface{}{
		"to": "alex@example.com",
		// subject missing
	}))

	failure, ok := outcome.(Failure)
	require.True(t, ok)
	assert.Equal(t, CodeValidationFailed, failure.Code)
	assert.True(t, failure.Retryable)

	fieldErrors, ok := failure.Details["field_errors"].([]map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, fieldErrors)
	assert.Equal(t, "subject", fieldErrors[0]["path"])

	// Nothing was sent and no approval was opened.
	assert.Zero(t, f.sent.Load())
	pending, err := f.approvals.ListPending(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestExecuteToolCall_IntegrationMissing tests the missing-integration branch
func TestExecuteToolCall_IntegrationMissing(t *testing.T) {
	f := newFixture(t)

	req := request("send_email", map[string]interface{}{"to": "a@b.c", "subject": "hi"})
	req.Context.UserID = "user-2" // no gmail connected

	outcome := f.orch.ExecuteToolCall(context.Background(), req)

	failure, ok := outcome.(Failure)
	require.True(t, ok)
	assert.Equal(t, CodeIntegrationMissing, failure.Code)
	assert.Equal(t, []string{"gmail"}, failure.Details["missing_integrations"])

	guidance, ok := failure.Details["guidance"].([]string)
	require.True(t, ok)
	require.Len(t, guidance, 1)
	assert.Contains(t, guidance[0], "gmail")

	assert.Zero(t, f.sent.Load())
}

// TestExecuteToolCall_AutoExecute tests the success path for a low-risk tool
// under default settings
func TestExecuteToolCall_AutoExecute(t *testing.T) {
	f := newFixture(t)

	outcome := f.orch.ExecuteToolCall(context.Background(), request("list_events", nil))

	success, ok := outcome.(Success)
	require.True(t, ok)
	assert.Equal(t, []string{"standup"}, success.Result)
	assert.False(t, success.Truncated)
	// Default settings notify on auto-execution.
	assert.True(t, success.ShouldNotify)
	assert.NotEmpty(t, success.AuditLogID)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "success", events[0].Outcome)
	assert.Equal(t, "default", events[0].DeterminedBy)
	assert.Equal(t, success.AuditLogID, events[0].ID)
}

// TestExecuteToolCall_HighRiskOpensApproval tests that default settings route
// a high-risk tool to approval instead of running it
func TestExecuteToolCall_HighRiskOpensApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome := f.orch.ExecuteToolCall(ctx, request("send_email", map[string]interface{}{
		"to": "alex@example.com", "subject": "Q3 numbers",
	}))

	pending, ok := outcome.(PendingApproval)
	require.True(t, ok)
	assert.NotEmpty(t, pending.ApprovalID)
	assert.Equal(t, "send_email", pending.Summary.ToolName)
	assert.Equal(t, catalog.RiskHigh, pending.Summary.RiskLevel)
	assert.Equal(t, "alex@example.com", pending.Summary.Parameters["to"])

	// The tool body did not run.
	assert.Zero(t, f.sent.Load())

	rec, err := f.approvals.Get(ctx, pending.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, rec.Status)
	assert.Equal(t, rec.RequestedAt.Add(approval.DefaultTTL), rec.ExpiresAt)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "pending_approval", events[0].Outcome)
	assert.Equal(t, pending.ApprovalID, events[0].ApprovalID)
}

// TestExecuteToolCall_CallerRequestsApproval tests that a pre-decided
// request_approval is never downgraded, even when the resolver would execute
func TestExecuteToolCall_CallerRequestsApproval(t *testing.T) {
	f := newFixture(t)

	req := request("list_events", nil)
	req.Decision.Action = ActionRequestApproval
	req.Decision.Reasoning = "User asked me to double-check first"

	outcome := f.orch.ExecuteToolCall(context.Background(), req)

	pending, ok := outcome.(PendingApproval)
	require.True(t, ok)
	assert.Equal(t, "User asked me to double-check first", pending.Summary.Reasoning)
}

// TestExecuteToolCall_ExecutionFailed tests permanent and transient handler errors
func TestExecuteToolCall_ExecutionFailed(t *testing.T) {
	f := newFixture(t)

	outcome := f.orch.ExecuteToolCall(context.Background(), request("broken_tool", nil))
	failure, ok := outcome.(Failure)
	require.True(t, ok)
	assert.Equal(t, CodeExecutionFailed, failure.Code)
	assert.False(t, failure.Retryable)

	outcome = f.orch.ExecuteToolCall(context.Background(), request("flaky_tool", nil))
	failure, ok = outcome.(Failure)
	require.True(t, ok)
	assert.Equal(t, CodeExecutionFailed, failure.Code)
	assert.True(t, failure.Retryable)
}

// TestExecuteToolCall_Timeout tests that a hung tool body is cut off
func TestExecuteToolCall_Timeout(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.registry.Register(catalog.ToolDefinition{
		Name:        "slow_tool",
		Description: "Never returns in time",
		Category:    catalog.CategoryQuery,
		RiskLevel:   catalog.RiskLow,
		Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	req := request("slow_tool", nil)
	req.Context.Timeout = 20 * time.Millisecond

	outcome := f.orch.ExecuteToolCall(context.Background(), req)

	failure, ok := outcome.(Failure)
	require.True(t, ok)
	assert.Equal(t, CodeExecutionFailed, failure.Code)
	assert.Contains(t, failure.Message, "timeout")
}

// TestExecuteToolCall_TruncatesLargeOutput tests the output size cap
func TestExecuteToolCall_TruncatesLargeOutput(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.registry.Register(catalog.ToolDefinition{
		Name:        "dump_log",
		Description: "Returns a huge string",
		Category:    catalog.CategoryQuery,
		RiskLevel:   catalog.RiskLow,
		Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return strings.Repeat("x", maxOutputSize+100), nil
		},
	}))

	outcome := f.orch.ExecuteToolCall(context.Background(), request("dump_log", nil))

	success, ok := outcome.(Success)
	require.True(t, ok)
	assert.True(t, success.Truncated)
	out, ok := success.Result.(string)
	require.True(t, ok)
	assert.Contains(t, out, "[output truncated]")
	assert.Less(t, len(out), maxOutputSize+100)
}

// TestDecideApproval_Approve tests the full approve path: claim, execute,
// record result
func TestDecideApproval_Approve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome := f.orch.ExecuteToolCall(ctx, request("send_email", map[string]interface{}{
		"to": "alex@example.com", "subject": "Q3 numbers",
	}))
	pending := outcome.(PendingApproval)

	rec, err := f.orch.DecideApproval(ctx, pending.ApprovalID, "approve", "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, rec.Status)
	require.NotNil(t, rec.DecidedAt)
	assert.Equal(t, int64(1), f.sent.Load())

	result, ok := rec.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "m-1", result["message_id"])

	// A second decision on the same record is rejected.
	_, err = f.orch.DecideApproval(ctx, pending.ApprovalID, "reject", "changed my mind")
	var derr *DecisionError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, CodeApprovalAlreadyDecided, derr.Code)
	assert.Equal(t, int64(1), f.sent.Load())
}

// TestDecideApproval_Reject tests that rejection records notes and never executes
func TestDecideApproval_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome := f.orch.ExecuteToolCall(ctx, request("send_email", map[string]interface{}{
		"to": "alex@example.com", "subject": "Q3 numbers",
	}))
	pending := outcome.(PendingApproval)

	rec, err := f.orch.DecideApproval(ctx, pending.ApprovalID, "reject", "wrong recipient")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, rec.Status)
	assert.Equal(t, "wrong recipient", rec.ErrorMessage)
	assert.Zero(t, f.sent.Load())
}

// TestDecideApproval_Expired tests lazy expiry on decide
func TestDecideApproval_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome := f.orch.ExecuteToolCall(ctx, request("send_email", map[string]interface{}{
		"to": "alex@example.com", "subject": "Q3 numbers",
	}))
	pending := outcome.(PendingApproval)

	// Jump past the TTL.
	f.orch.now = func() time.Time { return time.Now().Add(approval.DefaultTTL + time.Minute) }

	_, err := f.orch.DecideApproval(ctx, pending.ApprovalID, "approve", "")
	var derr *DecisionError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, CodeApprovalExpired, derr.Code)

	rec, err := f.approvals.Get(ctx, pending.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExpired, rec.Status)
	assert.Zero(t, f.sent.Load())
}

// TestDecideApproval_UnknownID tests deciding a nonexistent approval
func TestDecideApproval_UnknownID(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.DecideApproval(context.Background(), "nope", "approve", "")
	var derr *DecisionError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, CodeApprovalAlreadyDecided, derr.Code)
}

// TestDecideApproval_UnknownDecision tests the decision verb validation
func TestDecideApproval_UnknownDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome := f.orch.ExecuteToolCall(ctx, request("send_email", map[string]interface{}{
		"to": "alex@example.com", "subject": "Q3 numbers",
	}))
	pending := outcome.(PendingApproval)

	_, err := f.orch.DecideApproval(ctx, pending.ApprovalID, "maybe", "")
	require.Error(t, err)

	rec, err := f.approvals.Get(ctx, pending.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, rec.Status)
}

// TestExecuteToolCall_SettingsChangeTakesEffect tests that a settings update
// between calls changes routing without restarting anything
func TestExecuteToolCall_SettingsChangeTakesEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome := f.orch.ExecuteToolCall(ctx, request("list_events", nil))
	_, ok := outcome.(Success)
	require.True(t, ok)

	mode := autonomy.ModeAlwaysApprove
	_, err := f.settings.Update(ctx, "user-1", autonomy.Patch{DefaultMode: &mode})
	require.NoError(t, err)

	outcome = f.orch.ExecuteToolCall(ctx, request("list_events", nil))
	_, ok = outcome.(PendingApproval)
	assert.True(t, ok)
}

// TestExecuteToolCall_OneAuditEventPerCall tests the one-event invariant
// across branches
func TestExecuteToolCall_OneAuditEventPerCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	calls := []ExecutionRequest{
		request("teleport", nil),
		request("send_email", map[string]interface{}{"to": "a@b.c"}),
		request("list_events", nil),
		request("send_email", map[string]interface{}{"to": "a@b.c", "subject": "hi"}),
		request("broken_tool", nil),
	}

	for i, req := range calls {
		f.orch.ExecuteToolCall(ctx, req)
		assert.Len(t, f.sink.Events(), i+1, "call %d", i)
	}
}
