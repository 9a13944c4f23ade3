package orchestrator

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// FormattedResult is the conversational rendering of an outcome
type FormattedResult struct {
	Success            bool                   `json:"success"`
	Summary            string                 `json:"summary"`
	UserNotification   string                 `json:"user_notification,omitempty"`
	SuggestedFollowUps []string               `json:"suggested_follow_ups,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// FormatResult turns an outcome into user-facing text. It is stateless and
// touches nothing but its arguments, so any surface (chat loop, HTTP handler,
// scheduled job) can call it.
func FormatResult(outcome Outcome, toolName string) FormattedResult {
	switch out := outcome.(type) {
	case Success:
		return formatSuccess(out, toolName)
	case PendingApproval:
		return formatPending(out)
	case Failure:
		return formatFailure(out, toolName)
	default:
		return FormattedResult{
			Success: false,
			Summary: fmt.Sprintf("Something unexpected happened while running %s.", humanize(toolName)),
		}
	}
}

func formatSuccess(out Success, toolName string) FormattedResult {
	f := FormattedResult{
		Success: true,
		Metadata: map[string]interface{}{
			"audit_log_id": out.AuditLogID,
			"duration_ms":  out.Duration.Milliseconds(),
		},
	}

	if isEmptyResult(out.Result) {
		// "no events found", never "0 items"
		f.Summary = fmt.Sprintf("No results found for %s.", humanize(toolName))
	} else {
		f.Summary = fmt.Sprintf("Done: %s completed.", humanize(toolName))
		f.Metadata["result"] = out.Result
	}

	if out.ShouldNotify {
		f.UserNotification = fmt.Sprintf("I ran %s automatically on your behalf.", humanize(toolName))
	}

	return f
}

func formatPending(out PendingApproval) FormattedResult {
	return FormattedResult{
		Success: false,
		Summary: fmt.Sprintf(
			"%s (%s risk) needs your approval before I run it: %s. Approval %s expires at %s.",
			humanize(out.Summary.ToolName),
			out.Summary.RiskLevel,
			out.Summary.Reasoning,
			out.ApprovalID,
			out.ExpiresAt.Format(time.RFC3339),
		),
		UserNotification: fmt.Sprintf("Approval needed for %s.", humanize(out.Summary.ToolName)),
		SuggestedFollowUps: []string{
			"Approve this request",
			"Reject this request",
		},
		Metadata: map[string]interface{}{
			"approval_id":  out.ApprovalID,
			"expires_at":   out.ExpiresAt,
			"risk_level":   string(out.Summary.RiskLevel),
			"audit_log_id": out.AuditLogID,
		},
	}
}

func formatFailure(out Failure, toolName string) FormattedResult {
	f := FormattedResult{
		Success: false,
		Metadata: map[string]interface{}{
			"error_code":   string(out.Code),
			"retryable":    out.Retryable,
			"audit_log_id": out.AuditLogID,
		},
	}

	switch out.Code {
	case CodeToolNotFound:
		f.Summary = fmt.Sprintf("I don't know how to do %s.", humanize(toolName))
		f.SuggestedFollowUps = []string{"Try rephrasing your request"}

	case CodeValidationFailed:
		f.Summary = fmt.Sprintf("Some details for %s were missing or invalid.", humanize(toolName))
		f.SuggestedFollowUps = []string{"Provide the missing details and try again"}
		if fields, ok := out.Details["field_errors"]; ok {
			f.Metadata["field_errors"] = fields
		}

	case CodeIntegrationMissing:
		f.Summary = fmt.Sprintf("%s needs an integration that isn't connected yet.", humanize(toolName))
		if guidance, ok := out.Details["guidance"].([]string); ok && len(guidance) > 0 {
			f.SuggestedFollowUps = guidance
		} else if missing, ok := out.Details["missing_integrations"].([]string); ok {
			for _, id := range missing {
				f.SuggestedFollowUps = append(f.SuggestedFollowUps, fmt.Sprintf("Connect your %s integration", id))
			}
		} else {
			f.SuggestedFollowUps = []string{"Connect the required integration in settings"}
		}

	case CodeApprovalExpired:
		f.Summary = "That approval request has expired."
		f.SuggestedFollowUps = []string{"Ask me again to retry the action"}

	case CodeApprovalAlreadyDecided:
		f.Summary = "That approval request was already decided."

	default:
		f.Summary = fmt.Sprintf("%s didn't go through.", humanize(toolName))
		if out.Retryable {
			f.SuggestedFollowUps = []string{"Try again in a moment"}
		}
	}

	return f
}

// isEmptyResult reports whether a successful result carries nothing to show
func isEmptyResult(result interface{}) bool {
	if result == nil {
		return true
	}

	v := reflect.ValueOf(result)
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return v.Len() == 0
	case reflect.Ptr:
		return v.IsNil()
	}

	return false
}

// humanize turns a tool name like "calendar_list_events" into readable text
func humanize(toolName string) string {
	if toolName == "" {
		return "that action"
	}
	return strings.ReplaceAll(toolName, "_", " ")
}
