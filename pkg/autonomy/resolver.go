package autonomy

import (
	"fmt"
	"time"

	"github.com/stewardhq/steward/pkg/catalog"
)

// DeterminedBy identifies which rule produced an approval decision
type DeterminedBy string

const (
	DeterminedByTool          DeterminedBy = "tool"
	DeterminedByCategory      DeterminedBy = "category"
	DeterminedByQuietHours    DeterminedBy = "quiet_hours"
	DeterminedByDefault       DeterminedBy = "default"
	DeterminedByLowConfidence DeterminedBy = "low_confidence"
	DeterminedByHighRisk      DeterminedBy = "high_risk"
)

// Decision is the outcome of autonomy resolution for a single tool call
type Decision struct {
	Required           bool         `json:"required"`
	EffectiveMode      Mode         `json:"effective_mode"`
	EffectiveThreshold float64      `json:"effective_threshold"`
	DeterminedBy       DeterminedBy `json:"determined_by"`
	Reason             string       `json:"reason"`
	ShouldNotify       bool         `json:"should_notify"`
}

// resolveInput carries everything a resolution rule may consult
type resolveInput struct {
	settings   *Settings
	toolName   string
	category   catalog.Category
	risk       catalog.RiskLevel
	confidence float64
	now        time.Time
}

// rule inspects the input and either produces a decision or passes
type rule func(in resolveInput) (Decision, bool)

// precedence is the resolution order: first match wins. Keeping it as an
// explicit ordered list makes the precedence itself a testable value.
var precedence = []rule{
	disabledToolRule,
	toolOverrideRule,
	quietHoursRule,
	categoryRule,
	defaultRule,
}

// Resolve is a pure decision function: given a user's autonomy settings, a
// tool's category and risk level, and the upstream classifier's confidence,
// it returns the approval decision and the rule that produced it. It never
// fails and performs no I/O.
func Resolve(settings *Settings, toolName string, category catalog.Category, risk catalog.RiskLevel, confidence float64, now time.Time) Decision {
	in := resolveInput{
		settings:   settings,
		toolName:   toolName,
		category:   category,
		risk:       risk,
		confidence: confidence,
		now:        now,
	}

	var decision Decision
	for _, r := range precedence {
		if d, ok := r(in); ok {
			decision = d
			break
		}
	}

	if !decision.Required && settings.NotifyOnAutoExecute {
		decision.ShouldNotify = true
	}

	return decision
}

// disabledToolRule is absolute: a disabled tool always requires approval and
// bypasses every other rule, including overrides on the same entry.
func disabledToolRule(in resolveInput) (Decision, bool) {
	override, ok := in.settings.ToolOverrides[in.toolName]
	if !ok || !override.Disabled {
		return Decision{}, false
	}

	return Decision{
		Required:           true,
		EffectiveMode:      ModeAlwaysApprove,
		EffectiveThreshold: in.settings.ConfidenceThreshold,
		DeterminedBy:       DeterminedByTool,
		Reason:             fmt.Sprintf("tool %q is disabled", in.toolName),
	}, true
}

func toolOverrideRule(in resolveInput) (Decision, bool) {
	override, ok := in.settings.ToolOverrides[in.toolName]
	if !ok {
		return Decision{}, false
	}

	return evaluateMode(in, override.Mode, override.ConfidenceThreshold, DeterminedByTool), true
}

func quietHoursRule(in resolveInput) (Decision, bool) {
	qh := in.settings.QuietHours
	if !qh.Enabled || !qh.InWindow(in.now) {
		return Decision{}, false
	}

	d := evaluateMode(in, qh.Mode, nil, DeterminedByQuietHours)
	d.Reason = fmt.Sprintf("quiet hours (%s-%s %s): %s", qh.Start, qh.End, qh.Timezone, d.Reason)
	d.ShouldNotify = true
	return d, true
}

func categoryRule(in resolveInput) (Decision, bool) {
	override, ok := in.settings.CategorySettings[in.category]
	if !ok {
		return Decision{}, false
	}

	return evaluateMode(in, override.Mode, override.ConfidenceThreshold, DeterminedByCategory), true
}

func defaultRule(in resolveInput) (Decision, bool) {
	return evaluateMode(in, in.settings.DefaultMode, nil, DeterminedByDefault), true
}

// evaluateMode applies the shared mode-evaluation rules for a precedence
// level. The high-risk override is a global safety net: whenever a mode
// evaluation at any level would auto-execute a high-risk action, it flips the
// decision to required.
func evaluateMode(in resolveInput, mode Mode, thresholdOverride *float64, level DeterminedBy) Decision {
	threshold := in.settings.ConfidenceThreshold
	if thresholdOverride != nil {
		threshold = *thresholdOverride
	}

	d := Decision{
		EffectiveMode:      mode,
		EffectiveThreshold: threshold,
		DeterminedBy:       level,
	}

	switch mode {
	case ModeAlwaysApprove:
		d.Required = true
		d.Reason = "mode always_approve requires approval for every action"

	case ModeHighRiskOnly:
		d.Required = in.risk == catalog.RiskHigh
		if d.Required {
			d.Reason = "high-risk action under mode high_risk_only"
		} else {
			d.Reason = fmt.Sprintf("%s-risk action auto-executes under mode high_risk_only", in.risk)
		}

	case ModeTrustConfident:
		d.Required = in.confidence < threshold
		if d.Required {
			d.DeterminedBy = DeterminedByLowConfidence
			d.Reason = fmt.Sprintf("confidence %.2f below threshold %.2f", in.confidence, threshold)
		} else {
			d.Reason = fmt.Sprintf("confidence %.2f meets threshold %.2f", in.confidence, threshold)
		}

	case ModeFullAutonomy:
		d.Required = false
		d.Reason = "mode full_autonomy auto-executes"

	default:
		// Unknown modes are rejected at the settings boundary; if one slips
		// through, fail closed.
		d.Required = true
		d.Reason = fmt.Sprintf("unknown approval mode %q, requiring approval", mode)
	}

	if !d.Required && in.settings.HighRiskOverride && in.risk == catalog.RiskHigh {
		d.Required = true
		d.DeterminedBy = DeterminedByHighRisk
		d.Reason = "high-risk action requires approval (high-risk override)"
	}

	return d
}
