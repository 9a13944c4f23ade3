package autonomy

import (
	"fmt"
	"strings"
	"time"

	"github.com/stewardhq/steward/pkg/catalog"
)

// Mode governs whether a tool call needs human sign-off
type Mode string

const (
	ModeAlwaysApprove  Mode = "always_approve"
	ModeHighRiskOnly   Mode = "high_risk_only"
	ModeTrustConfident Mode = "trust_confident"
	ModeFullAutonomy   Mode = "full_autonomy"
)

// AllModes returns all valid approval modes
func AllModes() []Mode {
	return []Mode{ModeAlwaysApprove, ModeHighRiskOnly, ModeTrustConfident, ModeFullAutonomy}
}

// IsValidMode checks if a mode is valid
func IsValidMode(mode string) bool {
	m := Mode(strings.ToLower(mode))
	for _, valid := range AllModes() {
		if m == valid {
			return true
		}
	}
	return false
}

// Override is a per-category approval mode with an optional confidence
// threshold that replaces the global one for trust_confident evaluation
type Override struct {
	Mode                Mode     `json:"mode" validate:"required,approval_mode"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ToolOverride is a per-tool approval mode. A disabled tool always requires
// approval regardless of every other rule.
type ToolOverride struct {
	Mode                Mode     `json:"mode,omitempty" validate:"required_unless=Disabled true,omitempty,approval_mode"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	Disabled            bool     `json:"disabled,omitempty"`
}

// QuietHours defines a recurring daily window during which a forced approval
// mode applies. Start > End means the window spans midnight.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start,omitempty" validate:"required_if=Enabled true,omitempty,clock"`
	End      string `json:"end,omitempty" validate:"required_if=Enabled true,omitempty,clock"`
	Timezone string `json:"timezone,omitempty" validate:"required_if=Enabled true,omitempty,timezone"`
	Mode     Mode   `json:"mode,omitempty" validate:"required_if=Enabled true,omitempty,approval_mode"`
}

// InWindow reports whether t falls inside the quiet-hours window, using the
// configured timezone. Malformed values never reach this point; they are
// rejected at the settings-update boundary.
func (q QuietHours) InWindow(t time.Time) bool {
	if !q.Enabled {
		return false
	}

	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return false
	}

	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}

	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start <= end {
		return minute >= start && minute < end
	}
	// Window spans midnight, e.g. 22:00-08:00
	return minute >= start || minute < end
}

// parseClock parses an "HH:MM" clock string into minutes since midnight
func parseClock(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("invalid clock string %q: %w", s, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid clock string %q", s)
	}
	return hh*60 + mm, nil
}

// Settings is the full per-user autonomy policy configuration consumed by
// Resolve. Read fresh on every resolution; never cached across requests.
type Settings struct {
	DefaultMode         Mode                           `json:"default_approval_mode" validate:"required,approval_mode"`
	ConfidenceThreshold float64                        `json:"confidence_threshold" validate:"gte=0,lte=1"`
	HighRiskOverride    bool                           `json:"high_risk_override"`
	CategorySettings    map[catalog.Category]Override  `json:"category_settings,omitempty" validate:"dive"`
	ToolOverrides       map[string]ToolOverride        `json:"tool_overrides,omitempty" validate:"dive"`
	QuietHours          QuietHours                     `json:"quiet_hours"`
	NotifyOnAutoExecute bool                           `json:"notify_on_auto_execute"`
}

// Clone returns a deep copy of the settings
func (s *Settings) Clone() *Settings {
	out := *s

	if s.CategorySettings != nil {
		out.CategorySettings = make(map[catalog.Category]Override, len(s.CategorySettings))
		for k, v := range s.CategorySettings {
			out.CategorySettings[k] = v
		}
	}
	if s.ToolOverrides != nil {
		out.ToolOverrides = make(map[string]ToolOverride, len(s.ToolOverrides))
		for k, v := range s.ToolOverrides {
			out.ToolOverrides[k] = v
		}
	}

	return &out
}

// Preset names
const (
	PresetDefault      = "default"
	PresetConservative = "conservative"
	PresetPermissive   = "permissive"
)

// DefaultSettings returns the settings created for a user on first use
func DefaultSettings() *Settings {
	return &Settings{
		DefaultMode:         ModeHighRiskOnly,
		ConfidenceThreshold: 0.8,
		HighRiskOverride:    true,
		QuietHours: QuietHours{
			Enabled: false,
		},
		NotifyOnAutoExecute: true,
	}
}

// Preset returns a named settings preset
func Preset(name string) (*Settings, error) {
	switch name {
	case PresetDefault, "":
		return DefaultSettings(), nil
	case PresetConservative:
		return &Settings{
			DefaultMode:         ModeAlwaysApprove,
			ConfidenceThreshold: 0.9,
			HighRiskOverride:    true,
			NotifyOnAutoExecute: true,
		}, nil
	case PresetPermissive:
		return &Settings{
			DefaultMode:         ModeFullAutonomy,
			ConfidenceThreshold: 0.6,
			HighRiskOverride:    true,
			NotifyOnAutoExecute: false,
		}, nil
	default:
		return nil, fmt.Errorf("unknown preset: %s", name)
	}
}

// Section identifies a resettable slice of the settings
type Section string

const (
	SectionAll        Section = ""
	SectionCategories Section = "category_settings"
	SectionTools      Section = "tool_overrides"
	SectionQuietHours Section = "quiet_hours"
)

// IsValidSection checks if a section identifier is valid
func IsValidSection(section Section) bool {
	switch section {
	case SectionAll, SectionCategories, SectionTools, SectionQuietHours:
		return true
	}
	return false
}

// ResetSection returns a copy of s with the given section replaced by the
// preset's value. SectionAll replaces the settings wholesale.
func ResetSection(s *Settings, preset *Settings, section Section) (*Settings, error) {
	if !IsValidSection(section) {
		return nil, fmt.Errorf("unknown settings section: %s", section)
	}

	if section == SectionAll {
		return preset.Clone(), nil
	}

	out := s.Clone()
	switch section {
	case SectionCategories:
		out.CategorySettings = nil
		if preset.CategorySettings != nil {
			out.CategorySettings = preset.Clone().CategorySettings
		}
	case SectionTools:
		out.ToolOverrides = nil
		if preset.ToolOverrides != nil {
			out.ToolOverrides = preset.Clone().ToolOverrides
		}
	case SectionQuietHours:
		out.QuietHours = preset.QuietHours
	}

	return out, nil
}

// Patch is a partial settings update. Nil fields are left untouched. A nil
// map value removes that category or tool entry.
type Patch struct {
	DefaultMode         *Mode                           `json:"default_approval_mode,omitempty"`
	ConfidenceThreshold *float64                        `json:"confidence_threshold,omitempty"`
	HighRiskOverride    *bool                           `json:"high_risk_override,omitempty"`
	CategorySettings    map[catalog.Category]*Override  `json:"category_settings,omitempty"`
	ToolOverrides       map[string]*ToolOverride        `json:"tool_overrides,omitempty"`
	QuietHours          *QuietHours                     `json:"quiet_hours,omitempty"`
	NotifyOnAutoExecute *bool                           `json:"notify_on_auto_execute,omitempty"`
}

// Apply merges the patch into a copy of s and returns the merged result.
// The caller must re-validate the merged settings before persisting.
func (p Patch) Apply(s *Settings) *Settings {
	out := s.Clone()

	if p.DefaultMode != nil {
		out.DefaultMode = *p.DefaultMode
	}
	if p.ConfidenceThreshold != nil {
		out.ConfidenceThreshold = *p.ConfidenceThreshold
	}
	if p.HighRiskOverride != nil {
		out.HighRiskOverride = *p.HighRiskOverride
	}
	if p.NotifyOnAutoExecute != nil {
		out.NotifyOnAutoExecute = *p.NotifyOnAutoExecute
	}
	if p.QuietHours != nil {
		out.QuietHours = *p.QuietHours
	}

	for category, override := range p.CategorySettings {
		if override == nil {
			delete(out.CategorySettings, category)
			continue
		}
		if out.CategorySettings == nil {
			out.CategorySettings = make(map[catalog.Category]Override)
		}
		out.CategorySettings[category] = *override
	}

	for tool, override := range p.ToolOverrides {
		if override == nil {
			delete(out.ToolOverrides, tool)
			continue
		}
		if out.ToolOverrides == nil {
			out.ToolOverrides = make(map[string]ToolOverride)
		}
		out.ToolOverrides[tool] = *override
	}

	return out
}
