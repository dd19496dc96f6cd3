package control

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sweeney/heater-dashboard/internal/docstore"
	"github.com/sweeney/heater-dashboard/internal/topics"
)

// Accepted set-point range, °C.
const (
	MinTemperature = 5.0
	MaxTemperature = 50.0
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Rule is one half-day schedule entry.
type Rule struct {
	Enabled     bool    `json:"enabled"`
	Time        string  `json:"time"`
	Temperature float64 `json:"temperature"`
}

// Schedule holds the morning and evening rules.
type Schedule struct {
	AM Rule `json:"am"`
	PM Rule `json:"pm"`
}

// ValidationError rejects user input before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks both rules. Disabled rules are validated too, since the
// device stores them for later.
func (s Schedule) Validate() error {
	for _, p := range []struct {
		name string
		rule Rule
	}{{topics.PeriodAM, s.AM}, {topics.PeriodPM, s.PM}} {
		if !clockPattern.MatchString(p.rule.Time) {
			return &ValidationError{Field: p.name + "Time", Reason: fmt.Sprintf("%q is not HH:MM (24-hour)", p.rule.Time)}
		}
		if err := ValidateTemperature(p.name+"Temperature", p.rule.Temperature); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTemperature checks v lies in [MinTemperature, MaxTemperature].
func ValidateTemperature(field string, v float64) error {
	if !(v >= MinTemperature && v <= MaxTemperature) {
		return &ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("%v °C outside [%v, %v]", v, MinTemperature, MaxTemperature),
		}
	}
	return nil
}

// Rule returns the rule for a period.
func (s Schedule) Rule(period string) Rule {
	if period == topics.PeriodPM {
		return s.PM
	}
	return s.AM
}

// Document encodes the schedule for the control/schedule path.
func (s Schedule) Document(now time.Time) docstore.Document {
	return docstore.Document{
		"am_enabled":     s.AM.Enabled,
		"am_time":        s.AM.Time,
		"am_temperature": s.AM.Temperature,
		"pm_enabled":     s.PM.Enabled,
		"pm_time":        s.PM.Time,
		"pm_temperature": s.PM.Temperature,
		"updated_at":     now.Unix(),
	}
}

// ScheduleFromDocument decodes a control/schedule document. Both the snake_case
// layout and the older camelCase one (amScheduledTime) are accepted. ok is
// false when neither rule carries a time.
func ScheduleFromDocument(doc docstore.Document) (Schedule, bool) {
	var s Schedule
	am, amOK := ruleFromDocument(doc, topics.PeriodAM)
	pm, pmOK := ruleFromDocument(doc, topics.PeriodPM)
	if !amOK && !pmOK {
		return s, false
	}
	s.AM, s.PM = am, pm
	return s, true
}

func ruleFromDocument(doc docstore.Document, period string) (Rule, bool) {
	var r Rule
	t, ok := doc.String(period + "_time")
	if !ok {
		t, ok = doc.String(period + "ScheduledTime")
	}
	if !ok {
		return r, false
	}
	r.Time = t
	if b, ok := doc.Bool(period + "_enabled"); ok {
		r.Enabled = b
	} else if b, ok := doc.Bool(period + "Enabled"); ok {
		r.Enabled = b
	}
	if v, ok := doc.Float(period + "_temperature"); ok {
		r.Temperature = v
	} else if v, ok := doc.Float(period + "Temperature"); ok {
		r.Temperature = v
	}
	return r, true
}

// Mode is the heater control mode: the device follows the schedule in auto and
// the set-point alone in manual.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// ParseMode accepts auto or manual, case-insensitively.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAuto:
		return ModeAuto, true
	case ModeManual:
		return ModeManual, true
	}
	return "", false
}

// ModeSettings is a control-mode change. HeaterEnabled is left as stored when nil.
type ModeSettings struct {
	Mode          Mode  `json:"mode"`
	HeaterEnabled *bool `json:"heater_enabled,omitempty"`
}

// Validate checks the mode is one the firmware understands.
func (m ModeSettings) Validate() error {
	if m.Mode != ModeAuto && m.Mode != ModeManual {
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("%q is not auto or manual", m.Mode)}
	}
	return nil
}

// ModeFromDocument reads control_mode and heater_enabled from a control/settings
// document. Either may be missing.
func ModeFromDocument(doc docstore.Document) (mode Mode, modeOK bool, enabled, enabledOK bool) {
	if s, ok := doc.String("control_mode"); ok {
		mode, modeOK = ParseMode(s)
	}
	enabled, enabledOK = doc.Bool("heater_enabled")
	return mode, modeOK, enabled, enabledOK
}
