// Package models contains the Nightscout-compatible data structures shared by
// the computation engines.
package models

import "time"

// Nightscout event types the engines care about.
const (
	EventTempBasal     = "Temp Basal"
	EventProfileSwitch = "Profile Switch"
	EventComboBolus    = "Combo Bolus"
)

// Treatment represents a single care-portal treatment document (bolus, carb
// entry, temp basal, combo bolus or profile switch).
type Treatment struct {
	ID        string  `json:"_id,omitempty"`
	EventType string  `json:"eventType,omitempty"`
	Mills     int64   `json:"mills"`
	Carbs     float64 `json:"carbs,omitempty"`
	Insulin   float64 `json:"insulin,omitempty"`
	Duration  float64 `json:"duration,omitempty"` // minutes
	Notes     string  `json:"notes,omitempty"`
	EnteredBy string  `json:"enteredBy,omitempty"`

	// Meal composition, used by the COB absorption heuristics.
	Fat            float64 `json:"fat,omitempty"`
	Protein        float64 `json:"protein,omitempty"`
	AbsorptionTime float64 `json:"absorptionTime,omitempty"` // minutes, per-treatment override

	// Temp basal fields. Absolute is a pointer because a zero temp (0 U/h)
	// is meaningful and must be distinguishable from "not set".
	Absolute *float64 `json:"absolute,omitempty"`
	Percent  float64  `json:"percent,omitempty"`
	Amount   float64  `json:"amount,omitempty"`

	// Combo bolus relative basal contribution (U/h).
	Relative float64 `json:"relative,omitempty"`

	// Profile switch fields.
	Profile                    string  `json:"profile,omitempty"`
	ProfileJSON                string  `json:"profileJson,omitempty"`
	CircadianPercentageProfile bool    `json:"CircadianPercentageProfile,omitempty"`
	Percentage                 float64 `json:"percentage,omitempty"`
	Timeshift                  float64 `json:"timeshift,omitempty"` // hours

	// EndMills is derived on load: Mills + Duration minutes.
	EndMills int64 `json:"-"`
}

// Time returns the treatment time.
func (t *Treatment) Time() time.Time {
	return time.UnixMilli(t.Mills)
}

// End returns the end of the treatment's duration window in epoch millis.
func (t *Treatment) End() int64 {
	if t.EndMills != 0 {
		return t.EndMills
	}
	return t.Mills + int64(t.Duration*60000)
}

// HasInsulin returns true if this treatment includes insulin.
func (t *Treatment) HasInsulin() bool {
	return t.Insulin > 0
}

// HasCarbs returns true if this treatment includes carbohydrates.
func (t *Treatment) HasCarbs() bool {
	return t.Carbs > 0
}

// IsTempBasal returns true for temp basal treatments.
func (t *Treatment) IsTempBasal() bool {
	return t.EventType == EventTempBasal
}

// IsProfileSwitch returns true for profile switch treatments.
func (t *Treatment) IsProfileSwitch() bool {
	return t.EventType == EventProfileSwitch
}

// IsComboBolus returns true for combo bolus treatments.
func (t *Treatment) IsComboBolus() bool {
	return t.EventType == EventComboBolus
}
