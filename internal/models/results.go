package models

import (
	"fmt"
	"math"
)

// IobResult is the value object returned by the IOB engine. Field rounding
// and display formatting are part of the observable contract; legacy clients
// parse these exact shapes.
type IobResult struct {
	IOB          float64    `json:"iob"`
	Activity     float64    `json:"activity,omitempty"`
	BasalIOB     float64    `json:"basaliob,omitempty"`
	TreatmentIOB float64    `json:"treatmentiob,omitempty"`
	Source       Source     `json:"source,omitempty"`
	Mills        int64      `json:"mills,omitempty"`
	Device       string     `json:"device,omitempty"`
	LastBolus    *Treatment `json:"lastBolus,omitempty"`
	Display      string     `json:"display,omitempty"`
	DisplayLine  string     `json:"displayLine,omitempty"`
}

// SetDisplay fills the F2-formatted display fields from the current IOB.
func (r *IobResult) SetDisplay() {
	r.Display = fmt.Sprintf("%.2f", r.IOB)
	r.DisplayLine = fmt.Sprintf("IOB: %sU", r.Display)
}

// CobResult is the value object returned by the COB engine.
type CobResult struct {
	COB          float64    `json:"cob"`
	TreatmentCOB float64    `json:"treatmentCOB,omitempty"`
	Source       Source     `json:"source,omitempty"`
	Mills        int64      `json:"mills,omitempty"`
	Device       string     `json:"device,omitempty"`
	LastCarbs    *Treatment `json:"lastCarbs,omitempty"`
	DecayedBy    int64      `json:"decayedBy,omitempty"`
	IsDecaying   float64    `json:"isDecaying"`
	Display      string     `json:"display,omitempty"`
	DisplayLine  string     `json:"displayLine,omitempty"`
}

// SetDisplay fills the display fields when there are carbs on board. The
// one-decimal rounding (round(cob*10)/10) is contractual.
func (r *CobResult) SetDisplay() {
	if r.COB <= 0 {
		return
	}
	value := math.Round(r.COB*10) / 10
	r.Display = fmt.Sprintf("%g", value)
	r.DisplayLine = fmt.Sprintf("COB: %sg", r.Display)
}

// TempBasalResult describes the effective basal rate at an instant: the
// scheduled rate, the temp-basal rate in force (equal to scheduled when no
// temp is active), the combo bolus relative contribution, and their total.
type TempBasalResult struct {
	Scheduled  float64 `json:"basal"`
	Temp       float64 `json:"tempbasal"`
	ComboBasal float64 `json:"combobolusbasal,omitempty"`
	Total      float64 `json:"totalbasal"`
}
