// Copyright (c) 2025 Nightscout-Core
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package iob computes insulin-on-board from device-reported statuses and
// from the treatment history, merging both with a defined precedence.
package iob

import (
	"math"

	"github.com/your-org/nightscout-core/internal/models"
	"github.com/your-org/nightscout-core/internal/overlay"
	"github.com/your-org/nightscout-core/internal/profile"
)

// Device-status entries are considered only inside this window around the
// query time.
const (
	statusLookbackMillis  = 30 * 60000
	statusLookaheadMillis = 5 * 60000
)

// Bolus activity curve constants. These are legacy-derived and clinical
// output depends on them verbatim; do not simplify.
const (
	peakMinutes   = 75.0
	cutoffMinutes = 180.0
)

// roundEpsilon reproduces the legacy floating-point nudge applied before the
// 3-decimal rounding of every IOB-like field.
const roundEpsilon = 1e-8

// Calculator computes IOB values against a profile store.
type Calculator struct {
	profile *profile.Store
}

// NewCalculator returns a Calculator reading therapy parameters from store.
func NewCalculator(store *profile.Store) *Calculator {
	return &Calculator{profile: store}
}

// CalculateTotal produces the merged IOB at mills: the freshest qualifying
// device-reported value takes precedence, with the treatment-derived IOB
// attached as a secondary amount and its basal component added in. With no
// device source the treatment result is returned wholesale.
func (c *Calculator) CalculateTotal(treatments []models.Treatment, statuses []models.DeviceStatus, mills int64, profileOverride string) models.IobResult {
	fromTreatments := c.FromTreatments(treatments, mills, profileOverride)

	result := fromTreatments
	if device := c.LastIOBDeviceStatus(statuses, mills); device != nil {
		result = *device
		if fromTreatments.IOB > 0 {
			result.TreatmentIOB = fromTreatments.IOB
		}
		result.BasalIOB += fromTreatments.BasalIOB
		result.LastBolus = fromTreatments.LastBolus
	}

	result.IOB = RoundTo3(result.IOB)
	if result.BasalIOB != 0 {
		result.BasalIOB = RoundTo3(result.BasalIOB)
	}
	if result.TreatmentIOB != 0 {
		result.TreatmentIOB = RoundTo3(result.TreatmentIOB)
	}
	result.SetDisplay()
	return result
}

// LastIOBDeviceStatus picks the device-reported IOB for mills: statuses
// within [mills-30min, mills+5min], Loop entries taking absolute priority,
// most recent upload winning within that rule. Returns nil when no status
// qualifies.
func (c *Calculator) LastIOBDeviceStatus(statuses []models.DeviceStatus, mills int64) *models.IobResult {
	var best *models.IobResult
	var bestMills int64
	var bestIsLoop bool

	for i := range statuses {
		ds := &statuses[i]
		if ds.Mills < mills-statusLookbackMillis || ds.Mills > mills+statusLookaheadMillis {
			continue
		}
		candidate := FromDeviceStatus(ds)
		if candidate == nil {
			continue
		}
		isLoop := candidate.Source == models.SourceLoop
		switch {
		case best == nil:
		case isLoop && !bestIsLoop:
		case isLoop == bestIsLoop && ds.Mills > bestMills:
		default:
			continue
		}
		best = candidate
		bestMills = ds.Mills
		bestIsLoop = isLoop
	}
	return best
}

// FromDeviceStatus extracts the IOB reported by a single status document,
// probing payloads in priority order Loop > OpenAPS > Pump. Returns nil when
// the document carries no IOB.
func FromDeviceStatus(ds *models.DeviceStatus) *models.IobResult {
	if ds.Loop != nil && ds.Loop.IOB != nil {
		return &models.IobResult{
			IOB:    ds.Loop.IOB.IOB,
			Mills:  ds.Loop.IOB.Millis(ds.Mills),
			Source: models.SourceLoop,
			Device: ds.Device,
		}
	}
	if ds.OpenAPS != nil && ds.OpenAPS.IOB != nil {
		st := ds.OpenAPS.IOB
		return &models.IobResult{
			IOB:      st.IOB,
			BasalIOB: st.BasalIOB,
			Activity: st.Activity,
			Mills:    st.Millis(ds.Mills),
			Source:   models.SourceOpenAPS,
			Device:   ds.Device,
		}
	}
	if ds.Pump != nil && ds.Pump.IOB != nil {
		st := ds.Pump.IOB
		amount := st.IOB
		if amount == 0 {
			amount = st.BolusIOB
		}
		source := models.SourcePump
		if ds.Connect != nil {
			source = models.SourceMMConnect
		}
		return &models.IobResult{
			IOB:    amount,
			Mills:  st.Millis(ds.Mills),
			Source: source,
			Device: ds.Device,
		}
	}
	return nil
}

// FromTreatments derives IOB purely from the treatment history: bolus decay
// via the bi-exponential activity curve plus net temp-basal decay. The input
// list is read as passed and must already be sorted ascending; unlike the COB
// engine there is no defensive sort here.
func (c *Calculator) FromTreatments(treatments []models.Treatment, mills int64, profileOverride string) models.IobResult {
	result := models.IobResult{Source: models.SourceTreatments}
	var lastBolus *models.Treatment

	for i := range treatments {
		t := &treatments[i]
		if t.Mills > mills {
			continue
		}
		if t.Insulin > 0 {
			iobContrib, activityContrib := c.CalcTreatment(t, mills, profileOverride)
			if iobContrib > 0 && (lastBolus == nil || t.Mills > lastBolus.Mills) {
				lastBolus = t
			}
			result.IOB += iobContrib
			result.Activity += activityContrib
		}
		if t.IsTempBasal() {
			result.BasalIOB += c.CalcBasalTreatment(t, mills, profileOverride)
		}
	}

	if lastBolus != nil {
		lb := *lastBolus
		result.LastBolus = &lb
	}
	return result
}

// CalcTreatment evaluates one bolus on the bi-exponential activity curve at
// mills, returning the remaining IOB and the current activity.
//
// The curve is time-scaled by 3.0/dia with a fixed 75-minute peak and a
// 180-scaled-minute cutoff.
func (c *Calculator) CalcTreatment(t *models.Treatment, mills int64, profileOverride string) (iobContrib, activityContrib float64) {
	dia := c.profile.GetDIA(mills, profileOverride)
	if dia <= 0 {
		dia = profile.DefaultDIA
	}
	sens := c.profile.GetSensitivity(mills, profileOverride)

	scaleFactor := 3.0 / dia
	minutesAgo := scaleFactor * float64(mills-t.Mills) / 60000

	if minutesAgo < peakMinutes {
		x1 := minutesAgo/5 + 1
		iobFraction := 1 - 0.001852*x1*x1 + 0.001852*x1
		iobContrib = t.Insulin * math.Max(0, iobFraction)
		activityContrib = sens * t.Insulin * (2 / dia / 60 / peakMinutes) * minutesAgo
	} else if minutesAgo < cutoffMinutes {
		x2 := (minutesAgo - peakMinutes) / 5
		iobFraction := 0.001323*x2*x2 - 0.054233*x2 + 0.55556
		iobContrib = t.Insulin * math.Max(0, iobFraction)
		activityContrib = sens * t.Insulin * (2/dia/60 - (minutesAgo-peakMinutes)*2/dia/60/(cutoffMinutes-peakMinutes))
	}
	return iobContrib, activityContrib
}

// CalcBasalTreatment returns the remaining IOB from the above-schedule part
// of a temp basal: insulin delivered so far decayed linearly over the DIA
// window.
func (c *Calculator) CalcBasalTreatment(t *models.Treatment, mills int64, profileOverride string) float64 {
	dia := c.profile.GetDIA(mills, profileOverride)
	if dia <= 0 {
		dia = profile.DefaultDIA
	}

	scheduled := c.profile.GetBasalRate(t.Mills, profileOverride)
	rate := overlay.TempBasalRate(t, scheduled)
	netRate := math.Max(0, rate-scheduled)
	if netRate == 0 {
		return 0
	}

	minutesAgo := float64(mills-t.Mills) / 60000
	elapsed := math.Min(minutesAgo, t.Duration)
	if elapsed <= 0 {
		return 0
	}

	delivered := netRate * elapsed / 60
	decay := math.Max(0, 1-minutesAgo/(dia*60))
	return delivered * decay
}

// RoundTo3 rounds an IOB-like value to three decimals after the legacy
// epsilon nudge.
func RoundTo3(value float64) float64 {
	return math.Round((value+roundEpsilon)*1000) / 1000
}
