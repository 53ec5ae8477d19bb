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

// Package cob computes carbs-on-board from device-reported statuses or,
// falling back, from a chronological fold over the carb treatment history.
package cob

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/your-org/nightscout-core/internal/iob"
	"github.com/your-org/nightscout-core/internal/models"
	"github.com/your-org/nightscout-core/internal/profile"
	"github.com/your-org/nightscout-core/pkg/logger"
)

// Fixed model constants; clinical output depends on them verbatim.
const (
	absorptionDelayMinutes = 20.0 // post-meal onset delay
	liverSensRatio         = 8.0  // relates insulin activity to a carb-delay correction

	// Engine-level fallback absorption rate used when no profile data is
	// loaded at all. Deliberately distinct from the profile store's own
	// 20 g/h default, which applies when records exist but lack the field.
	defaultAbsorptionRate = 30.0 // g/h
)

// Device-status gating.
const (
	statusLookbackMillis  = 30 * 60000
	statusLookaheadMillis = 5 * 60000
	freshnessMillis       = 10 * 60000
)

// Calculator computes COB values against a profile store, using the IOB
// engine for the delayed-carb liver correction.
type Calculator struct {
	profile *profile.Store
	iob     *iob.Calculator
	nowFn   func() time.Time
}

// NewCalculator returns a Calculator reading therapy parameters from store
// and insulin activity from iobCalc.
func NewCalculator(store *profile.Store, iobCalc *iob.Calculator) *Calculator {
	return &Calculator{profile: store, iob: iobCalc, nowFn: time.Now}
}

// CobTotal produces the COB at mills. A device-reported value wins only when
// it is no older than ten minutes against the wall clock; otherwise the
// treatment-derived value is returned. Invalid profile parameters
// (sensitivity or carb ratio at or below zero) downgrade to hardcoded
// defaults with a warning rather than failing.
func (c *Calculator) CobTotal(treatments []models.Treatment, statuses []models.DeviceStatus, mills int64, profileOverride string) models.CobResult {
	useDefaults := !c.profile.HasData()
	if !useDefaults {
		sens := c.profile.GetSensitivity(mills, profileOverride)
		carbRatio := c.profile.GetCarbRatio(mills, profileOverride)
		if sens <= 0 || carbRatio <= 0 {
			logger.Warnf("profile has unusable sensitivity (%v) or carb ratio (%v), computing COB with defaults", sens, carbRatio)
			useDefaults = true
		}
	}

	fromTreatments := c.FromTreatments(treatments, statuses, mills, profileOverride, useDefaults)

	result := fromTreatments
	if device := c.LastCOBDeviceStatus(statuses, mills); device != nil {
		if c.nowFn().UnixMilli()-device.Mills <= freshnessMillis {
			result = *device
			if fromTreatments.COB > 0 {
				result.TreatmentCOB = fromTreatments.COB
			}
			result.LastCarbs = fromTreatments.LastCarbs
		}
	}

	result.SetDisplay()
	return result
}

// LastCOBDeviceStatus picks the device-reported COB for mills: statuses
// within [mills-30min, mills+5min], Loop entries taking absolute priority,
// most recent upload winning within that rule. Returns nil when no status
// qualifies.
func (c *Calculator) LastCOBDeviceStatus(statuses []models.DeviceStatus, mills int64) *models.CobResult {
	var best *models.CobResult
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

// FromDeviceStatus extracts the COB reported by a single status document,
// probing payloads in priority order Loop > OpenAPS. Returns nil when the
// document carries no COB.
func FromDeviceStatus(ds *models.DeviceStatus) *models.CobResult {
	if ds.Loop != nil && ds.Loop.COB != nil {
		return &models.CobResult{
			COB:    ds.Loop.COB.COB,
			Mills:  ds.Loop.COB.Millis(ds.Mills),
			Source: models.SourceLoop,
			Device: ds.Device,
		}
	}
	if ds.OpenAPS != nil && ds.OpenAPS.COB != nil {
		return &models.CobResult{
			COB:    ds.OpenAPS.COB.COB,
			Mills:  ds.OpenAPS.COB.Millis(ds.Mills),
			Source: models.SourceOpenAPS,
			Device: ds.Device,
		}
	}
	return nil
}

// cobCalc is the per-treatment absorption computation threaded through the
// fold in FromTreatments.
type cobCalc struct {
	carbsHr    float64 // adjusted absorption rate, g/h
	decayedBy  int64   // when this treatment's carbs are fully absorbed
	isDecaying float64
}

// FromTreatments derives COB from the carb treatment history. The fold is a
// genuine sequential accumulation: each treatment's absorption start depends
// on when the previous one finished (lastDecayedBy), so the list is
// defensively sorted ascending by timestamp before processing.
func (c *Calculator) FromTreatments(treatments []models.Treatment, statuses []models.DeviceStatus, mills int64, profileOverride string, useDefaults bool) models.CobResult {
	sorted := make([]models.Treatment, len(treatments))
	copy(sorted, treatments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Mills < sorted[j].Mills
	})

	totalCOB := 0.0
	isDecaying := 0.0
	var lastDecayedBy int64
	var lastCarbs *models.Treatment

	for i := range sorted {
		t := &sorted[i]
		if !t.HasCarbs() || t.Mills >= mills {
			continue
		}
		lastCarbs = t

		calc := c.calcTreatment(t, lastDecayedBy, mills, profileOverride)

		// Delayed-carb correction: insulin activity between the previous
		// absorption end and this one converts, via the liver sensitivity
		// ratio, into extra minutes of absorption.
		actStart := c.iob.CalculateTotal(treatments, statuses, lastDecayedBy, profileOverride).Activity
		actEnd := c.iob.CalculateTotal(treatments, statuses, calc.decayedBy, profileOverride).Activity
		avgActivity := (actStart + actEnd) / 2

		sens := profile.DefaultSensitivity
		carbRatio := profile.DefaultCarbRatio
		if !useDefaults {
			sens = c.profile.GetSensitivity(t.Mills, profileOverride)
			carbRatio = c.profile.GetCarbRatio(t.Mills, profileOverride)
		}
		delayedCarbs := avgActivity * liverSensRatio / sens * carbRatio
		delayMinutes := math.Round(delayedCarbs / calc.carbsHr * 60)
		if delayMinutes > 0 {
			calc.decayedBy += int64(delayMinutes * 60000)
		}

		lastDecayedBy = calc.decayedBy

		decaysInHr := float64(calc.decayedBy-mills) / 3600000
		if decaysInHr > 0 {
			totalCOB += math.Min(t.Carbs, decaysInHr*calc.carbsHr)
			isDecaying = calc.isDecaying
		} else {
			// Legacy quirk, preserved deliberately: an expired last
			// treatment wipes COB accumulated from earlier, still-active
			// ones.
			totalCOB = 0
		}
	}

	result := models.CobResult{
		COB:        totalCOB,
		Source:     models.SourceTreatments,
		Mills:      mills,
		DecayedBy:  lastDecayedBy,
		IsDecaying: isDecaying,
	}
	if lastCarbs != nil {
		lc := *lastCarbs
		result.LastCarbs = &lc
	}
	return result
}

// calcTreatment computes when a carb treatment finishes absorbing: a fixed
// 20-minute onset delay (or the tail of the previous treatment's absorption,
// whichever is later) plus the carbs spread at the adjusted absorption rate.
func (c *Calculator) calcTreatment(t *models.Treatment, lastDecayedBy, mills int64, profileOverride string) cobCalc {
	carbsHr := c.absorptionRate(t, profileOverride)
	carbsMin := carbsHr / 60

	minutesLeft := math.Max(0, float64(lastDecayedBy-t.Mills)/60000)
	decayMinutes := math.Max(absorptionDelayMinutes, minutesLeft) + t.Carbs/carbsMin
	decayedBy := t.Mills + int64(decayMinutes*60000)

	isDecaying := 0.0
	startDecay := t.Mills + int64(absorptionDelayMinutes*60000)
	if mills < lastDecayedBy || mills > startDecay {
		isDecaying = 1.0
	}

	return cobCalc{carbsHr: carbsHr, decayedBy: decayedBy, isDecaying: isDecaying}
}

// absorptionRate resolves the carb absorption rate for a treatment:
// per-treatment absorption time override, then the profile, then the
// engine-level default, adjusted by the meal-composition heuristics.
func (c *Calculator) absorptionRate(t *models.Treatment, profileOverride string) float64 {
	rate := defaultAbsorptionRate
	if t.AbsorptionTime > 0 {
		rate = t.Carbs / (t.AbsorptionTime / 60)
	} else if c.profile.HasData() {
		rate = c.profile.GetCarbAbsorptionRate(t.Mills, profileOverride)
	}
	return ApplyAdvancedAbsorptionAdjustments(t, rate)
}

var fastCarbKeywords = []string{"glucose", "tablet", "juice", "sugar", "fast", "low"}

var slowCarbKeywords = []string{"complex", "fiber", "whole grain", "slow"}

// ApplyAdvancedAbsorptionAdjustments scales an absorption rate by the meal's
// fat content and by keyword heuristics over the treatment notes. Fat and
// note adjustments stack multiplicatively when both apply.
func ApplyAdvancedAbsorptionAdjustments(t *models.Treatment, rate float64) float64 {
	adjusted := rate
	if t.Fat > 15 {
		adjusted *= 0.6
	} else if t.Fat > 0 {
		adjusted *= 0.8
	}

	notes := strings.ToLower(t.Notes)
	if containsAny(notes, fastCarbKeywords) {
		adjusted *= 1.5
	}
	if containsAny(notes, slowCarbKeywords) {
		adjusted *= 0.7
	}
	return adjusted
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
