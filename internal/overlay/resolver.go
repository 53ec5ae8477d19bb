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

// Package overlay resolves which overriding treatment (profile switch, temp
// basal, combo bolus) is in force at a given instant.
package overlay

import (
	"sort"

	"github.com/your-org/nightscout-core/internal/models"
)

// Resolver holds the split, sorted override-treatment lists for one
// computation request. A fresh batch replaces prior batches wholesale via
// UpdateTreatments.
type Resolver struct {
	tempBasals      []models.Treatment
	comboBoluses    []models.Treatment
	profileSwitches []models.Treatment
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// UpdateTreatments replaces the resolver's state with a fresh treatment
// batch. Treatments are split by event type, sorted ascending by timestamp,
// temp basals are deduplicated by timestamp (keep-first), and end times are
// precomputed from duration.
func (r *Resolver) UpdateTreatments(treatments []models.Treatment) {
	r.tempBasals = r.tempBasals[:0]
	r.comboBoluses = r.comboBoluses[:0]
	r.profileSwitches = r.profileSwitches[:0]

	for _, t := range treatments {
		t.EndMills = t.Mills + int64(t.Duration*60000)
		switch {
		case t.IsTempBasal():
			r.tempBasals = append(r.tempBasals, t)
		case t.IsComboBolus():
			r.comboBoluses = append(r.comboBoluses, t)
		case t.IsProfileSwitch():
			r.profileSwitches = append(r.profileSwitches, t)
		}
	}

	sort.SliceStable(r.tempBasals, func(i, j int) bool {
		return r.tempBasals[i].Mills < r.tempBasals[j].Mills
	})
	sort.SliceStable(r.comboBoluses, func(i, j int) bool {
		return r.comboBoluses[i].Mills < r.comboBoluses[j].Mills
	})
	sort.SliceStable(r.profileSwitches, func(i, j int) bool {
		return r.profileSwitches[i].Mills < r.profileSwitches[j].Mills
	})

	r.tempBasals = dedupeByMills(r.tempBasals)
}

// dedupeByMills drops entries sharing a timestamp with an earlier entry.
func dedupeByMills(list []models.Treatment) []models.Treatment {
	if len(list) < 2 {
		return list
	}
	out := list[:1]
	for _, t := range list[1:] {
		if t.Mills != out[len(out)-1].Mills {
			out = append(out, t)
		}
	}
	return out
}

// ActiveTempBasal returns the temp basal whose [start, end) window contains
// mills, or nil. Binary search over the sorted list.
func (r *Resolver) ActiveTempBasal(mills int64) *models.Treatment {
	idx := sort.Search(len(r.tempBasals), func(i int) bool {
		return r.tempBasals[i].Mills > mills
	})
	if idx == 0 {
		return nil
	}
	candidate := &r.tempBasals[idx-1]
	if mills < candidate.EndMills {
		return candidate
	}
	return nil
}

// ActiveComboBolus returns the combo bolus whose window contains mills, or
// nil. The list is expected to be short, so a linear scan is fine.
func (r *Resolver) ActiveComboBolus(mills int64) *models.Treatment {
	for i := len(r.comboBoluses) - 1; i >= 0; i-- {
		c := &r.comboBoluses[i]
		if c.Mills <= mills && mills < c.EndMills {
			return c
		}
	}
	return nil
}

// ActiveProfileSwitch returns the most recent profile switch at mills that
// started at or after notBefore. Switches with a duration only apply while
// the window is open; zero-duration switches apply indefinitely.
func (r *Resolver) ActiveProfileSwitch(mills, notBefore int64) *models.Treatment {
	for i := len(r.profileSwitches) - 1; i >= 0; i-- {
		s := &r.profileSwitches[i]
		if s.Mills > mills || s.Mills < notBefore {
			continue
		}
		if s.Duration != 0 && mills >= s.EndMills {
			continue
		}
		return s
	}
	return nil
}

// TempBasalRate resolves the effective rate of a temp basal treatment given
// the scheduled rate. Priority: explicit absolute rate, percent of scheduled,
// raw amount field, insulin units spread over the duration.
func TempBasalRate(t *models.Treatment, scheduled float64) float64 {
	switch {
	case t == nil:
		return scheduled
	case t.Absolute != nil:
		return *t.Absolute
	case t.Percent != 0:
		return scheduled * (100 + t.Percent) / 100
	case t.Amount != 0:
		return t.Amount
	case t.Insulin != 0 && t.Duration > 0:
		return t.Insulin / (t.Duration / 60)
	default:
		return scheduled
	}
}
