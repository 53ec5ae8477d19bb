package cob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/nightscout-core/internal/iob"
	"github.com/your-org/nightscout-core/internal/models"
	"github.com/your-org/nightscout-core/internal/profile"
)

const minute = int64(60000)

func newTestCalculator(records ...models.ProfileRecord) *Calculator {
	store := profile.NewStore()
	if len(records) > 0 {
		store.LoadData(records)
	}
	return NewCalculator(store, iob.NewCalculator(store))
}

func recordWithAbsorptionRate(startMills int64, carbsHr float64) models.ProfileRecord {
	return models.ProfileRecord{
		Mills:          startMills,
		DefaultProfile: "Default",
		Store: map[string]*models.ProfileSchedule{
			"Default": {
				CarbsHr:   carbsHr,
				Timezone:  "UTC",
				Basal:     []models.ScheduleEntry{{Time: "00:00", Value: 1.0}},
				Sens:      []models.ScheduleEntry{{Time: "00:00", Value: 50}},
				CarbRatio: []models.ScheduleEntry{{Time: "00:00", Value: 12}},
			},
		},
	}
}

func TestCobTotal_ZeroBeyondAbsorptionWindow(t *testing.T) {
	base := int64(1700000000000)
	c := newTestCalculator(recordWithAbsorptionRate(base-86400000, 20))
	treatments := []models.Treatment{{Mills: base, Carbs: 20}}

	// 20g at 20 g/h plus the 20-minute onset delay: fully absorbed at 80
	// minutes (no insulin, so no liver correction).
	result := c.CobTotal(treatments, nil, base+81*minute, "")
	assert.Zero(t, result.COB)
	assert.Empty(t, result.Display)

	// Still decaying before the window closes.
	mid := c.CobTotal(treatments, nil, base+70*minute, "")
	assert.InDelta(t, 10.0/60.0*20.0, mid.COB, 1e-9)
	assert.Equal(t, models.SourceTreatments, mid.Source)
}

func TestCobTotal_EngineDefaultRateWithoutProfile(t *testing.T) {
	base := int64(1700000000000)
	c := newTestCalculator()
	treatments := []models.Treatment{{Mills: base, Carbs: 20}}

	// No profile at all: the engine's own 30 g/h default applies, closing
	// the window at 20 + 40 = 60 minutes.
	assert.Zero(t, c.CobTotal(treatments, nil, base+61*minute, "").COB)

	mid := c.CobTotal(treatments, nil, base+50*minute, "")
	assert.InDelta(t, 10.0/60.0*30.0, mid.COB, 1e-9)
}

func TestCobTotal_CapsAtTreatmentCarbs(t *testing.T) {
	base := int64(1700000000000)
	c := newTestCalculator(recordWithAbsorptionRate(base-86400000, 20))
	treatments := []models.Treatment{{Mills: base, Carbs: 20}}

	// Right after eating, remaining absorption time exceeds the carbs.
	result := c.CobTotal(treatments, nil, base+5*minute, "")
	assert.InDelta(t, 20.0, result.COB, 1e-9)
}

func TestFromTreatments_SequentialCarryForward(t *testing.T) {
	base := int64(1700000000000)
	c := newTestCalculator(recordWithAbsorptionRate(base-86400000, 20))
	// Second meal lands while the first is still absorbing; its own decay
	// queues behind the first.
	treatments := []models.Treatment{
		{Mills: base, Carbs: 20},
		{Mills: base + 30*minute, Carbs: 20},
	}

	result := c.FromTreatments(treatments, nil, base+40*minute, "", false)
	// First decays by base+80min, so the second runs from there plus its
	// own 60 minutes of absorption.
	assert.Equal(t, base+140*minute, result.DecayedBy)
	assert.Greater(t, result.COB, 20.0)
	require.NotNil(t, result.LastCarbs)
	assert.Equal(t, base+30*minute, result.LastCarbs.Mills)
}

func TestFromTreatments_SortsDefensively(t *testing.T) {
	base := int64(1700000000000)
	c := newTestCalculator(recordWithAbsorptionRate(base-86400000, 20))
	ordered := []models.Treatment{
		{Mills: base, Carbs: 20},
		{Mills: base + 30*minute, Carbs: 20},
	}
	shuffled := []models.Treatment{ordered[1], ordered[0]}

	a := c.FromTreatments(ordered, nil, base+40*minute, "", false)
	b := c.FromTreatments(shuffled, nil, base+40*minute, "", false)
	assert.Equal(t, a.COB, b.COB)
	assert.Equal(t, a.DecayedBy, b.DecayedBy)
}

func TestFromTreatments_ExpiredThenActive(t *testing.T) {
	base := int64(1700000000000)
	c := newTestCalculator(recordWithAbsorptionRate(base-86400000, 20))
	treatments := []models.Treatment{
		{Mills: base - 300*minute, Carbs: 10}, // long gone
		{Mills: base, Carbs: 20},
	}

	result := c.FromTreatments(treatments, nil, base+30*minute, "", false)
	assert.InDelta(t, 50.0/60.0*20.0, result.COB, 1e-9)
}

func TestFromTreatments_IsDecayingFlag(t *testing.T) {
	base := int64(1700000000000)
	c := newTestCalculator(recordWithAbsorptionRate(base-86400000, 20))
	treatments := []models.Treatment{{Mills: base, Carbs: 20}}

	// Inside the onset delay nothing decays yet.
	early := c.FromTreatments(treatments, nil, base+10*minute, "", false)
	assert.Zero(t, early.IsDecaying)

	late := c.FromTreatments(treatments, nil, base+30*minute, "", false)
	assert.Equal(t, 1.0, late.IsDecaying)
}

func TestLiverCorrectionExtendsAbsorption(t *testing.T) {
	base := int64(1700000000000)
	c := newTestCalculator(recordWithAbsorptionRate(base-86400000, 20))
	carbsOnly := []models.Treatment{{Mills: base, Carbs: 20}}
	withBolus := []models.Treatment{
		{Mills: base, Carbs: 20},
		{Mills: base + 10*minute, Insulin: 4},
	}

	query := base + 60*minute
	plain := c.FromTreatments(carbsOnly, nil, query, "", false)
	corrected := c.FromTreatments(withBolus, nil, query, "", false)

	// Active insulin pushes decayedBy out, so more carbs remain on board.
	assert.Greater(t, corrected.DecayedBy, plain.DecayedBy)
	assert.Greater(t, corrected.COB, plain.COB)
}

func TestLastCOBDeviceStatus_Priority(t *testing.T) {
	base := int64(1700000000000)
	c := newTestCalculator()
	statuses := []models.DeviceStatus{
		{Mills: base - 20*minute, Loop: &models.LoopStatus{COB: &models.COBStatus{COB: 25}}},
		{Mills: base - 5*minute, OpenAPS: &models.OpenAPSStatus{COB: &models.COBStatus{COB: 40}}},
	}

	result := c.LastCOBDeviceStatus(statuses, base)
	require.NotNil(t, result)
	assert.Equal(t, models.SourceLoop, result.Source)
	assert.InDelta(t, 25.0, result.COB, 1e-9)

	// Out of window entirely.
	assert.Nil(t, c.LastCOBDeviceStatus(statuses, base+60*minute))
}

func TestCobTotal_DeviceFreshnessGate(t *testing.T) {
	base := int64(1700000000000)
	c := newTestCalculator()
	treatments := []models.Treatment{{Mills: base - 10*minute, Carbs: 20}}
	statuses := []models.DeviceStatus{
		{Mills: base, Loop: &models.LoopStatus{COB: &models.COBStatus{COB: 18}}},
	}

	// Fresh against the wall clock: the device value wins, treatments ride
	// along as the secondary amount.
	c.nowFn = func() time.Time { return time.UnixMilli(base + 5*minute) }
	fresh := c.CobTotal(treatments, statuses, base, "")
	assert.Equal(t, models.SourceLoop, fresh.Source)
	assert.InDelta(t, 18.0, fresh.COB, 1e-9)
	assert.Greater(t, fresh.TreatmentCOB, 0.0)

	// Stale: fall back to the treatment-derived value.
	c.nowFn = func() time.Time { return time.UnixMilli(base + 15*minute) }
	stale := c.CobTotal(treatments, statuses, base, "")
	assert.Equal(t, models.SourceTreatments, stale.Source)
}

func TestApplyAdvancedAbsorptionAdjustments(t *testing.T) {
	tests := []struct {
		name      string
		treatment models.Treatment
		want      float64
	}{
		{"no adjustment", models.Treatment{}, 20},
		{"high fat", models.Treatment{Fat: 20}, 12},
		{"moderate fat", models.Treatment{Fat: 10}, 16},
		{"fast carbs", models.Treatment{Notes: "Orange Juice"}, 30},
		{"slow carbs", models.Treatment{Notes: "whole grain toast"}, 14},
		{"fat and fast stack", models.Treatment{Fat: 20, Notes: "juice"}, 18},
		{"fast and slow both match", models.Treatment{Notes: "fast but complex"}, 21},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ApplyAdvancedAbsorptionAdjustments(&tt.treatment, 20), 1e-9)
		})
	}
}

func TestAbsorptionTimeOverride(t *testing.T) {
	base := int64(1700000000000)
	c := newTestCalculator(recordWithAbsorptionRate(base-86400000, 20))
	// 30g over a 90-minute absorption time: 20 g/h, same window maths as
	// the profile rate but driven by the treatment.
	treatments := []models.Treatment{{Mills: base, Carbs: 30, AbsorptionTime: 90}}

	result := c.FromTreatments(treatments, nil, base+30*minute, "", false)
	assert.Equal(t, base+110*minute, result.DecayedBy)
}

func TestCobDisplayFormat(t *testing.T) {
	r := models.CobResult{COB: 12.34}
	r.SetDisplay()
	assert.Equal(t, "12.3", r.Display)
	assert.Equal(t, "COB: 12.3g", r.DisplayLine)

	zero := models.CobResult{}
	zero.SetDisplay()
	assert.Empty(t, zero.Display)
	assert.Empty(t, zero.DisplayLine)
}
