package profile

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/your-org/nightscout-core/internal/models"
)

func millsAt(hour, min int) int64 {
	return time.Date(2023, 6, 15, hour, min, 0, 0, time.UTC).UnixMilli()
}

func loadedStore(records ...models.ProfileRecord) *Store {
	s := NewStore()
	s.LoadData(records)
	return s
}

func basicRecord() models.ProfileRecord {
	return models.ProfileRecord{
		Mills:          millsAt(0, 0) - 30*86400000,
		DefaultProfile: "Default",
		Store: map[string]*models.ProfileSchedule{
			"Default": {
				DIA:      4.0,
				CarbsHr:  25,
				Timezone: "UTC",
				Basal: []models.ScheduleEntry{
					{Time: "00:00", Value: 0.8},
					{Time: "06:00", Value: 1.2},
					{Time: "22:00", Value: 0.9},
				},
				Sens:      []models.ScheduleEntry{{Time: "00:00", Value: 60}},
				CarbRatio: []models.ScheduleEntry{{Time: "00:00", Value: 10}},
			},
		},
	}
}

func TestDefaultsWithoutData(t *testing.T) {
	s := NewStore()

	assert.False(t, s.HasData())
	assert.Equal(t, 1.0, s.GetBasalRate(millsAt(7, 0), ""))
	assert.Equal(t, 50.0, s.GetSensitivity(millsAt(7, 0), ""))
	assert.Equal(t, 12.0, s.GetCarbRatio(millsAt(7, 0), ""))
	assert.Equal(t, 3.0, s.GetDIA(millsAt(7, 0), ""))
	assert.Equal(t, 20.0, s.GetCarbAbsorptionRate(millsAt(7, 0), ""))
	assert.Equal(t, 70.0, s.GetTargetLow(millsAt(7, 0), ""))
	assert.Equal(t, 180.0, s.GetTargetHigh(millsAt(7, 0), ""))
}

func TestBasalSchedule(t *testing.T) {
	s := loadedStore(basicRecord())

	assert.Equal(t, 1.2, s.GetBasalRate(millsAt(7, 0), ""))
	assert.Equal(t, 0.9, s.GetBasalRate(millsAt(23, 0), ""))
	// 01:00 falls after the midnight entry.
	assert.Equal(t, 0.8, s.GetBasalRate(millsAt(1, 0), ""))
	assert.Equal(t, 4.0, s.GetDIA(millsAt(7, 0), ""))
	assert.Equal(t, 25.0, s.GetCarbAbsorptionRate(millsAt(7, 0), ""))
}

func TestScheduleWrapsBeforeFirstEntry(t *testing.T) {
	rec := basicRecord()
	rec.Store["Default"].Basal = []models.ScheduleEntry{
		{Time: "06:00", Value: 1.2},
		{Time: "22:00", Value: 0.9},
	}
	s := loadedStore(rec)

	// 01:00 precedes every entry; the 22:00 entry from the prior day is
	// still in force.
	assert.Equal(t, 0.9, s.GetBasalRate(millsAt(1, 0), ""))
}

func TestLookupIsIdempotentWithinCacheWindow(t *testing.T) {
	s := loadedStore(basicRecord())

	first := s.GetBasalRate(millsAt(7, 0), "")
	second := s.GetBasalRate(millsAt(7, 0), "")
	assert.Equal(t, first, second)
}

func TestProfileOverrideSelectsNamedProfile(t *testing.T) {
	rec := basicRecord()
	rec.Store["Sport"] = &models.ProfileSchedule{
		Timezone: "UTC",
		Basal:    []models.ScheduleEntry{{Time: "00:00", Value: 0.5}},
	}
	s := loadedStore(rec)

	assert.Equal(t, 1.2, s.GetBasalRate(millsAt(7, 0), ""))
	assert.Equal(t, 0.5, s.GetBasalRate(millsAt(7, 0), "Sport"))
}

func TestProfileSwitchByName(t *testing.T) {
	rec := basicRecord()
	rec.Store["Night"] = &models.ProfileSchedule{
		Timezone: "UTC",
		Basal:    []models.ScheduleEntry{{Time: "00:00", Value: 0.3}},
	}
	s := loadedStore(rec)
	s.UpdateTreatments([]models.Treatment{
		{EventType: models.EventProfileSwitch, Mills: millsAt(6, 0), Profile: "Night"},
	})

	assert.Equal(t, "Night", s.GetActiveProfileName(millsAt(7, 0)))
	assert.Equal(t, 0.3, s.GetBasalRate(millsAt(7, 0), ""))

	// A switch to a name the record does not know is ignored.
	s.UpdateTreatments([]models.Treatment{
		{EventType: models.EventProfileSwitch, Mills: millsAt(6, 0), Profile: "Missing"},
	})
	assert.Equal(t, 1.2, s.GetBasalRate(millsAt(7, 0), ""))
}

func TestInlineProfileSwitch(t *testing.T) {
	s := loadedStore(basicRecord())
	s.UpdateTreatments([]models.Treatment{
		{
			EventType:   models.EventProfileSwitch,
			Mills:       millsAt(6, 0),
			Profile:     "Lunch",
			ProfileJSON: `{"timezone":"UTC","basal":[{"time":"00:00","value":2.5}]}`,
		},
	})

	assert.Equal(t, 2.5, s.GetBasalRate(millsAt(7, 0), ""))
}

func TestMalformedInlineProfileIsIgnored(t *testing.T) {
	s := loadedStore(basicRecord())
	s.UpdateTreatments([]models.Treatment{
		{
			EventType:   models.EventProfileSwitch,
			Mills:       millsAt(6, 0),
			Profile:     "Lunch",
			ProfileJSON: `{not json`,
		},
	})

	// The switch behaves as if it carried no inline definition.
	assert.Equal(t, 1.2, s.GetBasalRate(millsAt(7, 0), ""))
}

func TestCircadianPercentageProfile(t *testing.T) {
	s := loadedStore(basicRecord())
	s.UpdateTreatments([]models.Treatment{
		{
			EventType:                  models.EventProfileSwitch,
			Mills:                      millsAt(0, 0),
			CircadianPercentageProfile: true,
			Percentage:                 200,
		},
	})

	// Basal scales up with the percentage, sens and carb ratio scale down.
	assert.InDelta(t, 2.4, s.GetBasalRate(millsAt(7, 0), ""), 1e-9)
	assert.InDelta(t, 30.0, s.GetSensitivity(millsAt(7, 0), ""), 1e-9)
	assert.InDelta(t, 5.0, s.GetCarbRatio(millsAt(7, 0), ""), 1e-9)
}

func TestCircadianTimeshift(t *testing.T) {
	s := loadedStore(basicRecord())
	s.UpdateTreatments([]models.Treatment{
		{
			EventType:                  models.EventProfileSwitch,
			Mills:                      millsAt(0, 0),
			CircadianPercentageProfile: true,
			Timeshift:                  6,
		},
	})

	// 01:00 shifted forward six hours lands in the 06:00 segment.
	assert.InDelta(t, 1.2, s.GetBasalRate(millsAt(1, 0), ""), 1e-9)
}

func TestGetTempBasal(t *testing.T) {
	s := NewStore()
	base := millsAt(12, 0)
	s.UpdateTreatments([]models.Treatment{
		{EventType: models.EventTempBasal, Mills: base, Duration: 30, Percent: 50},
	})

	got := s.GetTempBasal(base+10*60000, "")
	want := models.TempBasalResult{Scheduled: 1.0, Temp: 1.5, ComboBasal: 0, Total: 1.5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetTempBasal mismatch (-want +got):\n%s", diff)
	}
}

func TestGetTempBasalWithComboBolus(t *testing.T) {
	s := NewStore()
	base := millsAt(12, 0)
	s.UpdateTreatments([]models.Treatment{
		{EventType: models.EventComboBolus, Mills: base, Duration: 120, Relative: 0.4},
	})

	got := s.GetTempBasal(base+60*60000, "")
	assert.InDelta(t, 1.0, got.Scheduled, 1e-9)
	assert.InDelta(t, 1.0, got.Temp, 1e-9)
	assert.InDelta(t, 0.4, got.ComboBasal, 1e-9)
	assert.InDelta(t, 1.4, got.Total, 1e-9)
}

func TestLegacyFlatRecordIsNormalized(t *testing.T) {
	s := loadedStore(models.ProfileRecord{
		// No Store, no Mills: the legacy document shape.
		DIA:      5.0,
		Timezone: "UTC",
		Basal:    []models.ScheduleEntry{{Time: "00:00", Value: 0.6}},
	})

	assert.True(t, s.HasData())
	assert.Equal(t, "Default", s.GetActiveProfileName(millsAt(7, 0)))
	assert.Equal(t, 0.6, s.GetBasalRate(millsAt(7, 0), ""))
	assert.Equal(t, 5.0, s.GetDIA(millsAt(7, 0), ""))
}

func TestRecordSelectionByTime(t *testing.T) {
	old := basicRecord()
	old.Mills = millsAt(0, 0) - 60*86400000

	newer := basicRecord()
	newer.Mills = millsAt(0, 0)
	newer.Store["Default"].Basal = []models.ScheduleEntry{{Time: "00:00", Value: 2.0}}

	s := loadedStore(old, newer)

	assert.Equal(t, 1.2, s.GetBasalRate(millsAt(0, 0)-10*86400000+7*3600000, ""))
	assert.Equal(t, 2.0, s.GetBasalRate(millsAt(7, 0), ""))
	// Queries predating every record use the earliest one.
	assert.Equal(t, 1.2, s.GetBasalRate(old.Mills-86400000+7*3600000, ""))
}

func TestUnresolvableTimezoneFallsBackToUTC(t *testing.T) {
	rec := basicRecord()
	rec.Store["Default"].Timezone = "Not/AZone"
	s := loadedStore(rec)

	assert.Equal(t, 1.2, s.GetBasalRate(millsAt(7, 0), ""))
}
