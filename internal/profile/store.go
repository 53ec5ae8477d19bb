// Package profile resolves time-varying therapy parameters: which profile is
// active at an instant, what a scheduled field is worth at that instant, and
// how treatment overrides (profile switches, temp basals, combo boluses)
// modify the answer.
package profile

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/your-org/nightscout-core/internal/models"
	"github.com/your-org/nightscout-core/internal/overlay"
	"github.com/your-org/nightscout-core/pkg/logger"
)

// Field selects one of the schedule tables.
type Field int

// Schedule fields.
const (
	FieldBasal Field = iota
	FieldSens
	FieldCarbRatio
	FieldTargetLow
	FieldTargetHigh
)

// Clinical defaults used whenever no profile data is loaded (or a loaded
// value is unusable). These match the legacy server bit for bit.
const (
	DefaultDIA                = 3.0  // hours
	DefaultSensitivity        = 50.0 // mg/dL per U
	DefaultCarbRatio          = 12.0 // g per U
	DefaultCarbAbsorptionRate = 20.0 // g per hour
	DefaultTargetLow          = 70.0
	DefaultTargetHigh         = 180.0
	DefaultBasalRate          = 1.0 // U per hour
)

// defaultRecordStart is used for legacy records without a start time
// (1980-01-01T00:00:00Z).
const defaultRecordStart = 315532800000

// cacheTTL bounds how long a resolved value may be reused inside one
// series-building loop.
const cacheTTL = 5 * time.Second

// profileKey identifies a profile definition: a named entry of the active
// record's store, or an inline definition activated by a profile switch at a
// specific instant.
type profileKey struct {
	Name        string
	ActivatedAt int64 // zero for plain named profiles
}

type cacheKind int

const (
	cacheField cacheKind = iota
	cacheDIA
	cacheCarbsHr
)

type cacheKey struct {
	minute   int64
	kind     cacheKind
	field    Field
	override string
}

type cacheEntry struct {
	value     float64
	expiresAt time.Time
}

// Store is the in-memory profile resolver for one computation request. It is
// not safe for concurrent use; give each request its own instance.
type Store struct {
	records  []models.ProfileRecord
	overlay  *overlay.Resolver
	injected map[profileKey]*models.ProfileSchedule
	badJSON  map[profileKey]bool
	cache    map[cacheKey]cacheEntry
	nowFn    func() time.Time
}

// NewStore returns an empty Store; all queries answer with clinical defaults
// until LoadData is called.
func NewStore() *Store {
	return &Store{
		overlay:  overlay.NewResolver(),
		injected: make(map[profileKey]*models.ProfileSchedule),
		badJSON:  make(map[profileKey]bool),
		cache:    make(map[cacheKey]cacheEntry),
		nowFn:    time.Now,
	}
}

// LoadData replaces the store's profile records wholesale. Legacy flat
// records are normalized into a single "Default" named profile, schedule
// time strings are pre-parsed, and the record list is sorted by start time.
func (s *Store) LoadData(records []models.ProfileRecord) {
	s.records = make([]models.ProfileRecord, 0, len(records))
	for _, rec := range records {
		if rec.Mills == 0 {
			rec.Mills = defaultRecordStart
		}
		if len(rec.Store) == 0 {
			rec.Store = map[string]*models.ProfileSchedule{
				"Default": {
					DIA:        rec.DIA,
					CarbsHr:    rec.CarbsHr,
					Units:      rec.Units,
					Timezone:   rec.Timezone,
					Basal:      rec.Basal,
					CarbRatio:  rec.CarbRatio,
					Sens:       rec.Sens,
					TargetLow:  rec.TargetLow,
					TargetHigh: rec.TargetHigh,
				},
			}
			rec.DefaultProfile = "Default"
		}
		if rec.DefaultProfile == "" {
			names := make([]string, 0, len(rec.Store))
			for name := range rec.Store {
				names = append(names, name)
			}
			sort.Strings(names)
			rec.DefaultProfile = names[0]
		}
		for _, schedule := range rec.Store {
			preprocessProfile(schedule)
		}
		s.records = append(s.records, rec)
	}
	sort.SliceStable(s.records, func(i, j int) bool {
		return s.records[i].Mills < s.records[j].Mills
	})
	s.resetDerivedState()
}

func preprocessProfile(schedule *models.ProfileSchedule) {
	preprocessSchedule(schedule.Basal)
	preprocessSchedule(schedule.CarbRatio)
	preprocessSchedule(schedule.Sens)
	preprocessSchedule(schedule.TargetLow)
	preprocessSchedule(schedule.TargetHigh)
}

func (s *Store) resetDerivedState() {
	s.injected = make(map[profileKey]*models.ProfileSchedule)
	s.badJSON = make(map[profileKey]bool)
	s.cache = make(map[cacheKey]cacheEntry)
}

// UpdateTreatments replaces the override-treatment batch feeding the overlay
// resolver and invalidates cached lookups.
func (s *Store) UpdateTreatments(treatments []models.Treatment) {
	s.overlay.UpdateTreatments(treatments)
	s.resetDerivedState()
}

// HasData reports whether any profile records are loaded.
func (s *Store) HasData() bool {
	return len(s.records) > 0
}

// activeRecord returns the last record whose start time is at or before
// mills, or the earliest record when mills predates them all. Requires
// HasData.
func (s *Store) activeRecord(mills int64) *models.ProfileRecord {
	idx := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].Mills > mills
	})
	if idx == 0 {
		return &s.records[0]
	}
	return &s.records[idx-1]
}

// resolveActiveProfile resolves the profile definition in force at mills,
// honoring profile-switch treatments scoped to the active record.
func (s *Store) resolveActiveProfile(mills int64) (profileKey, *models.ProfileRecord) {
	rec := s.activeRecord(mills)
	key := profileKey{Name: rec.DefaultProfile}

	sw := s.overlay.ActiveProfileSwitch(mills, rec.Mills)
	if sw == nil {
		return key, rec
	}
	if sw.ProfileJSON != "" {
		if inline := s.injectInlineProfile(sw); inline != nil {
			return *inline, rec
		}
		// Malformed inline JSON: behave as if the switch carried none.
	}
	if sw.Profile != "" {
		if _, ok := rec.Store[sw.Profile]; ok {
			key = profileKey{Name: sw.Profile}
		}
	}
	return key, rec
}

// injectInlineProfile parses a profile switch's embedded profile definition
// and registers it under a (name, activation time) key. Returns nil when the
// JSON is malformed; the failure is remembered so it is logged once.
func (s *Store) injectInlineProfile(sw *models.Treatment) *profileKey {
	key := profileKey{Name: sw.Profile, ActivatedAt: sw.Mills}
	if _, ok := s.injected[key]; ok {
		return &key
	}
	if s.badJSON[key] {
		return nil
	}
	var schedule models.ProfileSchedule
	if err := json.Unmarshal([]byte(sw.ProfileJSON), &schedule); err != nil {
		logger.Warnf("ignoring malformed inline profile on switch at %d: %v", sw.Mills, err)
		s.badJSON[key] = true
		return nil
	}
	preprocessProfile(&schedule)
	s.injected[key] = &schedule
	return &key
}

func (s *Store) scheduleFor(key profileKey, rec *models.ProfileRecord) *models.ProfileSchedule {
	if key.ActivatedAt != 0 {
		if schedule, ok := s.injected[key]; ok {
			return schedule
		}
	}
	return rec.Store[key.Name]
}

// GetActiveProfileName returns the name of the profile in force at mills.
func (s *Store) GetActiveProfileName(mills int64) string {
	if !s.HasData() {
		return ""
	}
	key, _ := s.resolveActiveProfile(mills)
	return key.Name
}

// GetCurrentProfile returns the profile schedule in force at mills, or nil
// when no data is loaded.
func (s *Store) GetCurrentProfile(mills int64, profileOverride string) *models.ProfileSchedule {
	if !s.HasData() {
		return nil
	}
	if profileOverride != "" {
		rec := s.activeRecord(mills)
		if schedule, ok := rec.Store[profileOverride]; ok {
			return schedule
		}
	}
	key, rec := s.resolveActiveProfile(mills)
	return s.scheduleFor(key, rec)
}

// GetValueByTime resolves the scheduled value of a field at mills, applying
// any active circadian percentage profile (percentage rescale plus time
// shift). Results are memoized for cacheTTL keyed by minute-rounded time.
func (s *Store) GetValueByTime(mills int64, field Field, profileOverride string) float64 {
	if !s.HasData() {
		return defaultForField(field)
	}

	ck := cacheKey{minute: mills / 60000, kind: cacheField, field: field, override: profileOverride}
	if v, ok := s.cached(ck); ok {
		return v
	}

	percentage := 100.0
	timeshift := 0.0
	circadian := false
	if profileOverride == "" {
		rec := s.activeRecord(mills)
		if sw := s.overlay.ActiveProfileSwitch(mills, rec.Mills); sw != nil && sw.CircadianPercentageProfile {
			circadian = true
			if sw.Percentage != 0 {
				percentage = sw.Percentage
			}
			timeshift = sw.Timeshift
		}
	}

	shifted := mills + int64(math.Mod(timeshift, 24)*3600000)

	schedule := s.GetCurrentProfile(shifted, profileOverride)
	value := defaultForField(field)
	if schedule != nil {
		secs := s.localSeconds(shifted, schedule.Timezone)
		value = lookupSchedule(scheduleTable(schedule, field), secs, defaultForField(field))
	}

	if circadian && percentage != 0 {
		switch field {
		case FieldSens, FieldCarbRatio:
			value *= 100 / percentage
		case FieldBasal:
			value *= percentage / 100
		}
	}

	s.store(ck, value)
	return value
}

// localSeconds converts mills to seconds since local midnight in the
// profile's timezone, falling back to UTC when the zone does not resolve.
func (s *Store) localSeconds(mills int64, timezone string) int {
	loc := time.UTC
	if timezone != "" {
		if parsed, err := time.LoadLocation(timezone); err == nil {
			loc = parsed
		} else {
			logger.Debugf("timezone %q not resolvable, using UTC: %v", timezone, err)
		}
	}
	local := time.UnixMilli(mills).In(loc)
	return local.Hour()*3600 + local.Minute()*60 + local.Second()
}

func scheduleTable(schedule *models.ProfileSchedule, field Field) []models.ScheduleEntry {
	switch field {
	case FieldBasal:
		return schedule.Basal
	case FieldSens:
		return schedule.Sens
	case FieldCarbRatio:
		return schedule.CarbRatio
	case FieldTargetLow:
		return schedule.TargetLow
	case FieldTargetHigh:
		return schedule.TargetHigh
	default:
		return nil
	}
}

func defaultForField(field Field) float64 {
	switch field {
	case FieldBasal:
		return DefaultBasalRate
	case FieldSens:
		return DefaultSensitivity
	case FieldCarbRatio:
		return DefaultCarbRatio
	case FieldTargetLow:
		return DefaultTargetLow
	case FieldTargetHigh:
		return DefaultTargetHigh
	default:
		return 0
	}
}

// GetBasalRate returns the scheduled basal rate (U/h) at mills.
func (s *Store) GetBasalRate(mills int64, profileOverride string) float64 {
	return s.GetValueByTime(mills, FieldBasal, profileOverride)
}

// GetSensitivity returns the insulin sensitivity factor at mills.
func (s *Store) GetSensitivity(mills int64, profileOverride string) float64 {
	return s.GetValueByTime(mills, FieldSens, profileOverride)
}

// GetCarbRatio returns the carb ratio (g/U) at mills.
func (s *Store) GetCarbRatio(mills int64, profileOverride string) float64 {
	return s.GetValueByTime(mills, FieldCarbRatio, profileOverride)
}

// GetTargetLow returns the low BG target at mills.
func (s *Store) GetTargetLow(mills int64, profileOverride string) float64 {
	return s.GetValueByTime(mills, FieldTargetLow, profileOverride)
}

// GetTargetHigh returns the high BG target at mills.
func (s *Store) GetTargetHigh(mills int64, profileOverride string) float64 {
	return s.GetValueByTime(mills, FieldTargetHigh, profileOverride)
}

// GetDIA returns the duration of insulin action in hours at mills.
func (s *Store) GetDIA(mills int64, profileOverride string) float64 {
	if !s.HasData() {
		return DefaultDIA
	}
	ck := cacheKey{minute: mills / 60000, kind: cacheDIA, override: profileOverride}
	if v, ok := s.cached(ck); ok {
		return v
	}
	value := DefaultDIA
	if schedule := s.GetCurrentProfile(mills, profileOverride); schedule != nil && schedule.DIA > 0 {
		value = schedule.DIA
	}
	s.store(ck, value)
	return value
}

// GetCarbAbsorptionRate returns the carb absorption rate (g/h) at mills.
func (s *Store) GetCarbAbsorptionRate(mills int64, profileOverride string) float64 {
	if !s.HasData() {
		return DefaultCarbAbsorptionRate
	}
	ck := cacheKey{minute: mills / 60000, kind: cacheCarbsHr, override: profileOverride}
	if v, ok := s.cached(ck); ok {
		return v
	}
	value := DefaultCarbAbsorptionRate
	if schedule := s.GetCurrentProfile(mills, profileOverride); schedule != nil && schedule.CarbsHr > 0 {
		value = schedule.CarbsHr
	}
	s.store(ck, value)
	return value
}

// GetTempBasal combines the scheduled basal with any active temp basal and
// combo bolus at mills.
func (s *Store) GetTempBasal(mills int64, profileOverride string) models.TempBasalResult {
	scheduled := s.GetBasalRate(mills, profileOverride)
	temp := overlay.TempBasalRate(s.overlay.ActiveTempBasal(mills), scheduled)
	combo := 0.0
	if cb := s.overlay.ActiveComboBolus(mills); cb != nil {
		combo = cb.Relative
	}
	return models.TempBasalResult{
		Scheduled:  scheduled,
		Temp:       temp,
		ComboBasal: combo,
		Total:      temp + combo,
	}
}

func (s *Store) cached(key cacheKey) (float64, bool) {
	entry, ok := s.cache[key]
	if !ok || s.nowFn().After(entry.expiresAt) {
		return 0, false
	}
	return entry.value, true
}

func (s *Store) store(key cacheKey, value float64) {
	s.cache[key] = cacheEntry{value: value, expiresAt: s.nowFn().Add(cacheTTL)}
}
