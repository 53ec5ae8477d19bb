package models

// ScheduleEntry is one row of a time-of-day schedule table. Time holds the
// raw "HH:MM" string from the document; TimeAsSeconds is derived at load and
// stays nil when the string does not parse, which excludes the row from
// lookups without failing the whole profile.
type ScheduleEntry struct {
	Time          string  `json:"time"`
	Value         float64 `json:"value"`
	TimeAsSeconds *int    `json:"timeAsSeconds,omitempty"`
}

// ProfileSchedule is one named profile inside a profile record: scalar
// settings plus the five schedule tables, each sorted ascending by
// time-of-day.
type ProfileSchedule struct {
	DIA        float64         `json:"dia,omitempty"`      // hours
	CarbsHr    float64         `json:"carbs_hr,omitempty"` // absorption rate, g/h
	Units      string          `json:"units,omitempty"`
	Timezone   string          `json:"timezone,omitempty"`
	Basal      []ScheduleEntry `json:"basal,omitempty"`
	CarbRatio  []ScheduleEntry `json:"carbratio,omitempty"`
	Sens       []ScheduleEntry `json:"sens,omitempty"`
	TargetLow  []ScheduleEntry `json:"target_low,omitempty"`
	TargetHigh []ScheduleEntry `json:"target_high,omitempty"`
}

// ProfileRecord is one time-bounded profile document. Newer documents carry a
// Store of named profiles; legacy documents carry the schedule fields flat at
// the top level and are normalized into a single "Default" entry on load.
type ProfileRecord struct {
	ID             string                      `json:"_id,omitempty"`
	Mills          int64                       `json:"mills"`
	DefaultProfile string                      `json:"defaultProfile,omitempty"`
	Store          map[string]*ProfileSchedule `json:"store,omitempty"`

	// Legacy flat fields, pre-Store documents only.
	DIA        float64         `json:"dia,omitempty"`
	CarbsHr    float64         `json:"carbs_hr,omitempty"`
	Units      string          `json:"units,omitempty"`
	Timezone   string          `json:"timezone,omitempty"`
	Basal      []ScheduleEntry `json:"basal,omitempty"`
	CarbRatio  []ScheduleEntry `json:"carbratio,omitempty"`
	Sens       []ScheduleEntry `json:"sens,omitempty"`
	TargetLow  []ScheduleEntry `json:"target_low,omitempty"`
	TargetHigh []ScheduleEntry `json:"target_high,omitempty"`
}
