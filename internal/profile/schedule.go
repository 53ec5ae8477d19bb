package profile

import (
	"strconv"
	"strings"

	"github.com/your-org/nightscout-core/internal/models"
	"github.com/your-org/nightscout-core/pkg/logger"
)

// parseTimeOfDay converts an "HH:MM" (or "HH:MM:SS") schedule time string to
// seconds since midnight.
func parseTimeOfDay(value string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, false
	}
	seconds := 0
	if len(parts) == 3 {
		seconds, err = strconv.Atoi(parts[2])
		if err != nil || seconds < 0 || seconds > 59 {
			return 0, false
		}
	}
	return hours*3600 + minutes*60 + seconds, true
}

// preprocessSchedule derives TimeAsSeconds for every entry. Entries whose
// time string does not parse keep a nil TimeAsSeconds and are skipped at
// lookup; the profile as a whole stays usable.
func preprocessSchedule(entries []models.ScheduleEntry) {
	for i := range entries {
		secs, ok := parseTimeOfDay(entries[i].Time)
		if !ok {
			logger.Debugf("skipping schedule entry with unparsable time %q", entries[i].Time)
			entries[i].TimeAsSeconds = nil
			continue
		}
		s := secs
		entries[i].TimeAsSeconds = &s
	}
}

// lookupSchedule returns the value of the last entry whose time-of-day is at
// or before secs. Queries before the first entry wrap to the final entry of
// the day, since schedules are time-of-day bound, not date bound. Returns
// fallback when no entry is usable.
func lookupSchedule(entries []models.ScheduleEntry, secs int, fallback float64) float64 {
	value := fallback
	found := false
	for i := range entries {
		if entries[i].TimeAsSeconds == nil {
			continue
		}
		if *entries[i].TimeAsSeconds <= secs {
			value = entries[i].Value
			found = true
		}
	}
	if !found {
		// Wrap: the last entry before midnight is still in force.
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].TimeAsSeconds != nil {
				return entries[i].Value
			}
		}
	}
	return value
}
