package alarms

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// locations caches loaded time zones by name.
var locations sync.Map

// ScheduleType selects how a schedule decides activity.
type ScheduleType string

const (
	ScheduleAnyTime      ScheduleType = "ANY_TIME"
	ScheduleSpecificTime ScheduleType = "SPECIFIC_TIME"
	ScheduleCustom       ScheduleType = "CUSTOM"
)

// ScheduleItem configures one weekday of a custom schedule.
type ScheduleItem struct {
	DayOfWeek int   `json:"dayOfWeek" yaml:"dayOfWeek"`
	Enabled   bool  `json:"enabled" yaml:"enabled"`
	StartsOn  int64 `json:"startsOn" yaml:"startsOn"`
	EndsOn    int64 `json:"endsOn" yaml:"endsOn"`
}

// Schedule is a weekly activation window. Times are milliseconds from local midnight;
// days of week run 1 (Monday) to 7 (Sunday).
type Schedule struct {
	Type       ScheduleType   `json:"type" yaml:"type"`
	Timezone   string         `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	DaysOfWeek []int          `json:"daysOfWeek,omitempty" yaml:"daysOfWeek,omitempty"`
	StartsOn   int64          `json:"startsOn,omitempty" yaml:"startsOn,omitempty"`
	EndsOn     int64          `json:"endsOn,omitempty" yaml:"endsOn,omitempty"`
	Items      []ScheduleItem `json:"items,omitempty" yaml:"items,omitempty"`
	// ArgID optionally names a STRING argument holding a JSON schedule that overrides this one.
	ArgID string `json:"dynamicValueArgument,omitempty" yaml:"dynamicValueArgument,omitempty"`
}

// ParseSchedule decodes a JSON schedule.
func ParseSchedule(raw string) (Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Schedule{}, err
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// Validate checks schedule fields.
func (s Schedule) Validate() error {
	switch s.Type {
	case ScheduleAnyTime, "":
		return nil
	case ScheduleSpecificTime:
		for _, d := range s.DaysOfWeek {
			if d < 1 || d > 7 {
				return errors.New("schedule: invalid day of week")
			}
		}
		if !validDayOffset(s.StartsOn) || !validDayOffset(s.EndsOn) {
			return errors.New("schedule: time outside day")
		}
	case ScheduleCustom:
		for _, item := range s.Items {
			if item.DayOfWeek < 1 || item.DayOfWeek > 7 {
				return errors.New("schedule: invalid day of week")
			}
			if !validDayOffset(item.StartsOn) || !validDayOffset(item.EndsOn) {
				return errors.New("schedule: time outside day")
			}
		}
	default:
		return errors.New("schedule: unknown type")
	}
	if _, err := s.location(); err != nil {
		return err
	}
	return nil
}

// IsActive reports whether the schedule covers at.
func (s Schedule) IsActive(at time.Time) bool {
	loc, err := s.location()
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	switch s.Type {
	case ScheduleSpecificTime:
		if len(s.DaysOfWeek) > 0 && len(s.DaysOfWeek) != 7 && !containsDay(s.DaysOfWeek, isoWeekday(local)) {
			return false
		}
		return inWindow(local, s.StartsOn, s.EndsOn)
	case ScheduleCustom:
		day := isoWeekday(local)
		for _, item := range s.Items {
			if item.DayOfWeek != day {
				continue
			}
			if !item.Enabled {
				return false
			}
			return inWindow(local, item.StartsOn, item.EndsOn)
		}
		return false
	default:
		return true
	}
}

func (s Schedule) location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	if loc, ok := locations.Load(s.Timezone); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, err
	}
	locations.Store(s.Timezone, loc)
	return loc, nil
}

func inWindow(local time.Time, startsOn, endsOn int64) bool {
	if endsOn == 0 {
		endsOn = dayMillis
	}
	// wall clock offset; DST days keep their nominal hours
	h, m, sec := local.Clock()
	offset := int64((h*60+m)*60+sec)*1000 + int64(local.Nanosecond()/int(time.Millisecond))
	if startsOn <= endsOn {
		return startsOn <= offset && offset < endsOn
	}
	// window wraps past midnight
	return offset >= startsOn || offset < endsOn
}

func isoWeekday(t time.Time) int {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int(t.Weekday())
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

func validDayOffset(ms int64) bool {
	return ms >= 0 && ms <= dayMillis
}
