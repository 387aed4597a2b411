package alarms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hours(h float64) int64 { return int64(h * float64(time.Hour/time.Millisecond)) }

func TestSpecificTimeSchedule(t *testing.T) {
	s := Schedule{
		Type:       ScheduleSpecificTime,
		Timezone:   "Europe/Berlin",
		DaysOfWeek: []int{1, 2, 3, 4, 5},
		StartsOn:   hours(8),
		EndsOn:     hours(18),
	}
	require.NoError(t, s.Validate())

	// Monday 2024-05-06 09:00 UTC is 11:00 in Berlin.
	assert.True(t, s.IsActive(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)))
	assert.False(t, s.IsActive(time.Date(2024, 5, 6, 17, 0, 0, 0, time.UTC)))
	// Sunday.
	assert.False(t, s.IsActive(time.Date(2024, 5, 5, 9, 0, 0, 0, time.UTC)))
}

func TestScheduleUsesWallClockOnDSTDay(t *testing.T) {
	s := Schedule{Type: ScheduleSpecificTime, Timezone: "Europe/Berlin", StartsOn: hours(8.5), EndsOn: hours(9.5)}

	// Berlin moves to summer time at 02:00 on 2024-03-31; 07:00 UTC is 09:00 local.
	assert.True(t, s.IsActive(time.Date(2024, 3, 31, 7, 0, 0, 0, time.UTC)))
	assert.False(t, s.IsActive(time.Date(2024, 3, 31, 6, 15, 0, 0, time.UTC)))
	assert.True(t, s.IsActive(time.Date(2024, 3, 31, 7, 0, 0, 0, time.UTC)), "cached zone gives the same answer")
}

func TestScheduleWrapsMidnight(t *testing.T) {
	s := Schedule{Type: ScheduleSpecificTime, StartsOn: hours(22), EndsOn: hours(6)}
	assert.True(t, s.IsActive(time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC)))
	assert.True(t, s.IsActive(time.Date(2024, 5, 6, 5, 59, 0, 0, time.UTC)))
	assert.False(t, s.IsActive(time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)))
}

func TestScheduleZeroEndMeansEndOfDay(t *testing.T) {
	s := Schedule{Type: ScheduleSpecificTime, StartsOn: hours(12)}
	assert.True(t, s.IsActive(time.Date(2024, 5, 6, 23, 59, 0, 0, time.UTC)))
	assert.False(t, s.IsActive(time.Date(2024, 5, 6, 11, 0, 0, 0, time.UTC)))
}

func TestCustomSchedule(t *testing.T) {
	s := Schedule{Type: ScheduleCustom, Items: []ScheduleItem{
		{DayOfWeek: 1, Enabled: true, StartsOn: hours(8), EndsOn: hours(9)},
		{DayOfWeek: 2, Enabled: false},
	}}
	assert.True(t, s.IsActive(time.Date(2024, 5, 6, 8, 30, 0, 0, time.UTC)))
	assert.False(t, s.IsActive(time.Date(2024, 5, 7, 8, 30, 0, 0, time.UTC)))
	assert.False(t, s.IsActive(time.Date(2024, 5, 8, 8, 30, 0, 0, time.UTC)))
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule(`{"type":"SPECIFIC_TIME","daysOfWeek":[6,7],"startsOn":0,"endsOn":0}`)
	require.NoError(t, err)
	assert.True(t, s.IsActive(time.Date(2024, 5, 4, 3, 0, 0, 0, time.UTC)))

	_, err = ParseSchedule(`{"type":"SPECIFIC_TIME","daysOfWeek":[9]}`)
	assert.Error(t, err)
}
