package alarms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func TestSimpleState(t *testing.T) {
	s := NewConditionState(SpecSimple)
	s = s.Advance(True, t0, Threshold{})
	assert.True(t, s.Fired())
	s = s.Advance(NotAvailable, t0.Add(time.Second), Threshold{})
	assert.False(t, s.Fired())
	assert.Equal(t, PhaseIdle, s.Phase)
}

func TestRepeatingState(t *testing.T) {
	th := Threshold{Count: 2}
	s := NewConditionState(SpecRepeating)

	s = s.Advance(True, t0, th)
	assert.Equal(t, PhaseArmed, s.Phase)
	assert.Equal(t, int64(1), s.Count)

	s = s.Advance(NotAvailable, t0.Add(time.Second), th)
	assert.Equal(t, int64(1), s.Count, "not available leaves the count")

	s = s.Advance(True, t0.Add(2*time.Second), th)
	assert.True(t, s.Fired())
	assert.Equal(t, int64(2), s.Metadata().Count)

	s = s.Advance(False, t0.Add(3*time.Second), th)
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Zero(t, s.Count)
}

func TestRepeatingThresholdChangesWithoutReset(t *testing.T) {
	s := NewConditionState(SpecRepeating)
	s = s.Advance(True, t0, Threshold{Count: 3})
	s = s.Advance(True, t0, Threshold{Count: 3})
	require.Equal(t, PhaseArmed, s.Phase)
	s = s.Advance(NotAvailable, t0, Threshold{Count: 2})
	assert.True(t, s.Fired())
}

func TestDurationState(t *testing.T) {
	th := Threshold{Duration: 5 * time.Second}
	s := NewConditionState(SpecDuration)

	s = s.Advance(True, t0, th)
	assert.Equal(t, PhaseArmed, s.Phase)

	s = s.Advance(NotAvailable, t0.Add(2500*time.Millisecond), th)
	assert.Equal(t, PhaseArmed, s.Phase)

	s = s.Advance(True, t0.Add(5100*time.Millisecond), th)
	assert.True(t, s.Fired())
	assert.Equal(t, 5100*time.Millisecond, s.Metadata().Duration)
}

func TestDurationResetOnFalse(t *testing.T) {
	th := Threshold{Duration: 5 * time.Second}
	s := NewConditionState(SpecDuration)
	s = s.Advance(True, t0, th)
	s = s.Advance(False, t0.Add(2500*time.Millisecond), th)
	assert.Equal(t, PhaseIdle, s.Phase)

	s = s.Advance(True, t0.Add(5100*time.Millisecond), th)
	assert.Equal(t, PhaseArmed, s.Phase)
	assert.Equal(t, t0.Add(5100*time.Millisecond), s.Start)
}

func TestDurationPauseDropsInactiveTime(t *testing.T) {
	th := Threshold{Duration: 5 * time.Second}
	s := NewConditionState(SpecDuration)
	s = s.Advance(True, t0, th)
	s = s.Advance(True, t0.Add(2*time.Second), th)
	s = s.Pause()
	s = s.Advance(True, t0.Add(10*time.Second), th)
	assert.Equal(t, PhaseArmed, s.Phase)
	assert.Equal(t, 2*time.Second, s.Elapsed)

	s = s.Advance(True, t0.Add(13*time.Second), th)
	assert.True(t, s.Fired())
}

func TestDurationTick(t *testing.T) {
	th := Threshold{Duration: 5 * time.Second}
	s := NewConditionState(SpecDuration).Advance(True, t0, th)
	assert.Equal(t, PhaseArmed, s.Tick(t0.Add(3*time.Second), th).Phase)
	assert.True(t, s.Tick(t0.Add(6*time.Second), th).Fired())

	stale := s.Advance(NotAvailable, t0.Add(time.Second), th)
	assert.False(t, stale.Tick(t0.Add(6*time.Second), th).Fired(), "tick only extends a true window")
}

func TestNoUpdateState(t *testing.T) {
	th := Threshold{Duration: 5 * time.Second}
	s := NewConditionState(SpecNoUpdate)

	s = s.Advance(False, t0, th)
	assert.Equal(t, PhaseIdle, s.Phase, "window starts with the first update")

	s = s.Advance(True, t0, th)
	assert.Equal(t, PhaseArmed, s.Phase)
	s = s.Advance(False, t0.Add(2500*time.Millisecond), th)
	assert.Equal(t, PhaseArmed, s.Phase)
	s = s.Advance(False, t0.Add(5100*time.Millisecond), th)
	assert.True(t, s.Fired())

	s = s.Advance(True, t0.Add(6*time.Second), th)
	assert.Equal(t, PhaseArmed, s.Phase)
}

func TestNoUpdateResetByUpdate(t *testing.T) {
	th := Threshold{Duration: 5 * time.Second}
	s := NewConditionState(SpecNoUpdate).Advance(True, t0, th)
	s = s.Advance(True, t0.Add(2500*time.Millisecond), th)
	s = s.Advance(False, t0.Add(5100*time.Millisecond), th)
	assert.Equal(t, PhaseArmed, s.Phase)
	assert.True(t, s.Tick(t0.Add(8*time.Second), th).Fired())
}

func TestAdvanceDoesNotMutateReceiver(t *testing.T) {
	s := NewConditionState(SpecRepeating)
	_ = s.Advance(True, t0, Threshold{Count: 1})
	assert.Zero(t, s.Count)
}
