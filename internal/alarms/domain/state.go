package alarms

import "time"

// Phase of a condition state machine.
type Phase string

const (
	PhaseIdle  Phase = "IDLE"
	PhaseArmed Phase = "ARMED"
	PhaseFired Phase = "FIRED"
)

// Threshold is the resolved spec threshold for one evaluation.
type Threshold struct {
	Count    int64
	Duration time.Duration
}

// SpecMetadata describes the progress of a fired condition.
type SpecMetadata struct {
	Type     SpecType      `json:"type"`
	Count    int64         `json:"count,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// ConditionState is the temporal state of one condition for one entity.
// Methods return the next state and leave the receiver untouched, so callers
// decide when to commit.
type ConditionState struct {
	Spec        SpecType      `json:"spec"`
	Phase       Phase         `json:"phase"`
	Count       int64         `json:"count,omitempty"`
	Start       time.Time     `json:"start,omitempty"`
	LastEventAt time.Time     `json:"lastEventAt,omitempty"`
	Elapsed     time.Duration `json:"elapsed,omitempty"`
	Paused      bool          `json:"paused,omitempty"`
	Last        TriState      `json:"last"`
}

// NewConditionState returns the initial state for a spec type.
func NewConditionState(spec SpecType) ConditionState {
	return ConditionState{Spec: spec, Phase: PhaseIdle, Last: NotAvailable}
}

// Fired reports whether the condition currently holds.
func (s ConditionState) Fired() bool { return s.Phase == PhaseFired }

// Reset returns the initial state.
func (s ConditionState) Reset() ConditionState { return NewConditionState(s.Spec) }

// Metadata exposes the event count or elapsed time.
func (s ConditionState) Metadata() SpecMetadata {
	meta := SpecMetadata{Type: s.Spec}
	switch s.Spec {
	case SpecRepeating:
		meta.Count = s.Count
	case SpecDuration, SpecNoUpdate:
		meta.Duration = s.Elapsed
	}
	return meta
}

// Advance applies one evaluation result observed at the event time.
func (s ConditionState) Advance(r TriState, at time.Time, th Threshold) ConditionState {
	next := s
	next.Last = r
	switch s.Spec {
	case SpecRepeating:
		switch r {
		case True:
			next.Count++
		case False:
			next.Count = 0
		}
		next.Phase = repeatPhase(next.Count, th.Count)
	case SpecDuration:
		switch r {
		case True:
			next = next.accumulate(at)
			next.Phase = durationPhase(next.Elapsed, th.Duration)
		case False:
			next = next.Reset()
			next.Last = r
		}
	case SpecNoUpdate:
		if r == True {
			next.Start = at
			next.LastEventAt = at
			next.Elapsed = 0
			next.Phase = PhaseArmed
			break
		}
		next = next.stale(at, th.Duration)
	default:
		if r == True {
			next.Phase = PhaseFired
		} else {
			next.Phase = PhaseIdle
		}
	}
	return next
}

// Tick advances time-based specs without an event. Other specs are unchanged.
func (s ConditionState) Tick(at time.Time, th Threshold) ConditionState {
	switch s.Spec {
	case SpecDuration:
		if s.Phase == PhaseIdle || s.Paused || s.Last != True || !at.After(s.LastEventAt) {
			return s
		}
		next := s.accumulate(at)
		next.Phase = durationPhase(next.Elapsed, th.Duration)
		return next
	case SpecNoUpdate:
		return s.stale(at, th.Duration)
	default:
		return s
	}
}

// Pause freezes an in-progress duration window until the next qualifying event.
func (s ConditionState) Pause() ConditionState {
	if s.Spec != SpecDuration || s.Phase == PhaseIdle {
		return s
	}
	next := s
	next.Paused = true
	return next
}

func (s ConditionState) accumulate(at time.Time) ConditionState {
	next := s
	switch {
	case s.Phase == PhaseIdle:
		next.Start = at
		next.LastEventAt = at
		next.Elapsed = 0
	case s.Paused:
		next.LastEventAt = at
		next.Paused = false
	case at.After(s.LastEventAt):
		next.Elapsed += at.Sub(s.LastEventAt)
		next.LastEventAt = at
	}
	return next
}

func (s ConditionState) stale(at time.Time, required time.Duration) ConditionState {
	if s.Phase == PhaseIdle || !at.After(s.Start) {
		return s
	}
	next := s
	next.Elapsed = at.Sub(s.Start)
	if next.Elapsed > required {
		next.Phase = PhaseFired
	}
	return next
}

func repeatPhase(count, required int64) Phase {
	switch {
	case count <= 0:
		return PhaseIdle
	case count >= required:
		return PhaseFired
	default:
		return PhaseArmed
	}
}

func durationPhase(elapsed, required time.Duration) Phase {
	if elapsed >= required {
		return PhaseFired
	}
	return PhaseArmed
}
