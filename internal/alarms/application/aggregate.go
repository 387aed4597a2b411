package application

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	alarms "alarm-engine/internal/alarms/domain"
)

// DurationPolicy controls DURATION windows while the rule schedule is inactive.
type DurationPolicy string

const (
	// DurationAccumulate lets out-of-schedule time count toward the window.
	DurationAccumulate DurationPolicy = "accumulate"
	// DurationPause freezes the window until the next in-schedule event.
	DurationPause DurationPolicy = "pause"
)

// Valid returns true when the policy is known.
func (p DurationPolicy) Valid() bool {
	return p == DurationAccumulate || p == DurationPause
}

const clearStateKey = "CLEAR"

// Decision is the outcome of one rule evaluation. States are the next
// condition states; they replace the aggregate states only on commit.
type Decision struct {
	Action alarms.Action
	// Refresh marks a fired candidate that matches the active alarm severity.
	Refresh  bool
	Metadata alarms.SpecMetadata
	Details  json.RawMessage
	At       time.Time

	create []alarms.ConditionState
	clear  alarms.ConditionState
}

// Dispatchable reports whether the decision needs an alarm store call.
func (d Decision) Dispatchable() bool {
	return d.Action.Kind != alarms.ActionNone || d.Refresh
}

// aggregate holds the condition states and active alarm of one rule for one entity.
type aggregate struct {
	rule   *alarms.AlarmRule
	entity alarms.EntityID
	target alarms.EntityID
	create []alarms.ConditionState
	clear  alarms.ConditionState
	active *alarms.Alarm
	loaded bool
}

func newAggregate(rule *alarms.AlarmRule, entity alarms.EntityID) *aggregate {
	a := &aggregate{rule: rule, entity: entity, target: entity}
	a.reset()
	return a
}

// reset returns every condition state to IDLE and forgets the active alarm.
func (a *aggregate) reset() {
	a.create = make([]alarms.ConditionState, len(a.rule.CreateConditions))
	for i, c := range a.rule.CreateConditions {
		a.create[i] = alarms.NewConditionState(c.Condition.Spec.Type)
	}
	a.clear = alarms.NewConditionState(alarms.SpecSimple)
	if a.rule.ClearCondition != nil {
		a.clear = alarms.NewConditionState(a.rule.ClearCondition.Spec.Type)
	}
	a.active = nil
}

func (a *aggregate) decide(ops *operands, at time.Time, policy DurationPolicy, logger *zap.Logger) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("alarms: rule %s panicked: %v", a.rule.ID, r)
		}
	}()
	d = a.draft(at)

	if sched := ops.schedule(logger); sched != nil && !sched.IsActive(at) {
		if policy == DurationPause {
			d.pause()
		}
		if a.active == nil {
			return d, nil
		}
		a.evaluateClear(&d, ops, at)
		return d, nil
	}

	if a.evaluateClear(&d, ops, at) {
		return d, nil
	}
	for i, c := range a.rule.CreateConditions {
		r := alarms.Evaluate(c.Condition.Filter, ops)
		d.create[i] = d.create[i].Advance(r, at, ops.threshold(c.Condition.Spec))
	}
	a.settle(&d, ops, true)
	return d, nil
}

// harvest advances time-based states to at without an inbound event.
func (a *aggregate) harvest(ops *operands, at time.Time, policy DurationPolicy, logger *zap.Logger) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("alarms: rule %s panicked: %v", a.rule.ID, r)
		}
	}()
	d = a.draft(at)

	if sched := ops.schedule(logger); sched != nil && !sched.IsActive(at) {
		if policy == DurationPause {
			d.pause()
		}
		return d, nil
	}
	if a.active != nil && a.rule.ClearCondition != nil {
		d.clear = d.clear.Tick(at, ops.threshold(a.rule.ClearCondition.Spec))
		if d.clear.Fired() {
			a.cleared(&d, ops)
			return d, nil
		}
	}
	for i, c := range a.rule.CreateConditions {
		d.create[i] = d.create[i].Tick(at, ops.threshold(c.Condition.Spec))
	}
	a.settle(&d, ops, false)
	return d, nil
}

func (a *aggregate) draft(at time.Time) Decision {
	d := Decision{Action: alarms.None, At: at, clear: a.clear}
	d.create = append([]alarms.ConditionState(nil), a.create...)
	return d
}

func (d *Decision) pause() {
	for i := range d.create {
		d.create[i] = d.create[i].Pause()
	}
}

// evaluateClear advances the clear condition while an alarm is active and
// reports whether it fired.
func (a *aggregate) evaluateClear(d *Decision, ops *operands, at time.Time) bool {
	if a.active == nil || a.rule.ClearCondition == nil {
		return false
	}
	c := a.rule.ClearCondition
	r := alarms.Evaluate(c.Filter, ops)
	d.clear = d.clear.Advance(r, at, ops.threshold(c.Spec))
	if !d.clear.Fired() {
		return false
	}
	a.cleared(d, ops)
	return true
}

func (a *aggregate) cleared(d *Decision, ops *operands) {
	d.Action = alarms.Action{Kind: alarms.ActionClear}
	d.Metadata = d.clear.Metadata()
	d.Details = renderDetails(a.rule, ops, d.Metadata)
	for i := range d.create {
		d.create[i] = d.create[i].Reset()
	}
	d.clear = d.clear.Reset()
}

// settle picks the highest fired severity and derives the lifecycle action.
func (a *aggregate) settle(d *Decision, ops *operands, refresh bool) {
	candidate := -1
	for i, s := range d.create {
		if s.Fired() {
			candidate = i
		}
	}
	if candidate < 0 {
		return
	}
	severity := a.rule.CreateConditions[candidate].Severity
	d.Metadata = d.create[candidate].Metadata()
	switch {
	case a.active == nil:
		d.Action = alarms.Action{Kind: alarms.ActionCreate, Severity: severity}
	case a.active.Severity != severity:
		d.Action = alarms.Action{Kind: alarms.ActionUpdateSeverity, Severity: severity}
	case refresh:
		d.Action = alarms.Action{Kind: alarms.ActionNone, Severity: severity}
		d.Refresh = true
	default:
		return
	}
	d.Details = renderDetails(a.rule, ops, d.Metadata)
}

// changed reports whether committing the decision would alter any state.
func (a *aggregate) changed(d Decision) bool {
	if d.clear != a.clear {
		return true
	}
	for i := range d.create {
		if d.create[i] != a.create[i] {
			return true
		}
	}
	return false
}

// commit applies the decision. Created or escalated alarms stay provisional
// until the store returns the authoritative record.
func (a *aggregate) commit(d Decision) *alarms.Alarm {
	a.create = d.create
	a.clear = d.clear
	switch d.Action.Kind {
	case alarms.ActionCreate:
		a.active = &alarms.Alarm{
			TenantID:   a.rule.TenantID,
			Type:       a.rule.Type(),
			RuleID:     a.rule.ID,
			Originator: a.target,
			Severity:   d.Action.Severity,
			Status:     alarms.StatusActive,
			StartAt:    d.At,
		}
	case alarms.ActionUpdateSeverity:
		next := *a.active
		next.Severity = d.Action.Severity
		a.active = &next
	case alarms.ActionClear:
		a.active = nil
	}
	return a.active
}

// attach replaces a provisional alarm with the stored one.
func (a *aggregate) attach(provisional *alarms.Alarm, stored alarms.Alarm) {
	if a.active == nil || a.active != provisional {
		return
	}
	a.active = &stored
}

func (a *aggregate) states() map[string]alarms.ConditionState {
	out := make(map[string]alarms.ConditionState, len(a.create)+1)
	for i, c := range a.rule.CreateConditions {
		out[string(c.Severity)] = a.create[i]
	}
	if a.rule.ClearCondition != nil {
		out[clearStateKey] = a.clear
	}
	return out
}

// restore loads persisted states whose spec type still matches the rule.
func (a *aggregate) restore(states map[string]alarms.ConditionState) {
	for i, c := range a.rule.CreateConditions {
		if s, ok := states[string(c.Severity)]; ok && s.Spec == c.Condition.Spec.Type {
			a.create[i] = s
		}
	}
	if a.rule.ClearCondition != nil {
		if s, ok := states[clearStateKey]; ok && s.Spec == a.rule.ClearCondition.Spec.Type {
			a.clear = s
		}
	}
}
