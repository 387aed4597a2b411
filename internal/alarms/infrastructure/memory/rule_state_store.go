package memory

import (
	"context"
	"sync"

	alarms "alarm-engine/internal/alarms/domain"
)

type stateKey struct {
	entity alarms.EntityID
	ruleID string
}

// RuleStateStore keeps persisted condition states in memory.
type RuleStateStore struct {
	mu     sync.Mutex
	states map[stateKey]map[string]alarms.ConditionState
}

// NewRuleStateStore constructs an empty store.
func NewRuleStateStore() *RuleStateStore {
	return &RuleStateStore{states: make(map[stateKey]map[string]alarms.ConditionState)}
}

// Load returns a copy of the stored states.
func (s *RuleStateStore) Load(ctx context.Context, entity alarms.EntityID, ruleID string) (map[string]alarms.ConditionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyStates(s.states[stateKey{entity: entity, ruleID: ruleID}]), nil
}

// Save replaces the stored states.
func (s *RuleStateStore) Save(ctx context.Context, entity alarms.EntityID, ruleID string, states map[string]alarms.ConditionState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey{entity: entity, ruleID: ruleID}] = copyStates(states)
	return nil
}

// Delete removes the stored states.
func (s *RuleStateStore) Delete(ctx context.Context, entity alarms.EntityID, ruleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stateKey{entity: entity, ruleID: ruleID})
	return nil
}

func copyStates(in map[string]alarms.ConditionState) map[string]alarms.ConditionState {
	if in == nil {
		return nil
	}
	out := make(map[string]alarms.ConditionState, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
