package memory

import (
	"context"
	"sort"
	"sync"

	alarms "alarm-engine/internal/alarms/domain"
)

// RuleStore keeps rule definitions in memory.
type RuleStore struct {
	mu    sync.RWMutex
	rules map[string]alarms.AlarmRule
}

// NewRuleStore constructs a store holding rules.
func NewRuleStore(rules ...alarms.AlarmRule) *RuleStore {
	s := &RuleStore{rules: make(map[string]alarms.AlarmRule, len(rules))}
	for _, rule := range rules {
		s.rules[rule.ID] = rule
	}
	return s
}

// Put adds or replaces a rule.
func (s *RuleStore) Put(rule alarms.AlarmRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
}

// Remove deletes a rule.
func (s *RuleStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
}

// ListEnabled returns enabled rules ordered by id.
func (s *RuleStore) ListEnabled(ctx context.Context) ([]alarms.AlarmRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]alarms.AlarmRule, 0, len(s.rules))
	for _, rule := range s.rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
