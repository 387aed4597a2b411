package application

import (
	"sort"

	"go.uber.org/zap"

	alarms "alarm-engine/internal/alarms/domain"
)

// FilterIndex maps tenants and entity types to the enabled rules that may apply.
// An index is immutable once built.
type FilterIndex struct {
	byTenant map[string]map[alarms.EntityType][]*alarms.AlarmRule
	count    int
}

// BuildFilterIndex validates the rules and indexes the enabled ones.
// Invalid rules are skipped and reported.
func BuildFilterIndex(rules []alarms.AlarmRule, logger *zap.Logger) (*FilterIndex, []error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := &FilterIndex{byTenant: make(map[string]map[alarms.EntityType][]*alarms.AlarmRule)}
	var errs []error
	for i := range rules {
		rule := rules[i]
		if !rule.Enabled {
			continue
		}
		if err := rule.Validate(); err != nil {
			logger.Warn("rule rejected", zap.String("rule_id", rule.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		byType := idx.byTenant[rule.TenantID]
		if byType == nil {
			byType = make(map[alarms.EntityType][]*alarms.AlarmRule)
			idx.byTenant[rule.TenantID] = byType
		}
		seen := make(map[alarms.EntityType]bool, len(rule.Sources))
		for _, src := range rule.Sources {
			if seen[src.EntityType] {
				continue
			}
			seen[src.EntityType] = true
			byType[src.EntityType] = append(byType[src.EntityType], &rule)
		}
		idx.count++
	}
	for _, byType := range idx.byTenant {
		for _, list := range byType {
			sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		}
	}
	return idx, errs
}

// Len returns the number of indexed rules.
func (i *FilterIndex) Len() int {
	if i == nil {
		return 0
	}
	return i.count
}

// Match returns the rules whose source filters cover the entity.
func (i *FilterIndex) Match(tenantID string, entity alarms.EntityID, profileID string) []*alarms.AlarmRule {
	if i == nil {
		return nil
	}
	candidates := i.byTenant[tenantID][entity.Type]
	var out []*alarms.AlarmRule
	for _, rule := range candidates {
		for _, src := range rule.Sources {
			if src.Matches(entity, profileID) {
				out = append(out, rule)
				break
			}
		}
	}
	return out
}
