package alarms

import (
	"fmt"
	"strconv"
	"time"
)

// TargetStrategy selects the entity an alarm is recorded against.
type TargetStrategy string

const (
	TargetOriginator TargetStrategy = "ORIGINATOR"
	TargetRelated    TargetStrategy = "RELATED"
	TargetSpecified  TargetStrategy = "SPECIFIED"
)

// Target resolves the alarm entity from the originator.
type Target struct {
	Strategy     TargetStrategy `json:"strategy" yaml:"strategy"`
	EntityID     EntityID       `json:"entityId,omitempty" yaml:"entityId,omitempty"`
	RelationType string         `json:"relationType,omitempty" yaml:"relationType,omitempty"`
}

// SourceFilter selects the entities a rule applies to. Empty lists match all.
type SourceFilter struct {
	EntityType EntityType `json:"entityType" yaml:"entityType"`
	ProfileIDs []string   `json:"profileIds,omitempty" yaml:"profileIds,omitempty"`
	EntityIDs  []string   `json:"entityIds,omitempty" yaml:"entityIds,omitempty"`
}

// Matches reports whether the filter covers the entity.
func (f SourceFilter) Matches(entity EntityID, profileID string) bool {
	if f.EntityType != entity.Type {
		return false
	}
	if len(f.EntityIDs) > 0 && !containsString(f.EntityIDs, entity.ID) {
		return false
	}
	if len(f.ProfileIDs) > 0 && !containsString(f.ProfileIDs, profileID) {
		return false
	}
	return true
}

// Propagation is passed to the alarm store unchanged.
type Propagation struct {
	Propagate     bool     `json:"propagate,omitempty" yaml:"propagate,omitempty"`
	ToOwner       bool     `json:"propagateToOwner,omitempty" yaml:"propagateToOwner,omitempty"`
	ToTenant      bool     `json:"propagateToTenant,omitempty" yaml:"propagateToTenant,omitempty"`
	RelationTypes []string `json:"propagateRelationTypes,omitempty" yaml:"propagateRelationTypes,omitempty"`
}

// AlarmRule is the tenant-defined rule evaluated for matching entities.
type AlarmRule struct {
	ID        string `json:"id" yaml:"id"`
	TenantID  string `json:"tenantId" yaml:"tenantId"`
	Name      string `json:"name" yaml:"name"`
	AlarmType string `json:"alarmType" yaml:"alarmType"`
	// CreateConditions are ordered from lowest to highest severity.
	CreateConditions []SeverityCondition `json:"createConditions" yaml:"createConditions"`
	ClearCondition   *Condition          `json:"clearCondition,omitempty" yaml:"clearCondition,omitempty"`
	Arguments        map[string]Argument `json:"arguments" yaml:"arguments"`
	Sources          []SourceFilter      `json:"sources" yaml:"sources"`
	Schedule         *Schedule           `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Target           Target              `json:"target" yaml:"target"`
	Propagation      Propagation         `json:"propagation" yaml:"propagation"`
	DetailsTemplate  string              `json:"details,omitempty" yaml:"details,omitempty"`
	DashboardID      string              `json:"dashboardId,omitempty" yaml:"dashboardId,omitempty"`
	Enabled          bool                `json:"enabled" yaml:"enabled"`
	Version          int64               `json:"version" yaml:"version"`
	CreatedAt        time.Time           `json:"createdAt" yaml:"-"`
	UpdatedAt        time.Time           `json:"updatedAt" yaml:"-"`
}

// Type returns the alarm type, falling back to the rule name.
func (r AlarmRule) Type() string {
	if r.AlarmType != "" {
		return r.AlarmType
	}
	return r.Name
}

// Rank returns the position of a severity in the rule ordering, or -1.
func (r AlarmRule) Rank(severity Severity) int {
	for i, c := range r.CreateConditions {
		if c.Severity == severity {
			return i
		}
	}
	return -1
}

// Affected reports whether any changed key is read by the rule. Rules without
// key-based arguments and rules watching for missing updates are affected by
// every event.
func (r AlarmRule) Affected(changed []Key) bool {
	if r.watchesUpdates() {
		return true
	}
	keyed := false
	for _, arg := range r.Arguments {
		if arg.Source == SourceConstant {
			continue
		}
		keyed = true
		for _, key := range changed {
			if arg.Matches(key) {
				return true
			}
		}
	}
	return !keyed
}

func (r AlarmRule) watchesUpdates() bool {
	for _, c := range r.CreateConditions {
		if c.Condition.Spec.Type == SpecNoUpdate {
			return true
		}
	}
	return r.ClearCondition != nil && r.ClearCondition.Spec.Type == SpecNoUpdate
}

// Validate checks the rule definition.
func (r AlarmRule) Validate() error {
	if r.ID == "" {
		return invalid("", nil, "empty id")
	}
	if r.TenantID == "" {
		return invalid(r.ID, nil, "empty tenant id")
	}
	if r.Name == "" && r.AlarmType == "" {
		return invalid(r.ID, nil, "empty name")
	}
	if len(r.CreateConditions) == 0 {
		return invalid(r.ID, nil, "no create conditions")
	}
	for name, arg := range r.Arguments {
		if err := r.validateArgument(name, arg); err != nil {
			return err
		}
	}
	seen := make(map[Severity]struct{}, len(r.CreateConditions))
	for i, c := range r.CreateConditions {
		path := []string{"createConditions", strconv.Itoa(i)}
		if c.Severity == "" {
			return invalid(r.ID, path, "empty severity")
		}
		if _, dup := seen[c.Severity]; dup {
			return invalid(r.ID, path, fmt.Sprintf("duplicate severity %s", c.Severity))
		}
		seen[c.Severity] = struct{}{}
		if err := r.validateCondition(path, c.Condition); err != nil {
			return err
		}
	}
	if r.ClearCondition != nil {
		if err := r.validateCondition([]string{"clearCondition"}, *r.ClearCondition); err != nil {
			return err
		}
	}
	if len(r.Sources) == 0 {
		return invalid(r.ID, []string{"sources"}, "no source filters")
	}
	for i, src := range r.Sources {
		if !src.EntityType.Valid() {
			return invalid(r.ID, []string{"sources", strconv.Itoa(i)}, "invalid entity type")
		}
	}
	if r.Schedule != nil {
		if err := r.Schedule.Validate(); err != nil {
			return invalid(r.ID, []string{"schedule"}, err.Error())
		}
		if r.Schedule.ArgID != "" {
			arg, ok := r.Arguments[r.Schedule.ArgID]
			if !ok {
				return invalid(r.ID, []string{"schedule"}, "unknown argument "+r.Schedule.ArgID)
			}
			if arg.Type != ValueString {
				return invalid(r.ID, []string{"schedule"}, "schedule argument must be STRING")
			}
		}
	}
	switch r.Target.Strategy {
	case TargetOriginator, "":
	case TargetSpecified:
		if err := r.Target.EntityID.Validate(); err != nil {
			return invalid(r.ID, []string{"target"}, err.Error())
		}
	case TargetRelated:
		if r.Target.RelationType == "" {
			return invalid(r.ID, []string{"target"}, "empty relation type")
		}
	default:
		return invalid(r.ID, []string{"target"}, "unknown strategy")
	}
	return nil
}

func (r AlarmRule) validateArgument(name string, arg Argument) error {
	path := []string{"arguments", name}
	if !arg.Type.Valid() {
		return invalid(r.ID, path, "invalid value type")
	}
	switch arg.Source {
	case SourceConstant:
		if arg.Value == nil {
			return invalid(r.ID, path, "constant without value")
		}
		if _, ok := arg.Value.As(arg.Type); !ok {
			return invalid(r.ID, path, "constant does not match value type")
		}
	case SourceMessage:
		if arg.Key == "" {
			return invalid(r.ID, path, "empty key")
		}
	case SourceAttribute, SourceTimeSeries:
		if arg.Key == "" {
			return invalid(r.ID, path, "empty key")
		}
		switch arg.Scope {
		case ScopeEntity, ScopeCustomer, ScopeTenant, "":
		default:
			return invalid(r.ID, path, "invalid scope")
		}
	default:
		return invalid(r.ID, path, "invalid source")
	}
	if arg.Default != nil {
		if _, ok := arg.Default.As(arg.Type); !ok {
			return invalid(r.ID, path, "default does not match value type")
		}
	}
	return nil
}

func (r AlarmRule) validateCondition(path []string, c Condition) error {
	if !c.Spec.Type.Valid() {
		return invalid(r.ID, append(path, "spec"), "invalid spec type")
	}
	if c.Spec.ArgID != "" {
		arg, ok := r.Arguments[c.Spec.ArgID]
		if !ok {
			return invalid(r.ID, append(path, "spec"), "unknown argument "+c.Spec.ArgID)
		}
		if arg.Type != ValueNumeric {
			return invalid(r.ID, append(path, "spec"), "threshold argument must be NUMERIC")
		}
	}
	if c.Spec.Type != SpecSimple && c.Spec.ArgID == "" && c.Spec.Default <= 0 {
		return invalid(r.ID, append(path, "spec"), "missing threshold")
	}
	if c.Filter.Depth() > MaxFilterDepth {
		return invalid(r.ID, path, fmt.Sprintf("filter depth exceeds %d", MaxFilterDepth))
	}
	return r.validateFilter(append(path, "condition"), c.Filter, c.Spec.Type)
}

func (r AlarmRule) validateFilter(path []string, f Filter, spec SpecType) error {
	switch f.Kind {
	case FilterComplex:
		if f.Logic != LogicAnd && f.Logic != LogicOr {
			return invalid(r.ID, path, "invalid logic operator")
		}
		if len(f.Children) == 0 {
			return invalid(r.ID, path, "empty complex filter")
		}
		for i, child := range f.Children {
			if err := r.validateFilter(append(path, strconv.Itoa(i)), child, spec); err != nil {
				return err
			}
		}
		return nil
	case FilterSimple:
	default:
		return invalid(r.ID, path, "invalid filter type")
	}
	left, ok := r.Arguments[f.Left]
	if !ok {
		return invalid(r.ID, path, "unknown argument "+f.Left)
	}
	if f.Right == "" {
		if spec != SpecNoUpdate {
			return invalid(r.ID, path, "missing right argument")
		}
		if left.Source == SourceConstant {
			return invalid(r.ID, path, "presence check on constant")
		}
		return nil
	}
	right, ok := r.Arguments[f.Right]
	if !ok {
		return invalid(r.ID, path, "unknown argument "+f.Right)
	}
	if left.Type != right.Type {
		return invalid(r.ID, path, fmt.Sprintf("type mismatch %s vs %s", left.Type, right.Type))
	}
	if !left.Type.Allows(f.Operator) {
		return invalid(r.ID, path, fmt.Sprintf("operator %s not allowed for %s", f.Operator, left.Type))
	}
	return nil
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
