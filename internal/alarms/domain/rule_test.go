package alarms

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v Value) *Value { return &v }

func validRule() AlarmRule {
	return AlarmRule{
		ID:        "rule-1",
		TenantID:  "tenant-1",
		Name:      "High Temperature",
		AlarmType: "High Temperature",
		Arguments: map[string]Argument{
			"temperature": {Type: ValueNumeric, Source: SourceTimeSeries, Key: "temperature", Scope: ScopeEntity},
			"limit":       {Type: ValueNumeric, Source: SourceConstant, Value: ptr(Number(30))},
		},
		CreateConditions: []SeverityCondition{{
			Severity:  SeverityCritical,
			Condition: Condition{Filter: Simple("temperature", OperatorGreater, "limit"), Spec: Spec{Type: SpecSimple}},
		}},
		Sources: []SourceFilter{{EntityType: EntityDevice}},
		Enabled: true,
	}
}

func TestRuleValidate(t *testing.T) {
	require.NoError(t, validRule().Validate())
}

func TestRuleValidateRejects(t *testing.T) {
	cases := map[string]func(r *AlarmRule){
		"type mismatch": func(r *AlarmRule) {
			r.Arguments["limit"] = Argument{Type: ValueString, Source: SourceConstant, Value: ptr(String("30"))}
		},
		"operator not allowed": func(r *AlarmRule) {
			r.CreateConditions[0].Condition.Filter.Operator = OperatorContains
		},
		"depth exceeded": func(r *AlarmRule) {
			f := r.CreateConditions[0].Condition.Filter
			for i := 0; i < MaxFilterDepth; i++ {
				f = And(f)
			}
			r.CreateConditions[0].Condition.Filter = f
		},
		"missing right argument": func(r *AlarmRule) {
			r.CreateConditions[0].Condition.Filter = Present("temperature")
		},
		"duplicate severity": func(r *AlarmRule) {
			r.CreateConditions = append(r.CreateConditions, r.CreateConditions[0])
		},
		"duration without threshold": func(r *AlarmRule) {
			r.CreateConditions[0].Condition.Spec = Spec{Type: SpecDuration}
		},
		"unknown argument": func(r *AlarmRule) {
			r.CreateConditions[0].Condition.Filter.Right = "nope"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := validRule()
			mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRule))
		})
	}
}

func TestRuleValidateNoUpdatePresence(t *testing.T) {
	r := validRule()
	r.CreateConditions[0].Condition = Condition{
		Filter: Present("temperature"),
		Spec:   Spec{Type: SpecNoUpdate, Default: 5, Unit: UnitSeconds},
	}
	require.NoError(t, r.Validate())
}

func TestRuleAffected(t *testing.T) {
	r := validRule()
	assert.True(t, r.Affected([]Key{{Type: KeyTimeSeries, Name: "temperature"}}))
	assert.False(t, r.Affected([]Key{{Type: KeyAttribute, Name: "temperature"}}))
	assert.False(t, r.Affected([]Key{{Type: KeyAttribute, Name: "firmware"}}))

	r.Arguments = map[string]Argument{"limit": r.Arguments["limit"]}
	assert.True(t, r.Affected(nil), "rules without keyed arguments always run")

	stale := validRule()
	stale.CreateConditions[0].Condition = Condition{
		Filter: Present("temperature"),
		Spec:   Spec{Type: SpecNoUpdate, Default: 5, Unit: UnitSeconds},
	}
	assert.True(t, stale.Affected([]Key{{Type: KeyAttribute, Name: "firmware"}}))
}
