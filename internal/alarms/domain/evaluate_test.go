package alarms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type mapOperands struct {
	values  map[string]Value
	updated map[string]bool
}

func (m mapOperands) Value(id string) (Value, bool) {
	v, ok := m.values[id]
	return v, ok
}

func (m mapOperands) Updated(id string) bool { return m.updated[id] }

func TestEvaluateNumeric(t *testing.T) {
	ops := mapOperands{values: map[string]Value{"temp": Number(42), "limit": Number(30)}}

	assert.Equal(t, True, Evaluate(Simple("temp", OperatorGreater, "limit"), ops))
	assert.Equal(t, False, Evaluate(Simple("temp", OperatorLess, "limit"), ops))
	assert.Equal(t, True, Evaluate(Simple("temp", OperatorNotEqual, "limit"), ops))
	assert.Equal(t, False, Evaluate(Simple("temp", OperatorLessOrEqual, "limit"), ops))
	assert.Equal(t, NotAvailable, Evaluate(Simple("missing", OperatorGreater, "limit"), ops))
}

func TestEvaluateString(t *testing.T) {
	ops := mapOperands{values: map[string]Value{
		"mode":  String("Maintenance"),
		"modes": String("idle, maintenance ,fault"),
		"pre":   String("main"),
	}}

	in := Simple("mode", OperatorIn, "modes")
	assert.Equal(t, False, Evaluate(in, ops))
	in.IgnoreCase = true
	assert.Equal(t, True, Evaluate(in, ops))

	notIn := Simple("mode", OperatorNotIn, "modes")
	notIn.IgnoreCase = true
	assert.Equal(t, False, Evaluate(notIn, ops))

	starts := Simple("mode", OperatorStartsWith, "pre")
	starts.IgnoreCase = true
	assert.Equal(t, True, Evaluate(starts, ops))
	assert.Equal(t, True, Evaluate(Simple("mode", OperatorNotContains, "pre"), ops))
}

func TestEvaluateBoolean(t *testing.T) {
	ops := mapOperands{values: map[string]Value{"door": Boolean(true), "open": Boolean(true)}}
	assert.Equal(t, True, Evaluate(Simple("door", OperatorEqual, "open"), ops))
	assert.Equal(t, False, Evaluate(Simple("door", OperatorNotEqual, "open"), ops))
}

func TestEvaluateThreeValuedLogic(t *testing.T) {
	ops := mapOperands{values: map[string]Value{"a": Number(1), "one": Number(1), "two": Number(2)}}
	tru := Simple("a", OperatorEqual, "one")
	fls := Simple("a", OperatorEqual, "two")
	na := Simple("missing", OperatorEqual, "one")

	assert.Equal(t, False, Evaluate(And(tru, na, fls), ops))
	assert.Equal(t, NotAvailable, Evaluate(And(tru, na), ops))
	assert.Equal(t, True, Evaluate(And(tru, tru), ops))

	assert.Equal(t, True, Evaluate(Or(fls, na, tru), ops))
	assert.Equal(t, NotAvailable, Evaluate(Or(fls, na), ops))
	assert.Equal(t, False, Evaluate(Or(fls, fls), ops))
}

func TestEvaluateDepthBound(t *testing.T) {
	ops := mapOperands{values: map[string]Value{"a": Number(1), "one": Number(1)}}
	f := Simple("a", OperatorEqual, "one")
	for i := 0; i < MaxFilterDepth-1; i++ {
		f = And(f)
	}
	assert.Equal(t, MaxFilterDepth, f.Depth())
	assert.Equal(t, True, Evaluate(f, ops))

	assert.Equal(t, NotAvailable, Evaluate(And(f), ops))
}

func TestEvaluatePresenceCheck(t *testing.T) {
	ops := mapOperands{updated: map[string]bool{"heartbeat": true}}
	assert.Equal(t, True, Evaluate(Present("heartbeat"), ops))
	assert.Equal(t, False, Evaluate(Present("other"), ops))
}
