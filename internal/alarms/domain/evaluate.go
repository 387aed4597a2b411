package alarms

import "strings"

// Operands supplies resolved argument values to the evaluator.
type Operands interface {
	// Value returns the resolved value of an argument converted to its declared type.
	Value(argID string) (Value, bool)
	// Updated reports whether the argument's key was carried by the current event.
	Updated(argID string) bool
}

// Evaluate computes the tri-state result of a filter tree. Trees deeper than
// MaxFilterDepth evaluate to NotAvailable.
func Evaluate(f Filter, ops Operands) TriState {
	return evaluate(f, ops, 1)
}

func evaluate(f Filter, ops Operands, depth int) TriState {
	if depth > MaxFilterDepth {
		return NotAvailable
	}
	if f.Kind != FilterComplex {
		return evaluateSimple(f, ops)
	}
	switch f.Logic {
	case LogicAnd:
		result := True
		for _, child := range f.Children {
			switch evaluate(child, ops, depth+1) {
			case False:
				return False
			case NotAvailable:
				result = NotAvailable
			}
		}
		return result
	case LogicOr:
		result := False
		for _, child := range f.Children {
			switch evaluate(child, ops, depth+1) {
			case True:
				return True
			case NotAvailable:
				result = NotAvailable
			}
		}
		return result
	default:
		return NotAvailable
	}
}

func evaluateSimple(f Filter, ops Operands) TriState {
	if f.Right == "" {
		return FromBool(ops.Updated(f.Left))
	}
	left, ok := ops.Value(f.Left)
	if !ok {
		return NotAvailable
	}
	right, ok := ops.Value(f.Right)
	if !ok {
		return NotAvailable
	}
	switch left.Type {
	case ValueNumeric:
		return compareNumeric(f.Operator, left.Num, right.Num)
	case ValueBoolean:
		return compareBoolean(f.Operator, left.Bool, right.Bool)
	case ValueString:
		return compareString(f.Operator, left.Str, right.Str, f.IgnoreCase)
	default:
		return NotAvailable
	}
}

func compareNumeric(op Operator, l, r float64) TriState {
	switch op {
	case OperatorEqual:
		return FromBool(l == r)
	case OperatorNotEqual:
		return FromBool(l != r)
	case OperatorGreater:
		return FromBool(l > r)
	case OperatorLess:
		return FromBool(l < r)
	case OperatorGreaterOrEqual:
		return FromBool(l >= r)
	case OperatorLessOrEqual:
		return FromBool(l <= r)
	default:
		return NotAvailable
	}
}

func compareBoolean(op Operator, l, r bool) TriState {
	switch op {
	case OperatorEqual:
		return FromBool(l == r)
	case OperatorNotEqual:
		return FromBool(l != r)
	default:
		return NotAvailable
	}
}

func compareString(op Operator, l, r string, ignoreCase bool) TriState {
	if ignoreCase {
		l = strings.ToLower(l)
		r = strings.ToLower(r)
	}
	switch op {
	case OperatorEqual:
		return FromBool(l == r)
	case OperatorNotEqual:
		return FromBool(l != r)
	case OperatorContains:
		return FromBool(strings.Contains(l, r))
	case OperatorNotContains:
		return FromBool(!strings.Contains(l, r))
	case OperatorStartsWith:
		return FromBool(strings.HasPrefix(l, r))
	case OperatorEndsWith:
		return FromBool(strings.HasSuffix(l, r))
	case OperatorIn:
		return FromBool(inSet(l, r))
	case OperatorNotIn:
		return FromBool(!inSet(l, r))
	default:
		return NotAvailable
	}
}

func inSet(v, set string) bool {
	for _, item := range strings.Split(set, ",") {
		if strings.TrimSpace(item) == v {
			return true
		}
	}
	return false
}
