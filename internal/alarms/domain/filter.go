package alarms

// MaxFilterDepth bounds the nesting of complex filters.
const MaxFilterDepth = 5

// FilterKind tags the filter variant.
type FilterKind string

const (
	FilterSimple  FilterKind = "SIMPLE"
	FilterComplex FilterKind = "COMPLEX"
)

// Operator compares two argument values.
type Operator string

const (
	OperatorEqual          Operator = "EQUAL"
	OperatorNotEqual       Operator = "NOT_EQUAL"
	OperatorGreater        Operator = "GREATER"
	OperatorLess           Operator = "LESS"
	OperatorGreaterOrEqual Operator = "GREATER_OR_EQUAL"
	OperatorLessOrEqual    Operator = "LESS_OR_EQUAL"
	OperatorContains       Operator = "CONTAINS"
	OperatorNotContains    Operator = "NOT_CONTAINS"
	OperatorStartsWith     Operator = "STARTS_WITH"
	OperatorEndsWith       Operator = "ENDS_WITH"
	OperatorIn             Operator = "IN"
	OperatorNotIn          Operator = "NOT_IN"
)

// LogicOperator joins complex filter children.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// Allows reports whether op is defined for the value type.
func (t ValueType) Allows(op Operator) bool {
	switch t {
	case ValueNumeric:
		switch op {
		case OperatorEqual, OperatorNotEqual, OperatorGreater, OperatorLess, OperatorGreaterOrEqual, OperatorLessOrEqual:
			return true
		}
	case ValueString:
		switch op {
		case OperatorEqual, OperatorNotEqual, OperatorContains, OperatorNotContains,
			OperatorStartsWith, OperatorEndsWith, OperatorIn, OperatorNotIn:
			return true
		}
	case ValueBoolean:
		return op == OperatorEqual || op == OperatorNotEqual
	}
	return false
}

// Filter is either a simple comparison or an AND/OR group of filters.
type Filter struct {
	Kind FilterKind `json:"type" yaml:"type"`

	Left       string   `json:"leftArgId,omitempty" yaml:"leftArgId,omitempty"`
	Right      string   `json:"rightArgId,omitempty" yaml:"rightArgId,omitempty"`
	Operator   Operator `json:"operation,omitempty" yaml:"operation,omitempty"`
	IgnoreCase bool     `json:"ignoreCase,omitempty" yaml:"ignoreCase,omitempty"`

	Logic    LogicOperator `json:"logic,omitempty" yaml:"logic,omitempty"`
	Children []Filter      `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Simple builds a simple filter.
func Simple(left string, op Operator, right string) Filter {
	return Filter{Kind: FilterSimple, Left: left, Operator: op, Right: right}
}

// Present builds a single-argument presence filter used by NO_UPDATE conditions.
func Present(left string) Filter {
	return Filter{Kind: FilterSimple, Left: left}
}

// And groups filters with AND.
func And(children ...Filter) Filter {
	return Filter{Kind: FilterComplex, Logic: LogicAnd, Children: children}
}

// Or groups filters with OR.
func Or(children ...Filter) Filter {
	return Filter{Kind: FilterComplex, Logic: LogicOr, Children: children}
}

// Walk calls fn for every simple filter in tree order.
func (f Filter) Walk(fn func(Filter)) {
	if f.Kind == FilterComplex {
		for _, child := range f.Children {
			child.Walk(fn)
		}
		return
	}
	fn(f)
}

// Depth returns the nesting depth; a simple filter has depth 1.
func (f Filter) Depth() int {
	if f.Kind != FilterComplex {
		return 1
	}
	max := 0
	for _, child := range f.Children {
		if d := child.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}
