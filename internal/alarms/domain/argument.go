package alarms

// SourceType tells the resolver where an argument value comes from.
type SourceType string

const (
	SourceConstant   SourceType = "CONSTANT"
	SourceMessage    SourceType = "MESSAGE"
	SourceAttribute  SourceType = "ATTRIBUTE"
	SourceTimeSeries SourceType = "TIME_SERIES"
)

// Scope is the owner a stored key is read from.
type Scope string

const (
	ScopeEntity   Scope = "CURRENT_ENTITY"
	ScopeCustomer Scope = "CURRENT_CUSTOMER"
	ScopeTenant   Scope = "CURRENT_TENANT"
)

// Level returns the position of the scope in the ownership chain.
func (s Scope) Level() int {
	switch s {
	case ScopeCustomer:
		return 1
	case ScopeTenant:
		return 2
	default:
		return 0
	}
}

// Argument is a named value source referenced by filters and specs.
type Argument struct {
	Type    ValueType  `json:"valueType" yaml:"valueType"`
	Source  SourceType `json:"source" yaml:"source"`
	Key     string     `json:"key,omitempty" yaml:"key,omitempty"`
	Scope   Scope      `json:"scope,omitempty" yaml:"scope,omitempty"`
	Inherit bool       `json:"inherit,omitempty" yaml:"inherit,omitempty"`
	Value   *Value     `json:"value,omitempty" yaml:"value,omitempty"`
	Default *Value     `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
}

// Stored reports whether the argument reads a persisted key.
func (a Argument) Stored() bool {
	return a.Source == SourceAttribute || a.Source == SourceTimeSeries
}

// KeyType returns the key type the argument reads. Message arguments match any key type.
func (a Argument) KeyType() KeyType {
	if a.Source == SourceAttribute {
		return KeyAttribute
	}
	return KeyTimeSeries
}

// Matches reports whether a changed key affects the argument.
func (a Argument) Matches(key Key) bool {
	switch a.Source {
	case SourceMessage:
		return a.Key == key.Name
	case SourceAttribute:
		return key.Type == KeyAttribute && a.Key == key.Name
	case SourceTimeSeries:
		return key.Type == KeyTimeSeries && a.Key == key.Name
	default:
		return false
	}
}
