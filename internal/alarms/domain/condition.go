package alarms

import "time"

// SpecType selects the temporal semantics of a condition.
type SpecType string

const (
	SpecSimple    SpecType = "SIMPLE"
	SpecDuration  SpecType = "DURATION"
	SpecRepeating SpecType = "REPEATING"
	SpecNoUpdate  SpecType = "NO_UPDATE"
)

// Valid returns true when spec type is supported.
func (t SpecType) Valid() bool {
	switch t {
	case SpecSimple, SpecDuration, SpecRepeating, SpecNoUpdate:
		return true
	default:
		return false
	}
}

// Timed reports whether the spec threshold is a duration.
func (t SpecType) Timed() bool {
	return t == SpecDuration || t == SpecNoUpdate
}

// TimeUnit scales duration thresholds.
type TimeUnit string

const (
	UnitMilliseconds TimeUnit = "MILLISECONDS"
	UnitSeconds      TimeUnit = "SECONDS"
	UnitMinutes      TimeUnit = "MINUTES"
	UnitHours        TimeUnit = "HOURS"
	UnitDays         TimeUnit = "DAYS"
)

// Duration converts an amount of the unit. Unknown units read as seconds.
func (u TimeUnit) Duration(amount float64) time.Duration {
	var base time.Duration
	switch u {
	case UnitMilliseconds:
		base = time.Millisecond
	case UnitMinutes:
		base = time.Minute
	case UnitHours:
		base = time.Hour
	case UnitDays:
		base = 24 * time.Hour
	default:
		base = time.Second
	}
	return time.Duration(amount * float64(base))
}

// Spec describes when a condition fires.
type Spec struct {
	Type SpecType `json:"type" yaml:"type"`
	// ArgID optionally names the argument that supplies the threshold.
	ArgID   string   `json:"argId,omitempty" yaml:"argId,omitempty"`
	Default float64  `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	Unit    TimeUnit `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Condition pairs a filter tree with its temporal spec.
type Condition struct {
	Filter Filter `json:"condition" yaml:"condition"`
	Spec   Spec   `json:"spec" yaml:"spec"`
}

// SeverityCondition is a create condition for one severity.
type SeverityCondition struct {
	Severity  Severity  `json:"severity" yaml:"severity"`
	Condition Condition `json:"condition" yaml:"condition"`
}

// Severity of an alarm. Ordering comes from the rule, not from the name.
type Severity string

const (
	SeverityCritical      Severity = "CRITICAL"
	SeverityMajor         Severity = "MAJOR"
	SeverityMinor         Severity = "MINOR"
	SeverityWarning       Severity = "WARNING"
	SeverityIndeterminate Severity = "INDETERMINATE"
)
