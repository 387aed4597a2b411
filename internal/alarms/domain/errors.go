package alarms

import (
	"errors"
	"strings"
)

// ErrNotFound indicates a missing alarm record.
var ErrNotFound = errors.New("alarm: not found")

// ErrInvalidRule is wrapped by every rule validation failure.
var ErrInvalidRule = errors.New("alarm rule: invalid")

// ValidationError reports the location of a rule validation failure.
type ValidationError struct {
	RuleID string
	Path   []string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("alarm rule")
	if e.RuleID != "" {
		b.WriteString(" ")
		b.WriteString(e.RuleID)
	}
	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRule }

func invalid(ruleID string, path []string, reason string) error {
	return &ValidationError{RuleID: ruleID, Path: append([]string(nil), path...), Reason: reason}
}
