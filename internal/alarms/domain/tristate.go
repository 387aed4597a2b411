package alarms

// TriState is the result of a filter evaluation.
type TriState int8

const (
	NotAvailable TriState = iota
	True
	False
)

func (t TriState) String() string {
	switch t {
	case True:
		return "TRUE"
	case False:
		return "FALSE"
	default:
		return "NOT_AVAILABLE"
	}
}

// FromBool converts a definite boolean.
func FromBool(b bool) TriState {
	if b {
		return True
	}
	return False
}
