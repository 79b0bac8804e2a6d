package processor

import "fmt"

// Verdict is the outcome of verifying a block.
type Verdict int

// Set of verification outcomes.
const (
	Valid Verdict = iota + 1
	Invalid
	Indeterminate
)

// String implements the fmt.Stringer interface.
func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case Indeterminate:
		return "indeterminate"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// SubState describes what the processor is doing while the node operates.
type SubState int

// Set of processor sub-states.
const (
	Idle SubState = iota
	Proposing
)

// String implements the fmt.Stringer interface.
func (s SubState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Proposing:
		return "proposing"
	}
	return fmt.Sprintf("substate(%d)", int(s))
}
