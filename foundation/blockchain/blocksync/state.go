package blocksync

import "fmt"

// State is the phase of a synchronization attempt.
type State int

// Set of synchronization phases.
const (
	Idle State = iota
	AwaitingTarget
	TransferringAccountState
	BackfillingBlocks
	RollingForward
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingTarget:
		return "awaiting-target"
	case TransferringAccountState:
		return "transferring-account-state"
	case BackfillingBlocks:
		return "backfilling-blocks"
	case RollingForward:
		return "rolling-forward"
	}
	return fmt.Sprintf("state(%d)", int(s))
}
