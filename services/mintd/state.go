package mintd

import "fmt"

// State is the scheduler loop position.
type State string

// Loop states.
const (
	StateIdle              State = "idle"
	StateSleeping          State = "sleeping"
	StateSelectingNetwork  State = "selecting_network"
	StateCheckingAdmission State = "checking_admission"
	StatePaused            State = "paused"
	StateMinting           State = "minting"
	StateRecording         State = "recording"
	StateBackingUp         State = "backing_up"
	StateStopped           State = "stopped"
)

var transitions = map[State][]State{
	StateIdle:              {StateSleeping, StateStopped},
	StateSleeping:          {StateSelectingNetwork, StateStopped},
	StateSelectingNetwork:  {StateCheckingAdmission, StateStopped},
	StateCheckingAdmission: {StateMinting, StatePaused, StateSleeping, StateStopped},
	StatePaused:            {StateSelectingNetwork, StateStopped},
	StateMinting:           {StateRecording},
	StateRecording:         {StateBackingUp, StateSleeping, StateStopped},
	StateBackingUp:         {StateSleeping, StateStopped},
	StateStopped:           {StateIdle},
}

// CanTransition reports whether the loop may move from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IllegalTransitionError reports an attempted move outside the transition table.
type IllegalTransitionError struct {
	From State
	To   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("mintd: illegal transition %s -> %s", e.From, e.To)
}
