package mintd

import (
	"fmt"

	"mintbot/services/mintd/randomness"
)

// Network names a mint target.
type Network string

// Mint targets.
const (
	NetworkPrimary   Network = "primary"
	NetworkSecondary Network = "secondary"
)

// CycleState is the selector's view of the current cycle.
type CycleState struct {
	Length      int `json:"length"`
	Position    int `json:"position"`
	PrimarySlot int `json:"primary_slot"`
}

// Selector yields exactly one primary per cycle. Cycle lengths and the primary
// slot are drawn from the randomness source at the start of every cycle.
type Selector struct {
	src     randomness.Source
	options []int
	state   CycleState
}

// NewSelector validates the cycle options and starts the first cycle.
func NewSelector(src randomness.Source, options []int) (*Selector, error) {
	if src == nil {
		return nil, fmt.Errorf("mintd: selector requires a randomness source")
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("mintd: cycle options required")
	}
	for _, opt := range options {
		if opt < 1 {
			return nil, fmt.Errorf("mintd: cycle length %d must be positive", opt)
		}
	}
	s := &Selector{src: src, options: append([]int(nil), options...)}
	s.startCycle()
	return s, nil
}

func (s *Selector) startCycle() {
	length := randomness.NextChoice(s.src, s.options)
	s.state = CycleState{Length: length, Position: 0, PrimarySlot: s.src.NextInt(length)}
}

// Next returns the network for the next iteration.
func (s *Selector) Next() Network {
	network := NetworkSecondary
	if s.state.Position == s.state.PrimarySlot {
		network = NetworkPrimary
	}
	s.state.Position++
	if s.state.Position >= s.state.Length {
		s.startCycle()
	}
	return network
}

// State returns the current cycle.
func (s *Selector) State() CycleState {
	return s.state
}
