package work

// State is a WorkItem lifecycle state.
type State string

const (
	StateNew            State = "NEW"
	StateQueued         State = "QUEUED"
	StateAssigned       State = "ASSIGNED"
	StateInProgress     State = "IN_PROGRESS"
	StateCompleted      State = "COMPLETED"
	StateFailedRetry    State = "FAILED_RETRY"
	StateFailedTerminal State = "FAILED_TERMINAL"
	StateEscalated      State = "ESCALATED"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailedTerminal, StateEscalated:
		return true
	}
	return false
}

// Active reports whether an item in this state is tracked by the SLA timer.
func (s State) Active() bool {
	switch s {
	case StateQueued, StateAssigned, StateInProgress:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateNew:         {StateQueued},
	StateQueued:      {StateAssigned},
	StateAssigned:    {StateInProgress},
	StateInProgress:  {StateCompleted, StateFailedRetry, StateFailedTerminal, StateEscalated},
	StateFailedRetry: {StateQueued},
}

// CanTransition reports whether from → to is a legal state machine edge.
// Withdrawal is the one exception handled separately: any non-terminal state
// may move directly to FAILED_TERMINAL when the tracker item disappears.
func CanTransition(from, to State) bool {
	if !from.Terminal() && to == StateFailedTerminal {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
