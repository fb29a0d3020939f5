package task

// allowedTransitions is the lifecycle graph. Done and Rejected are terminal;
// nothing ever returns a task to NeedsAction.
var allowedTransitions = map[State][]State{
	StateNeedsAction:     {StatePendingApproval, StateApproved, StateRejected},
	StatePendingApproval: {StateApproved, StateRejected},
	StateApproved:        {StateDone, StateRejected},
}

// CanTransition reports whether a task may move from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
