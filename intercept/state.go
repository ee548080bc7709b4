package intercept

import "fmt"

// State is the lifecycle position of a run.
type State int

const (
	StateNotStarted State = iota
	StateResolving
	StateExecuting
	StateSucceeded
	StateFailed
	StateRetrying
	StateFinalizing
	StateCleaningUp
	StateDone
)

var stateNames = [...]string{
	StateNotStarted: "NotStarted",
	StateResolving:  "Resolving",
	StateExecuting:  "Executing",
	StateSucceeded:  "Succeeded",
	StateFailed:     "Failed",
	StateRetrying:   "Retrying",
	StateFinalizing: "Finalizing",
	StateCleaningUp: "CleaningUp",
	StateDone:       "Done",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var transitions = map[State][]State{
	StateNotStarted: {StateResolving},
	StateResolving:  {StateExecuting, StateFailed},
	StateExecuting:  {StateSucceeded, StateFailed},
	StateSucceeded:  {StateFinalizing},
	StateFailed:     {StateRetrying, StateFinalizing},
	StateRetrying:   {StateExecuting},
	StateFinalizing: {StateCleaningUp},
	StateCleaningUp: {StateDone},
}

// CanTransition reports whether the run may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// advance moves the run forward. An illegal move is a pipeline bug.
func (c *AspectContext) advance(next State) {
	if !c.state.CanTransition(next) {
		panic(fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, next))
	}
	c.state = next
}
