package invokation

import "coderunner/internal/execution/backend"

// State is the lifecycle position of an invokation.
type State string

const (
	StateCreated     State = "Created"
	StateRunning     State = "Running"
	StateSucceeded   State = "Succeeded"
	StateFailed      State = "Failed"
	StateTimedOut    State = "TimedOut"
	StateOutOfMemory State = "OutOfMemory"
	StateRendered    State = "Rendered"
	StateSuperseded  State = "Superseded"
)

// terminalState maps a classified result onto its lifecycle state.
func terminalState(status backend.Status) State {
	switch status {
	case backend.StatusSuccess:
		return StateSucceeded
	case backend.StatusTimeout:
		return StateTimedOut
	case backend.StatusOutOfMemory:
		return StateOutOfMemory
	default:
		return StateFailed
	}
}

// Settled reports whether no attempt can run for s anymore.
func (s State) Settled() bool {
	switch s {
	case StateCreated, StateRunning:
		return false
	default:
		return true
	}
}

// HasResult reports whether a result is stored in s.
func (s State) HasResult() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateOutOfMemory, StateRendered:
		return true
	default:
		return false
	}
}
