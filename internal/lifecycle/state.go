package lifecycle

// State is the observable lifecycle state of the managed server.
type State int

// Lifecycle states. Starting and Stopping are transitional and always
// delivered synchronously from Start/Stop; the other three are terminal
// for the call that produced them.
const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = map[State]string{
	StateStarting: "starting",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateStopped:  "stopped",
	StateFailed:   "failed",
}

// String returns the lowercase name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Transition is one state-change event. Err is set only when State is
// StateFailed.
type Transition struct {
	State State
	Err   error
}

// Callback receives state transitions. The transitional state is delivered
// synchronously on the caller's goroutine; the terminal state arrives later
// on the lifecycle worker, so implementations must be safe to invoke from a
// non-caller execution context.
type Callback func(Transition)

// notify invokes the callback if one was supplied.
func notify(onState Callback, tr Transition) {
	if onState != nil {
		onState(tr)
	}
}
