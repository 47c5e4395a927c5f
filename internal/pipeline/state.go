package pipeline

import (
	"fmt"
	"time"
)

// State is a worker lifecycle state.
type State int

const (
	// StateNew is the zero value, before the worker exists.
	StateNew State = iota
	StateSpawned
	StateDispatched
	StateRunning
	StateCompleted
	StateFailed
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSpawned:
		return "spawned"
	case StateDispatched:
		return "dispatched"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// A worker may fault before it reports running, so Dispatched can move
// straight to Failed.
var transitions = map[State][]State{
	StateNew:        {StateSpawned},
	StateSpawned:    {StateDispatched},
	StateDispatched: {StateRunning, StateFailed},
	StateRunning:    {StateCompleted, StateFailed},
	StateCompleted:  {StateReleased},
	StateFailed:     {StateReleased},
}

// CanTransition reports whether a worker in state s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateReleased
}

// Transition is one observed worker state change.
type Transition struct {
	Worker int
	From   State
	To     State
	At     time.Time
}

// Observer receives every worker state transition. It is called from the
// coordinator's receive loop and must not block.
type Observer func(Transition)

// InvalidTransitionError is returned for a transition the lifecycle does
// not allow.
type InvalidTransitionError struct {
	Worker   int
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("worker %d: invalid transition %s -> %s", e.Worker, e.From, e.To)
}

// lifecycle tracks one worker's state. Only the coordinator goroutine
// touches it.
type lifecycle struct {
	worker   int
	state    State
	observer Observer
	now      func() time.Time
}

func (l *lifecycle) advance(to State) error {
	if !l.state.CanTransition(to) {
		return &InvalidTransitionError{Worker: l.worker, From: l.state, To: to}
	}
	from := l.state
	l.state = to
	if l.observer != nil {
		l.observer(Transition{Worker: l.worker, From: from, To: to, At: l.now()})
	}
	return nil
}
