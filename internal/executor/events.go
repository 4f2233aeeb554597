package executor

import (
	"time"

	"github.com/mateo/agentbox/internal/agent"
)

// State is a session state. Rejected, Failed, Cancelled and Ready are
// terminal for the executor.
type State string

const (
	StateSelected       State = "selected"
	StateBound          State = "bound"
	StatePreparing      State = "preparing"
	StateInstalling     State = "installing"
	StateAuthenticating State = "authenticating"
	StateDeploying      State = "deploying"
	StateReady          State = "ready"
	StateRejected       State = "rejected"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

// Terminal reports whether no further events follow s.
func (s State) Terminal() bool {
	switch s {
	case StateReady, StateRejected, StateFailed, StateCancelled:
		return true
	}
	return false
}

// PhaseRuntime labels runtime scripts, which run before the agent phases.
const PhaseRuntime agent.Phase = "runtime"

var phaseStates = map[agent.Phase]State{
	PhaseRuntime:            StatePreparing,
	agent.PhaseInstall:      StateInstalling,
	agent.PhaseAuthenticate: StateAuthenticating,
	agent.PhaseDeploy:       StateDeploying,
}

// Event is one state transition of a session.
type Event struct {
	SessionID string
	AgentID   string
	State     State
	// Phase is set when entering a phase state, and on a terminal event
	// caused by a phase.
	Phase agent.Phase
	Time  time.Time
	// Elapsed is the time since the session started.
	Elapsed time.Duration
	// Err is set on Rejected, Failed and Cancelled.
	Err error
}

// Sink receives session events in order. Emit must not block for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Sinks fans an event out to every sink in order.
type Sinks []Sink

func (s Sinks) Emit(e Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(e)
		}
	}
}
