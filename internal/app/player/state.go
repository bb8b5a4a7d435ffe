// Package player drives the output sink from the playback queue.
package player

// State represents the player loop state.
type State int

const (
	StateDisconnected State = iota // No session; no loop running
	StateAwaitingNext              // Connected, waiting on the queue
	StatePlaying                   // A song was submitted to the output
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingNext:
		return "awaiting_next"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// EndReason explains why a session was torn down.
type EndReason int

const (
	ReasonLeave EndReason = iota // Explicit leave
	ReasonIdle                   // Idle timeout with an empty queue
	ReasonFault                  // Fatal output error
	ReasonClosed                 // Player shut down
)

// String returns the string representation of the reason.
func (r EndReason) String() string {
	switch r {
	case ReasonLeave:
		return "leave"
	case ReasonIdle:
		return "idle"
	case ReasonFault:
		return "fault"
	case ReasonClosed:
		return "closed"
	default:
		return "unknown"
	}
}
