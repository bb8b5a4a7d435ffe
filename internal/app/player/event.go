package player

import "github.com/osa030/nyxbox/internal/domain/track"

// EventType represents a player event type.
type EventType int

const (
	EventSessionStarted EventType = iota // Connected and loop spawned
	EventSessionMoved                    // Connection moved to another destination
	EventSessionEnded                    // Session torn down
	EventTrackStarted                    // Song submitted to the output
	EventTrackEnded                      // Song completed or was stopped
	EventStateChanged                    // Pause/resume
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventSessionStarted:
		return "session_started"
	case EventSessionMoved:
		return "session_moved"
	case EventSessionEnded:
		return "session_ended"
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventStateChanged:
		return "state_changed"
	default:
		return "unknown"
	}
}

// Event represents a player event.
type Event struct {
	Type        EventType
	SessionID   string
	Destination string
	Entry       *track.Entry // Song concerned (nil for session events)
	Paused      bool         // EventStateChanged only
	Reason      EndReason    // EventSessionEnded only
	Err         error        // Cause of a fault
}
