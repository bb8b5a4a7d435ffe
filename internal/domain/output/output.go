// Package output describes the audio output sink consumed by the player.
package output

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrPermissionDenied is returned when the sink may not connect to a destination.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDisconnected is returned by operations on a released connection.
	ErrDisconnected = errors.New("connection released")
	// ErrBusy is returned by Play while another song is still active.
	ErrBusy = errors.New("output is busy")
)

// CompletionFunc is called exactly once for every accepted Play call.
// err is nil when the song ended naturally or was stopped.
// It may be invoked from a goroutine owned by the sink.
type CompletionFunc func(err error)

// Output opens connections to playback destinations.
type Output interface {
	Connect(ctx context.Context, destination string) (Connection, error)
}

// Connection is a live link to one destination.
type Connection interface {
	// Destination returns the destination the connection currently renders to.
	Destination() string
	// MoveTo retargets the connection without interrupting its state.
	MoveTo(ctx context.Context, destination string) error
	// Play starts rendering locator at volume (0.0-1.0).
	Play(locator string, volume float64, onComplete CompletionFunc) error
	// Stop ends the active song; its CompletionFunc fires with nil.
	Stop()
	Pause()
	Resume()
	IsPlaying() bool
	IsPaused() bool
	// SetVolume changes the volume of the active song, if any.
	SetVolume(volume float64)
	// Disconnect releases the connection. Further calls are no-ops.
	Disconnect() error
}
