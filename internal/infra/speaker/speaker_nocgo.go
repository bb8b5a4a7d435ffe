//go:build !((linux && cgo) || windows || darwin)

package speaker

import (
	"context"

	"github.com/gopxl/beep/v2"

	"github.com/osa030/nyxbox/internal/domain/output"
)

// AudioAvailable indicates whether audio playback is supported in this build.
// Audio requires CGO for native sound libraries.
const AudioAvailable = false

// Output refuses every connection when built without audio support.
type Output struct {
	cfg        Config
	sampleRate beep.SampleRate
}

// Connect always fails with ErrUnavailable.
func (o *Output) Connect(ctx context.Context, destination string) (output.Connection, error) {
	if err := o.cfg.checkDestination(destination); err != nil {
		return nil, err
	}
	return nil, ErrUnavailable
}
