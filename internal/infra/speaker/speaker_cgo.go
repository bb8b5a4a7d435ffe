//go:build (linux && cgo) || windows || darwin

package speaker

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nyxbox/internal/domain/output"
)

// AudioAvailable indicates whether audio playback is supported in this build.
const AudioAvailable = true

// Output opens connections to the local sound device.
type Output struct {
	mu          sync.Mutex
	cfg         Config
	sampleRate  beep.SampleRate
	initialized bool
}

// Connect initializes the device on first use and returns a connection.
func (o *Output) Connect(ctx context.Context, destination string) (output.Connection, error) {
	if err := o.cfg.checkDestination(destination); err != nil {
		return nil, err
	}
	if err := o.init(); err != nil {
		return nil, err
	}
	zlog.Debug().Msgf("speaker: connected: destination=%s", destination)
	return &Connection{out: o, destination: destination}, nil
}

func (o *Output) init() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.initialized {
		return nil
	}
	if err := speaker.Init(o.sampleRate, o.sampleRate.N(o.cfg.BufferSize)); err != nil {
		return errors.Wrap(err, "failed to initialize speaker")
	}
	o.initialized = true
	return nil
}

// Connection renders one song at a time to the speaker.
type Connection struct {
	out *Output

	mu           sync.Mutex
	destination  string
	disconnected bool

	streamer   beep.StreamSeekCloser
	ctrl       *beep.Ctrl
	gain       *effects.Gain
	playID     uint64
	onComplete output.CompletionFunc
}

var _ output.Connection = (*Connection)(nil)

func (c *Connection) Destination() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destination
}

func (c *Connection) MoveTo(ctx context.Context, destination string) error {
	if err := c.out.cfg.checkDestination(destination); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return output.ErrDisconnected
	}
	c.destination = destination
	return nil
}

func (c *Connection) Play(locator string, volume float64, onComplete output.CompletionFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disconnected {
		return output.ErrDisconnected
	}
	if c.ctrl != nil {
		return output.ErrBusy
	}

	streamer, format, err := decode(locator)
	if err != nil {
		return err
	}

	resampled := beep.Resample(4, format.SampleRate, c.out.sampleRate, streamer)
	c.streamer = streamer
	c.ctrl = &beep.Ctrl{Streamer: resampled}
	c.gain = &effects.Gain{Streamer: c.ctrl, Gain: volume - 1}
	c.onComplete = onComplete
	c.playID++
	id := c.playID

	speaker.Play(beep.Seq(c.gain, beep.Callback(func() {
		// Runs on the speaker goroutine with the speaker lock held.
		go c.complete(id, streamer.Err())
	})))
	return nil
}

// complete releases the song with the given play ID and fires its callback once.
func (c *Connection) complete(id uint64, err error) {
	c.mu.Lock()
	if id != c.playID || c.onComplete == nil {
		c.mu.Unlock()
		return
	}
	done := c.onComplete
	c.releaseLocked()
	c.mu.Unlock()

	done(err)
}

func (c *Connection) releaseLocked() {
	if c.ctrl != nil {
		speaker.Lock()
		c.ctrl.Streamer = nil
		speaker.Unlock()
	}
	if c.streamer != nil {
		if err := c.streamer.Close(); err != nil {
			zlog.Warn().Msgf("speaker: close failed: err=%v", err)
		}
	}
	c.streamer = nil
	c.ctrl = nil
	c.gain = nil
	c.onComplete = nil
}

func (c *Connection) Stop() {
	c.mu.Lock()
	id := c.playID
	active := c.ctrl != nil
	c.mu.Unlock()

	if active {
		c.complete(id, nil)
	}
}

func (c *Connection) Pause() {
	c.setPaused(true)
}

func (c *Connection) Resume() {
	c.setPaused(false)
}

func (c *Connection) setPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctrl == nil {
		return
	}
	speaker.Lock()
	c.ctrl.Paused = paused
	speaker.Unlock()
}

func (c *Connection) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctrl == nil {
		return false
	}
	speaker.Lock()
	defer speaker.Unlock()
	return !c.ctrl.Paused
}

func (c *Connection) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctrl == nil {
		return false
	}
	speaker.Lock()
	defer speaker.Unlock()
	return c.ctrl.Paused
}

func (c *Connection) SetVolume(volume float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gain == nil {
		return
	}
	speaker.Lock()
	c.gain.Gain = volume - 1
	speaker.Unlock()
}

func (c *Connection) Disconnect() error {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	zlog.Debug().Msgf("speaker: disconnected: destination=%s", c.destination)
	return nil
}
