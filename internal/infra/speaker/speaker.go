// Package speaker renders playback to the local sound device with beep.
package speaker

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"github.com/osa030/nyxbox/internal/domain/output"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrUnavailable       = errors.New("audio output not available in this build")
)

// Config holds speaker configuration.
type Config struct {
	SampleRate   int           // Device sample rate in Hz
	BufferSize   time.Duration // Device buffer length
	Destinations []string      // Allowed destinations; empty allows any
}

var _ output.Output = (*Output)(nil)

// New creates an output for the local sound device.
func New(cfg Config) *Output {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100 * time.Millisecond
	}
	return &Output{
		cfg:        cfg,
		sampleRate: beep.SampleRate(cfg.SampleRate),
	}
}

// allowed reports whether the configured allow-list admits destination.
func (c Config) allowed(destination string) bool {
	if len(c.Destinations) == 0 {
		return true
	}
	return slices.Contains(c.Destinations, destination)
}

func (c Config) checkDestination(destination string) error {
	if !c.allowed(destination) {
		return errors.Wrapf(output.ErrPermissionDenied, "destination %q is not allowed", destination)
	}
	return nil
}

// decode opens locator and picks a decoder by file extension.
func decode(locator string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(locator)
	if err != nil {
		return nil, beep.Format{}, errors.Wrapf(err, "failed to open %s", locator)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(locator)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	case ".ogg":
		streamer, format, err = vorbis.Decode(f)
	default:
		_ = f.Close()
		return nil, beep.Format{}, errors.Wrapf(ErrUnsupportedFormat, "%s", locator)
	}
	if err != nil {
		_ = f.Close()
		return nil, beep.Format{}, errors.Wrapf(err, "failed to decode %s", locator)
	}
	return &fileStreamer{StreamSeekCloser: streamer, file: f}, format, nil
}

// fileStreamer closes the underlying file along with the decoder.
type fileStreamer struct {
	beep.StreamSeekCloser
	file *os.File
}

func (s *fileStreamer) Close() error {
	err := s.StreamSeekCloser.Close()
	_ = s.file.Close()
	return err
}
