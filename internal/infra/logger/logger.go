// Package logger configures the global zerolog logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Config represents logger configuration.
type Config struct {
	Output string // "stdout", "stderr" or "file"
	Level  string // "trace", "debug", "info", "warn", "error"
	File   string // log file path when Output is "file"
}

func (c Config) console() bool {
	switch strings.ToLower(c.Output) {
	case "", "stdout", "stderr":
		return true
	}
	return false
}

// Init initializes the global logger. The returned closer releases the log
// file, if any.
func Init(cfg Config) (io.Closer, error) {
	level := ParseLevel(cfg.Level)

	w, closer, err := openWriter(cfg)
	if err != nil {
		return nil, err
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.CallerMarshalFunc = shortCaller

	logger := New(w, level, cfg.console())
	zerolog.DefaultContextLogger = &logger
	zlog.Logger = logger

	return closer, nil
}

// Reinit switches the global logger to cfg and then closes prev, the closer
// returned by the previous Init. On error the previous logger stays active.
func Reinit(prev io.Closer, cfg Config) (io.Closer, error) {
	closer, err := Init(cfg)
	if err != nil {
		return prev, err
	}
	if prev != nil {
		if err := prev.Close(); err != nil {
			zlog.Warn().Msgf("logger: close previous output: err=%v", err)
		}
	}
	return closer, nil
}

// New builds a logger writing to w. Console loggers are human readable;
// others emit JSON lines. Caller info is attached at debug and below.
func New(w io.Writer, level zerolog.Level, console bool) zerolog.Logger {
	if console {
		cw := zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.TimeOnly,
		}
		if level <= zerolog.DebugLevel {
			cw.PartsOrder = []string{"time", "level", "message", "caller"}
			cw.FormatCaller = func(i interface{}) string {
				s, _ := i.(string)
				return "(" + s + ")"
			}
		}
		w = cw
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if level <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

func openWriter(cfg Config) (io.Writer, io.Closer, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout, io.NopCloser(nil), nil
	case "stderr":
		return os.Stderr, io.NopCloser(nil), nil
	}

	if cfg.File == "" {
		return nil, nil, errors.Newf("log output %q requires a file path", cfg.Output)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "failed to create log directory")
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open log file")
	}
	return f, f, nil
}

// shortCaller trims the caller path to its parent directory and file.
func shortCaller(_ uintptr, file string, line int) string {
	dir, name := filepath.Split(file)
	return filepath.Join(filepath.Base(dir), name) + ":" + strconv.Itoa(line)
}

// ParseLevel parses the log level string. Unknown levels map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
