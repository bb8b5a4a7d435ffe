// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Admin    AdminConfig    `yaml:"admin"`
	Player   PlayerConfig   `yaml:"player"`
	Prompt   PromptConfig   `yaml:"prompt"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Audio    AudioConfig    `yaml:"audio"`
	Log      LogConfig      `yaml:"log"`
	Messages MessagesConfig `yaml:"messages"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// PlayerConfig represents playback control configuration.
type PlayerConfig struct {
	QueueCapacity     int           `yaml:"queue_capacity" default:"10" validate:"gte=1,lte=100"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" default:"5m" validate:"gt=0"`
	DefaultVolume     int           `yaml:"default_volume" default:"20" validate:"gte=0,lte=100"`
	MaxDupPlayRetries int           `yaml:"max_dup_play_retries" default:"3" validate:"gte=0,lte=20"`
}

// PromptConfig represents selection prompt configuration.
type PromptConfig struct {
	// TTL expires an unanswered prompt. Zero keeps it until superseded.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`
}

// CatalogConfig represents music library configuration.
type CatalogConfig struct {
	MusicPath      string        `yaml:"music_path" validate:"required"`
	Extensions     []string      `yaml:"extensions" default:"[\".mp3\",\".flac\",\".wav\"]" validate:"min=1,dive,startswith=."`
	SkipDirs       []string      `yaml:"skip_dirs" default:"[\"@eaDir\",\"$RECYCLE.BIN\"]"`
	MaxResults     int           `yaml:"max_results" default:"9" validate:"gte=1,lte=9"`
	RescanInterval time.Duration `yaml:"rescan_interval" default:"30m" validate:"gte=0"`
	Watch          *bool         `yaml:"watch" default:"true"`
	// IndexPath is where the index snapshot is kept between runs. Empty
	// disables the snapshot.
	IndexPath string `yaml:"index_path"`
}

// WatchEnabled reports whether file system notifications trigger rescans.
func (c CatalogConfig) WatchEnabled() bool {
	return c.Watch != nil && *c.Watch
}

// AudioConfig represents audio output configuration.
type AudioConfig struct {
	SampleRate int           `yaml:"sample_rate" default:"44100" validate:"oneof=22050 44100 48000 96000"`
	BufferSize time.Duration `yaml:"buffer_size" default:"100ms" validate:"gte=10ms,lte=1s"`
	// Destinations lists the allowed destinations. Empty allows any.
	Destinations       []string `yaml:"destinations"`
	DefaultDestination string   `yaml:"default_destination" default:"default"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	File  string `yaml:"file"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	Success          string `yaml:"success" default:"OK"`
	DefaultError     string `yaml:"default_error" default:"Something went wrong."`
	NoMatch          string `yaml:"no_match" default:"No song matched the query."`
	QueueFull        string `yaml:"queue_full" default:"The queue is full."`
	NoPrompt         string `yaml:"no_prompt" default:"There is nothing to select from."`
	StalePrompt      string `yaml:"stale_prompt" default:"That selection is no longer open."`
	InvalidSelection string `yaml:"invalid_selection" default:"That is not one of the candidates."`
	NotConnected     string `yaml:"not_connected" default:"The player is not connected."`
	NotPlaying       string `yaml:"not_playing" default:"Nothing is playing."`
	AlreadyJoined    string `yaml:"already_joined" default:"The player is already there."`
	InvalidVolume    string `yaml:"invalid_volume" default:"Volume must be between 0 and 100."`
	PermissionDenied string `yaml:"permission_denied" default:"The player cannot use that destination."`
	NoDestination    string `yaml:"no_destination" default:"No destination was given."`
	InvalidRequest   string `yaml:"invalid_request" default:"The request is malformed."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applying environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("NYX_ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("NYX_MUSIC_PATH"); v != "" {
		c.Catalog.MusicPath = v
	}
	if v := os.Getenv("NYX_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "success":
		return c.Messages.Success
	case "no_match":
		return c.Messages.NoMatch
	case "queue_full":
		return c.Messages.QueueFull
	case "no_prompt":
		return c.Messages.NoPrompt
	case "stale_prompt":
		return c.Messages.StalePrompt
	case "invalid_selection":
		return c.Messages.InvalidSelection
	case "not_connected":
		return c.Messages.NotConnected
	case "not_playing":
		return c.Messages.NotPlaying
	case "already_joined":
		return c.Messages.AlreadyJoined
	case "invalid_volume":
		return c.Messages.InvalidVolume
	case "permission_denied":
		return c.Messages.PermissionDenied
	case "no_destination":
		return c.Messages.NoDestination
	case "invalid_request":
		return c.Messages.InvalidRequest
	default:
		return c.Messages.DefaultError
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validateDestinations(); err != nil {
		return err
	}

	return nil
}

// validateDestinations checks that the default destination is allowed.
func (c *Config) validateDestinations() error {
	if len(c.Audio.Destinations) == 0 {
		return nil
	}
	for _, d := range c.Audio.Destinations {
		if d == c.Audio.DefaultDestination {
			return nil
		}
	}
	return errors.Newf("default_destination (%s) is not in destinations %v", c.Audio.DefaultDestination, c.Audio.Destinations)
}
