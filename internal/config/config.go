package config

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Defaults applied by Normalize to zero-valued fields.
const (
	DefaultReadBufferSize              = 2048
	DefaultBufferSizeSeconds           = 10.0
	DefaultSecondsToStart              = 1.0
	DefaultGracePeriodAfterSeek        = 0.5
	DefaultSecondsToStartAfterUnderrun = 1.0
)

// Config holds the playback engine options.
type Config struct {
	// FlushQueueOnSeek discards buffered-but-unplayed decoded frames when a
	// seek occurs, to avoid playing stale audio. Defaults to true.
	FlushQueueOnSeek *bool `koanf:"flush_queue_on_seek"`

	// ReadBufferSize is the size in bytes of each source read.
	ReadBufferSize int `koanf:"read_buffer_size"`

	// BufferSizeInSeconds sizes the decoded frame ring buffer.
	BufferSizeInSeconds float64 `koanf:"buffer_size_in_seconds"`

	// SecondsRequiredToStartPlaying is how much audio must be buffered before
	// playback starts. Clamped to BufferSizeInSeconds.
	SecondsRequiredToStartPlaying float64 `koanf:"seconds_required_to_start_playing"`

	// GracePeriodAfterSeekInSeconds suppresses underrun-triggered rebuffering
	// while the pipeline refills after a seek.
	GracePeriodAfterSeekInSeconds float64 `koanf:"grace_period_after_seek_in_seconds"`

	// SecondsRequiredToStartPlayingAfterBufferUnderrun is how much audio must
	// be re-buffered before playback resumes after an underrun.
	SecondsRequiredToStartPlayingAfterBufferUnderrun float64 `koanf:"seconds_required_to_start_playing_after_buffer_underrun"`

	// EnableLogs turns on engine logging.
	EnableLogs bool `koanf:"enable_logs"`
}

// Default returns a fully normalized config with documented defaults.
func Default() Config {
	var cfg Config
	cfg.Normalize()
	return cfg
}

// Normalize applies documented defaults to zero-valued fields and clamps
// inconsistent thresholds. Safe to call more than once.
func (c *Config) Normalize() {
	if c.FlushQueueOnSeek == nil {
		t := true
		c.FlushQueueOnSeek = &t
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.BufferSizeInSeconds <= 0 {
		c.BufferSizeInSeconds = DefaultBufferSizeSeconds
	}
	if c.SecondsRequiredToStartPlaying <= 0 {
		c.SecondsRequiredToStartPlaying = DefaultSecondsToStart
	}
	if c.GracePeriodAfterSeekInSeconds <= 0 {
		c.GracePeriodAfterSeekInSeconds = DefaultGracePeriodAfterSeek
	}
	if c.SecondsRequiredToStartPlayingAfterBufferUnderrun <= 0 {
		c.SecondsRequiredToStartPlayingAfterBufferUnderrun = DefaultSecondsToStartAfterUnderrun
	}

	// The start thresholds cannot exceed what the ring can hold.
	if c.SecondsRequiredToStartPlaying > c.BufferSizeInSeconds {
		c.SecondsRequiredToStartPlaying = c.BufferSizeInSeconds
	}
	if c.SecondsRequiredToStartPlayingAfterBufferUnderrun > c.BufferSizeInSeconds {
		c.SecondsRequiredToStartPlayingAfterBufferUnderrun = c.BufferSizeInSeconds
	}
}

// FlushOnSeek returns the effective flush-on-seek policy.
func (c *Config) FlushOnSeek() bool {
	return c.FlushQueueOnSeek == nil || *c.FlushQueueOnSeek
}

// Load reads configuration from the known config file locations (last one
// wins) and returns a normalized config. A missing file is not an error;
// the defaults apply.
func Load() (*Config, error) {
	k := koanf.New(".")

	for _, path := range configPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

func configPaths() []string {
	paths := []string{}

	// 1. $XDG_CONFIG_HOME/wavecast/config.toml
	paths = append(paths, filepath.Join(xdg.ConfigHome, "wavecast", "config.toml"))

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}
