// Package config loads the service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable consulted when no --config flag is
// given.
const EnvPath = "CHARGECHIME_CONFIG"

var ErrMissingAudioFile = errors.New("audio file path not configured")

type Config struct {
	AudioFile string `yaml:"audio_file"`
	// TargetVolume is a percentage. Nil disables the loudness adjustment.
	TargetVolume      *int          `yaml:"target_volume"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	ChannelTimeout    time.Duration `yaml:"channel_timeout"`
	PowerPollInterval time.Duration `yaml:"power_poll_interval"`
	LogDir            string        `yaml:"log_dir"`
	Control           ControlConfig `yaml:"control"`
}

type ControlConfig struct {
	Addr        string        `yaml:"addr"`
	TokenSecret string        `yaml:"token_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

func Default() *Config {
	return &Config{
		SettleDelay:       200 * time.Millisecond,
		ChannelTimeout:    2 * time.Second,
		PowerPollInterval: 5 * time.Second,
		Control: ControlConfig{
			Addr:     "127.0.0.1:8765",
			TokenTTL: 24 * time.Hour,
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Path resolves the configuration file from a flag value, falling back to
// EnvPath.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvPath)
}

func (c *Config) Validate() error {
	if c.AudioFile == "" {
		return ErrMissingAudioFile
	}
	if c.ChannelTimeout <= 0 {
		return fmt.Errorf("channel_timeout must be positive, got %s", c.ChannelTimeout)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative, got %s", c.SettleDelay)
	}
	return nil
}

// ControlEnabled reports whether the control surface should listen. It needs
// both an address and a token secret.
func (c *Config) ControlEnabled() bool {
	return c.Control.Addr != "" && c.Control.TokenSecret != ""
}

// Target returns the target volume as a scalar in [0, 1]; ok is false when no
// adjustment is configured.
func (c *Config) Target() (level float32, ok bool) {
	if c.TargetVolume == nil {
		return 0, false
	}
	pct := *c.TargetVolume
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return float32(pct) / 100, true
}
