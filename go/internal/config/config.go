// Package config loads settings for the relay, presenter and controller
// binaries from an optional YAML file, a .env file and the environment, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/cuesync/go/internal/clocksync"
)

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RelayConfig struct {
	Addr string `yaml:"addr"`
	// URL is where nodes dial the relay
	URL           string `yaml:"url"`
	Bridge        string `yaml:"bridge"` // none, nats or redis
	NATSURL       string `yaml:"nats_url"`
	RedisAddr     string `yaml:"redis_addr"`
	BridgeSubject string `yaml:"bridge_subject"`
	// ClockFollower leaves PING replies to the one bridged instance that
	// is not a follower
	ClockFollower bool `yaml:"clock_follower"`
}

type PresenterConfig struct {
	ViewportWidth               float64       `yaml:"viewport_width"`
	Constrained                 bool          `yaml:"constrained"`
	KeyframeInterval            time.Duration `yaml:"keyframe_interval"`
	ConstrainedKeyframeInterval time.Duration `yaml:"constrained_keyframe_interval"`
	RenderInterval              time.Duration `yaml:"render_interval"`
}

type ControllerConfig struct {
	ViewportWidth  float64       `yaml:"viewport_width"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	MaxKeyframeAge time.Duration `yaml:"max_keyframe_age"`
	GoodAge        time.Duration `yaml:"good_age"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Relay      RelayConfig      `yaml:"relay"`
	Presenter  PresenterConfig  `yaml:"presenter"`
	Controller ControllerConfig `yaml:"controller"`
	ClockSync  clocksync.Config `yaml:"clock_sync"`
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Relay: RelayConfig{
			Addr:          ":8787",
			URL:           "ws://localhost:8787/ws",
			Bridge:        "none",
			NATSURL:       "nats://localhost:4222",
			RedisAddr:     "localhost:6379",
			BridgeSubject: "cuesync.relay.frames",
		},
		Presenter: PresenterConfig{
			ViewportWidth:               1280,
			KeyframeInterval:            1200 * time.Millisecond,
			ConstrainedKeyframeInterval: 2 * time.Second,
			RenderInterval:              time.Second,
		},
		Controller: ControllerConfig{
			ViewportWidth:  1280,
			CheckInterval:  2 * time.Second,
			MaxKeyframeAge: 3 * time.Second,
			GoodAge:        1500 * time.Millisecond,
			AckTimeout:     500 * time.Millisecond,
		},
		ClockSync: clocksync.DefaultConfig(),
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then applies environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = getEnv("CUESYNC_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("CUESYNC_LOG_FORMAT", cfg.Log.Format)

	cfg.Relay.Addr = getEnv("CUESYNC_RELAY_ADDR", cfg.Relay.Addr)
	cfg.Relay.URL = getEnv("CUESYNC_RELAY_URL", cfg.Relay.URL)
	cfg.Relay.Bridge = getEnv("CUESYNC_BRIDGE", cfg.Relay.Bridge)
	cfg.Relay.NATSURL = getEnv("NATS_URL", cfg.Relay.NATSURL)
	cfg.Relay.RedisAddr = getEnv("REDIS_ADDR", cfg.Relay.RedisAddr)
	cfg.Relay.BridgeSubject = getEnv("CUESYNC_BRIDGE_SUBJECT", cfg.Relay.BridgeSubject)
	cfg.Relay.ClockFollower = getEnvAsBool("CUESYNC_CLOCK_FOLLOWER", cfg.Relay.ClockFollower)

	cfg.Presenter.Constrained = getEnvAsBool("CUESYNC_CONSTRAINED", cfg.Presenter.Constrained)
	cfg.Presenter.ViewportWidth = getEnvAsFloat("CUESYNC_VIEWPORT_WIDTH", cfg.Presenter.ViewportWidth)
	cfg.Presenter.KeyframeInterval = getEnvAsDuration("CUESYNC_KEYFRAME_INTERVAL", cfg.Presenter.KeyframeInterval)
	cfg.Controller.ViewportWidth = getEnvAsFloat("CUESYNC_VIEWPORT_WIDTH", cfg.Controller.ViewportWidth)
	cfg.Controller.AckTimeout = getEnvAsDuration("CUESYNC_ACK_TIMEOUT", cfg.Controller.AckTimeout)

	cfg.ClockSync.Samples = getEnvAsInt("CUESYNC_SYNC_SAMPLES", cfg.ClockSync.Samples)
	cfg.ClockSync.ResyncInterval = getEnvAsDuration("CUESYNC_RESYNC_INTERVAL", cfg.ClockSync.ResyncInterval)
}

// Validate rejects settings the nodes cannot run with
func (c *Config) Validate() error {
	switch c.Relay.Bridge {
	case "", "none", "nats", "redis":
	default:
		return fmt.Errorf("unknown bridge %q", c.Relay.Bridge)
	}
	if c.Presenter.ViewportWidth <= 0 || c.Controller.ViewportWidth <= 0 {
		return errors.New("viewport width must be positive")
	}
	if c.Presenter.KeyframeInterval <= 0 || c.Presenter.ConstrainedKeyframeInterval <= 0 {
		return errors.New("keyframe intervals must be positive")
	}
	if c.ClockSync.Samples <= 0 || c.ClockSync.MinSamples > c.ClockSync.Samples {
		return fmt.Errorf("invalid clock sync samples %d (min %d)", c.ClockSync.Samples, c.ClockSync.MinSamples)
	}
	return nil
}

// EffectiveKeyframeInterval is the periodic keyframe interval for the current mode
func (p PresenterConfig) EffectiveKeyframeInterval() time.Duration {
	if p.Constrained {
		return p.ConstrainedKeyframeInterval
	}
	return p.KeyframeInterval
}
