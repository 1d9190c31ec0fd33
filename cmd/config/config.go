package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/onkernel/window-relay/lib/logger"
)

// Config holds all configuration for the relay
type Config struct {
	// Server configuration
	Port     int    `envconfig:"PORT" default:"3000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Rate controls
	ShapeThrottle         time.Duration `envconfig:"SHAPE_THROTTLE" default:"16ms"`
	PositionBatch         time.Duration `envconfig:"POSITION_BATCH" default:"8ms"`
	ThrottleStateTTL      time.Duration `envconfig:"THROTTLE_STATE_TTL" default:"60s"`
	ThrottleSweepInterval time.Duration `envconfig:"THROTTLE_SWEEP_INTERVAL" default:"30s"`

	// Per-connection delivery
	OutboundQueue int           `envconfig:"OUTBOUND_QUEUE" default:"256"`
	WriteTimeout  time.Duration `envconfig:"WRITE_TIMEOUT" default:"2s"`
	MaxFrameBytes int64         `envconfig:"MAX_FRAME_BYTES" default:"65536"`

	// YAML or JSON file with default scene state, hot reloaded when it changes.
	SceneFile string `envconfig:"SCENE_FILE" default:""`
	// SQLite file for the window lifecycle journal. Empty disables it.
	JournalPath string `envconfig:"JOURNAL_PATH" default:""`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if _, err := logger.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if config.ShapeThrottle <= 0 {
		return fmt.Errorf("SHAPE_THROTTLE must be greater than 0")
	}
	if config.PositionBatch <= 0 {
		return fmt.Errorf("POSITION_BATCH must be greater than 0")
	}
	if config.ThrottleSweepInterval <= 0 {
		return fmt.Errorf("THROTTLE_SWEEP_INTERVAL must be greater than 0")
	}
	if config.ThrottleStateTTL < config.ShapeThrottle {
		return fmt.Errorf("THROTTLE_STATE_TTL must be at least SHAPE_THROTTLE")
	}
	if config.OutboundQueue <= 0 {
		return fmt.Errorf("OUTBOUND_QUEUE must be greater than 0")
	}
	if config.WriteTimeout <= 0 {
		return fmt.Errorf("WRITE_TIMEOUT must be greater than 0")
	}
	if config.MaxFrameBytes < 1024 {
		return fmt.Errorf("MAX_FRAME_BYTES must be at least 1024")
	}

	return nil
}
