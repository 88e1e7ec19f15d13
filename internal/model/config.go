package model

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Remote  RemoteConfig  `yaml:"remote"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
}

type EngineConfig struct {
	// DefaultGraceMs is the undo window for light actions (star, archive,
	// mark_read, ...). Zero means commit on the next scheduler tick while
	// remaining cancellable until the commit actually starts.
	DefaultGraceMs int `yaml:"default_grace_ms" env:"INBOXD_DEFAULT_GRACE_MS"`
	// SendGraceMs is the undo window for send_message.
	SendGraceMs      int `yaml:"send_grace_ms" env:"INBOXD_SEND_GRACE_MS"`
	CommitTimeoutSec int `yaml:"commit_timeout_sec" env:"INBOXD_COMMIT_TIMEOUT_SEC"`
	EventBufferSize  int `yaml:"event_buffer_size" env:"INBOXD_EVENT_BUFFER_SIZE"`
}

type RemoteConfig struct {
	DBPath string `yaml:"db_path" env:"INBOXD_DB_PATH"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec" env:"INBOXD_SHUTDOWN_TIMEOUT_SEC"`
	MetricsIntervalSec int `yaml:"metrics_interval_sec" env:"INBOXD_METRICS_INTERVAL_SEC"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"INBOXD_LOG_LEVEL"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Engine.SendGraceMs <= 0 {
		c.Engine.SendGraceMs = 5000
	}
	if c.Engine.DefaultGraceMs < 0 {
		c.Engine.DefaultGraceMs = 0
	}
	if c.Engine.CommitTimeoutSec <= 0 {
		c.Engine.CommitTimeoutSec = 10
	}
	if c.Engine.EventBufferSize <= 0 {
		c.Engine.EventBufferSize = 100
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 30
	}
	if c.Daemon.MetricsIntervalSec <= 0 {
		c.Daemon.MetricsIntervalSec = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Remote.DBPath == "" {
		c.Remote.DBPath = "inboxd.db"
	}
}

// GraceFor returns the undo window for a kind. send_message gets the longer
// send window; everything else uses the default.
func (e EngineConfig) GraceFor(kind ActionKind) time.Duration {
	if kind == KindSendMessage {
		return time.Duration(e.SendGraceMs) * time.Millisecond
	}
	return time.Duration(e.DefaultGraceMs) * time.Millisecond
}

// CommitTimeout returns the bound on a single mutation-service call.
func (e EngineConfig) CommitTimeout() time.Duration {
	return time.Duration(e.CommitTimeoutSec) * time.Second
}

// LoadConfig reads the YAML config file, overlays environment variables, and
// fills in defaults. A missing file is not an error; defaults plus the
// environment apply.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}
