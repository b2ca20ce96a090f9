// Package config loads daemon configuration from a YAML file with
// environment overrides under the VAAKSHAKTI_ prefix.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server holds the HTTP listener settings.
type Server struct {
	ListenAddr string `mapstructure:"listen_addr"`
	// MaxUploadBytes caps the size of a submitted recording.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// Storage holds the persistence locations.
type Storage struct {
	DBPath   string `mapstructure:"db_path"`
	AudioDir string `mapstructure:"audio_dir"`
}

// Queue selects and configures the work queue backend.
type Queue struct {
	// Kind is "memory" or "redis".
	Kind      string `mapstructure:"kind"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// Workers holds the worker pool tuning knobs.
type Workers struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	ExecTimeout    time.Duration `mapstructure:"exec_timeout"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	// SweepInterval is how often the recovery sweep re-drives unfinished
	// tasks; StaleAfter is how long a processing component may go without an
	// update before the sweep requeues it.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
}

// Services holds the endpoints of the external inference services.
type Services struct {
	ASRURL       string `mapstructure:"asr_url"`
	OllamaURL    string `mapstructure:"ollama_url"`
	DefaultModel string `mapstructure:"default_model"`
}

// Config is the full daemon configuration.
type Config struct {
	LogLevel string   `mapstructure:"log_level"`
	Server   Server   `mapstructure:"server"`
	Storage  Storage  `mapstructure:"storage"`
	Queue    Queue    `mapstructure:"queue"`
	Workers  Workers  `mapstructure:"workers"`
	Services Services `mapstructure:"services"`
}

// Load reads the configuration. An explicit path must exist; with no path the
// defaults apply, overlaid by config.yaml from the working directory or
// /etc/vaakshakti when present, then by environment variables such as
// VAAKSHAKTI_QUEUE_KIND.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VAAKSHAKTI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vaakshakti")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("server.listen_addr", "127.0.0.1:8080")
	v.SetDefault("server.max_upload_bytes", int64(32<<20))
	v.SetDefault("storage.db_path", "data/vaakshakti.db")
	v.SetDefault("storage.audio_dir", "data/audio")
	v.SetDefault("queue.kind", "memory")
	v.SetDefault("queue.redis_addr", "127.0.0.1:6379")
	v.SetDefault("queue.redis_key", "vaakshakti:work")
	v.SetDefault("workers.concurrency", 4)
	v.SetDefault("workers.max_attempts", 3)
	v.SetDefault("workers.exec_timeout", 2*time.Minute)
	v.SetDefault("workers.backoff_initial", 500*time.Millisecond)
	v.SetDefault("workers.backoff_max", 30*time.Second)
	v.SetDefault("workers.sweep_interval", 30*time.Second)
	v.SetDefault("workers.stale_after", 5*time.Minute)
	v.SetDefault("services.asr_url", "http://127.0.0.1:9000")
	v.SetDefault("services.ollama_url", "http://127.0.0.1:11434")
	v.SetDefault("services.default_model", "mistral:latest")
}

func (c *Config) validate() error {
	switch c.Queue.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown queue kind %q", c.Queue.Kind)
	}
	if c.Workers.Concurrency < 1 {
		return fmt.Errorf("workers.concurrency must be at least 1, got %d", c.Workers.Concurrency)
	}
	if c.Workers.MaxAttempts < 1 {
		return fmt.Errorf("workers.max_attempts must be at least 1, got %d", c.Workers.MaxAttempts)
	}
	if c.Workers.StaleAfter <= c.Workers.ExecTimeout {
		return fmt.Errorf("workers.stale_after (%v) must exceed workers.exec_timeout (%v) or active executions get requeued", c.Workers.StaleAfter, c.Workers.ExecTimeout)
	}
	return nil
}
