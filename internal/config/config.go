// Package config loads pontoond's process configuration: the control
// plane endpoint, cache/scheduler storage paths, the admin surface's
// listen address and bearer secret, and log level, per SPEC_FULL.md
// §6.4's `[AMBIENT]` config layer. Adapted from the teacher's
// `config.Load` (env-var-with-default, optional YAML file overlay)
// but ported onto `github.com/spf13/viper` so environment and a config
// file resolve through one precedence order rather than the teacher's
// hand-rolled `getEnv` + single yaml.Unmarshal pass. Command-line flags
// are not bound here; cmd/pontoond applies them to the loaded Config.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the CLI subcommands and the `serve` daemon
// need. Field names mirror the environment variables viper binds them
// to (upper-cased, `PONTOOND_` prefixed).
type Config struct {
	// APIEndpoint is the control plane base URL consumed through
	// internal/controlplane, per spec.md §6.2.
	APIEndpoint string `mapstructure:"api_endpoint"`

	// CacheDir is the run-scoped cache's backing directory, per §4.2.
	CacheDir string `mapstructure:"cache_dir"`

	// SchedulerDBPath is the sqlite store backing internal/scheduler's
	// scheduled_transfers table, per §4.8.
	SchedulerDBPath string `mapstructure:"scheduler_db_path"`

	// ListenAddr is the admin/health HTTP surface's bind address.
	ListenAddr string `mapstructure:"listen_addr"`

	// JWTSecret gates the admin surface's bearer-token auth when set;
	// an empty secret disables auth, intended for local development.
	JWTSecret string `mapstructure:"jwt_secret"`

	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level"`

	// TaskMaxRetries / TaskRetryDelay override §4.8's worker retry
	// ceiling, defaulting to the spec's TASK_MAX_RETRIES/TASK_RETRY_DELAY.
	TaskMaxRetries int           `mapstructure:"task_max_retries"`
	TaskRetryDelay time.Duration `mapstructure:"task_retry_delay"`

	// WorkerConcurrency is the worker pool's goroutine count.
	WorkerConcurrency int `mapstructure:"worker_concurrency"`
}

// Load resolves Config from (in increasing precedence) defaults, an
// optional config file, and environment variables prefixed
// `PONTOOND_`. configPath may be empty, in which case only the default
// search paths (`/etc/pontoond/config.yaml`, `./pontoond.yaml`) are
// tried, and a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("pontoond")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_endpoint", "http://localhost:8081")
	v.SetDefault("cache_dir", "/tmp/pontoond-cache")
	v.SetDefault("scheduler_db_path", "/var/lib/pontoond/scheduler.db")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("task_max_retries", 3)
	v.SetDefault("task_retry_delay", 300*time.Second)
	v.SetDefault("worker_concurrency", 4)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pontoond")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/pontoond")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
