package config

import (
	"errors"
	"fmt"
	"github.com/spf13/viper"
	"time"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// PollInterval is advertised to browser clients; it bounds how long another
	// recruiter's claim can stay invisible.
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ListCacheTTL        time.Duration `mapstructure:"list_cache_ttl"`
	MaxUpdatesPerSecond float64       `mapstructure:"max_updates_per_second"`
	UpdateBurst         int           `mapstructure:"update_burst"`
	StaticDir           string        `mapstructure:"static_dir"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
}

func (config ServerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.poll_interval", 5*time.Second)
	v.SetDefault("server.list_cache_ttl", time.Second)
	v.SetDefault("server.max_updates_per_second", 10)
	v.SetDefault("server.update_burst", 20)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

func (config ServerConfig) validate() error {
	var errs []error

	if config.Port <= 0 || config.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535"))
	}
	if config.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive"))
	}
	if config.ListCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("list_cache_ttl must not be negative"))
	}
	if config.ListCacheTTL >= config.PollInterval {
		errs = append(errs, fmt.Errorf("list_cache_ttl must be shorter than poll_interval"))
	}
	if config.MaxUpdatesPerSecond < 0 {
		errs = append(errs, fmt.Errorf("max_updates_per_second must not be negative"))
	}
	if config.MaxUpdatesPerSecond > 0 && config.UpdateBurst <= 0 {
		errs = append(errs, fmt.Errorf("update_burst must be positive when rate limiting is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred: %w", errors.Join(errs...))
	}

	return nil
}

func (config ServerConfig) bindEnvironmentVariables(v *viper.Viper) error {
	var errs []error
	bindings := map[string]string{
		"server.port":                   "PORT",
		"server.poll_interval":          "POLL_INTERVAL",
		"server.list_cache_ttl":         "LIST_CACHE_TTL",
		"server.max_updates_per_second": "MAX_UPDATES_PER_SECOND",
		"server.static_dir":             "STATIC_DIR",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
