package config

import (
	"fmt"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type AuditConfig struct {
	// Schedule is a cron spec, "" disables the claims auditor.
	Schedule string `mapstructure:"schedule"`
}

func (config AuditConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("audit.schedule", "@every 1m")
}

func (config AuditConfig) validate() error {
	if config.Schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", config.Schedule, err)
	}
	return nil
}

func (config AuditConfig) bindEnvironmentVariables(v *viper.Viper) error {
	return v.BindEnv("audit.schedule", "AUDIT_SCHEDULE")
}
