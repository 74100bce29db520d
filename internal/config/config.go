package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime settings, loaded from environment variables.
type Config struct {
	Addr      string `env:"CHOREFLOW_ADDR" envDefault:":8080"`
	DBPath    string `env:"CHOREFLOW_DB" envDefault:"choreflow.db"`
	TasksFile string `env:"CHOREFLOW_TASKS" envDefault:"tasks.yaml"`
	UsersFile string `env:"CHOREFLOW_USERS" envDefault:"users.yaml"`
	// CronSpec is the daily generation trigger in standard cron syntax.
	CronSpec string `env:"CHOREFLOW_CRON" envDefault:"0 6 * * *"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
