package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deicod/catalog/internal/logging"
	"github.com/deicod/catalog/orm/pg"
)

const (
	defaultConfigPath = "catalog.yaml"
	defaultProfile    = "dev"

	envProfile     = "CATALOG_ENV"
	envDatabaseURL = "CATALOG_DATABASE_URL"
)

type projectConfig struct {
	Database struct {
		URL          string                       `yaml:"url"`
		Environments map[string]environmentConfig `yaml:"environments"`
		Pool         poolConfig                   `yaml:"pool"`
	} `yaml:"database"`
	Logging logging.Config `yaml:"logging"`
	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Service string `yaml:"service"`
	} `yaml:"tracing"`
}

type environmentConfig struct {
	URL string `yaml:"url"`
}

type poolConfig struct {
	MaxConns          int32         `yaml:"max_conns"`
	MinConns          int32         `yaml:"min_conns"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period"`
}

func (p poolConfig) options() pg.PoolConfig {
	return pg.PoolConfig{
		MaxConns:          p.MaxConns,
		MinConns:          p.MinConns,
		MaxConnLifetime:   p.MaxConnLifetime,
		MaxConnIdleTime:   p.MaxConnIdleTime,
		HealthCheckPeriod: p.HealthCheckPeriod,
	}
}

// loadProjectConfig reads path. A missing file yields the zero config.
func loadProjectConfig(path string) (projectConfig, error) {
	if path == "" {
		path = defaultConfigPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return projectConfig{}, nil
		}
		return projectConfig{}, err
	}
	var cfg projectConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return projectConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// resolveDSN picks the connection string for profile: the environment entry
// wins over database.url and CATALOG_DATABASE_URL wins over both.
func (cfg projectConfig) resolveDSN(profile string) (dsn string, resolvedProfile string) {
	if profile == "" {
		profile = os.Getenv(envProfile)
	}
	if profile == "" {
		profile = defaultProfile
	}
	dsn = cfg.Database.URL
	if envCfg, ok := cfg.Database.Environments[profile]; ok && envCfg.URL != "" {
		dsn = envCfg.URL
	}
	if override := os.Getenv(envDatabaseURL); override != "" {
		dsn = override
	}
	return dsn, profile
}

func missingDSNError(command string) error {
	return CommandError{
		Message:    command + ": database.url is not configured in " + defaultConfigPath,
		Suggestion: "Set database.url in " + defaultConfigPath + ", configure database.environments, or export " + envDatabaseURL + " before running the command.",
		ExitCode:   2,
	}
}
