// Package config defines the engine's runtime configuration, loaded from a
// YAML file and HEAL_* environment variables via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full engine configuration.
type Config struct {
	Target    TargetConfig    `mapstructure:"target"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Detection DetectionConfig `mapstructure:"detection"`
	Fixes     FixConfig       `mapstructure:"fixes"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Server    ServerConfig    `mapstructure:"server"`
	DataDir   string          `mapstructure:"data_dir"`
}

// TargetConfig describes the database under management.
type TargetConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Schema          string        `mapstructure:"schema"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// RulesConfig locates the expected-shape rule file.
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// ScannerConfig lists the source trees scanned for database call sites.
type ScannerConfig struct {
	SourceRoots []string `mapstructure:"source_roots"`
}

// DetectionConfig holds severity policy.
type DetectionConfig struct {
	CriticalTables []string `mapstructure:"critical_tables"`
}

// FixConfig holds planning and retention policy.
type FixConfig struct {
	Cooldown         time.Duration `mapstructure:"cooldown"`
	AutoFixTables    []string      `mapstructure:"auto_fix_tables"`
	BackupRetention  time.Duration `mapstructure:"backup_retention"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// MonitorConfig holds scheduler settings.
type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ServerConfig holds HTTP surface settings.
type ServerConfig struct {
	Host              string   `mapstructure:"host"`
	Port              int      `mapstructure:"port"`
	CORSOrigins       []string `mapstructure:"cors_origins"`
	TriggersPerMinute int      `mapstructure:"triggers_per_minute"`
}

// SetDefaults registers the default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("target.driver", "sqlite")
	v.SetDefault("target.max_open_conns", 5)
	v.SetDefault("target.max_idle_conns", 2)
	v.SetDefault("scanner.source_roots", []string{"."})
	v.SetDefault("fixes.cooldown", time.Hour)
	v.SetDefault("fixes.backup_retention", 7*24*time.Hour)
	v.SetDefault("fixes.statement_timeout", 15*time.Second)
	v.SetDefault("monitor.interval", 5*time.Minute)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.triggers_per_minute", 30)
}

// Load unmarshals and validates the configuration from a viper instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Target.DSN == "" {
		return fmt.Errorf("target.dsn is required")
	}
	if c.Target.Driver == "" {
		return fmt.Errorf("target.driver is required")
	}
	if c.Fixes.Cooldown < 0 {
		return fmt.Errorf("fixes.cooldown cannot be negative")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if len(c.Scanner.SourceRoots) == 0 {
		return fmt.Errorf("scanner.source_roots cannot be empty")
	}
	return nil
}
