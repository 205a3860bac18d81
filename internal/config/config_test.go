package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.Set("target.dsn", ":memory:")
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newTestViper())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Target.Driver != "sqlite" {
		t.Errorf("got driver %q", cfg.Target.Driver)
	}
	if cfg.Fixes.Cooldown != time.Hour {
		t.Errorf("got cooldown %v, want 1h", cfg.Fixes.Cooldown)
	}
	if cfg.Fixes.BackupRetention != 7*24*time.Hour {
		t.Errorf("got retention %v, want 168h", cfg.Fixes.BackupRetention)
	}
	if cfg.Monitor.Interval != 5*time.Minute {
		t.Errorf("got interval %v, want 5m", cfg.Monitor.Interval)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("got port %d", cfg.Server.Port)
	}
	if len(cfg.Scanner.SourceRoots) != 1 || cfg.Scanner.SourceRoots[0] != "." {
		t.Errorf("got source roots %v", cfg.Scanner.SourceRoots)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*viper.Viper)
	}{
		{"missing dsn", func(v *viper.Viper) { v.Set("target.dsn", "") }},
		{"missing driver", func(v *viper.Viper) { v.Set("target.driver", "") }},
		{"negative cooldown", func(v *viper.Viper) { v.Set("fixes.cooldown", -time.Hour) }},
		{"zero interval", func(v *viper.Viper) { v.Set("monitor.interval", 0) }},
		{"no source roots", func(v *viper.Viper) { v.Set("scanner.source_roots", []string{}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestViper()
			tt.mutate(v)
			if _, err := Load(v); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
