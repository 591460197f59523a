// Package config loads the ambient, non-semantic settings of a pagesql
// engine instance from YAML: none of these fields change the on-disk format
// or statement semantics, only how an instance is wired up.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration document.
type Config struct {
	DBPath            string `yaml:"db_path"`
	WALPath           string `yaml:"wal_path"`
	BufferPoolFrames  int    `yaml:"buffer_pool_capacity"`
	LogLevel          string `yaml:"log_level"`
	LogPretty         bool   `yaml:"log_pretty"`
	MetricsAddr       string `yaml:"metrics_addr"`
	CheckpointCron    string `yaml:"checkpoint_cron"`
}

// Default returns the configuration assumed when no file is supplied:
// "db.page" and "wal.log" in the working directory, a 100-frame pool, and
// no background checkpoint.
func Default() Config {
	return Config{
		DBPath:           "db.page",
		WALPath:          "wal.log",
		BufferPoolFrames: 100,
		LogLevel:         "info",
	}
}

// Load reads and parses a YAML config file, filling any field left at its
// zero value with Default()'s value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = Default().DBPath
	}
	if cfg.WALPath == "" {
		cfg.WALPath = Default().WALPath
	}
	if cfg.BufferPoolFrames == 0 {
		cfg.BufferPoolFrames = Default().BufferPoolFrames
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = Default().LogLevel
	}
	return cfg, nil
}
