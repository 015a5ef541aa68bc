package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func Validate(cfg *Config) error {
	if err := validatePool(cfg); err != nil {
		return fmt.Errorf("pool config validation failed: %w", err)
	}
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log config validation failed: %w", err)
	}
	return nil
}

// validatePool checks the bounds of the connection pool and the database
// naming. MinIdle may be zero (no idle reuse) but never above MaxOpen, since
// idle connections keep their admission slot.
func validatePool(cfg *Config) error {
	if cfg.MaxOpen < 1 {
		return fmt.Errorf("pool_max must be at least 1, got %d", cfg.MaxOpen)
	}
	if cfg.MinIdle < 0 {
		return fmt.Errorf("pool_min cannot be negative, got %d", cfg.MinIdle)
	}
	if cfg.MinIdle > cfg.MaxOpen {
		return fmt.Errorf("pool_min (%d) cannot exceed pool_max (%d)", cfg.MinIdle, cfg.MaxOpen)
	}
	if cfg.RequiredVersion < 0 {
		return fmt.Errorf("db_version cannot be negative, got %d", cfg.RequiredVersion)
	}
	if cfg.BusyTimeout.Duration < 0 {
		return fmt.Errorf("busy_timeout cannot be negative, got %s", cfg.BusyTimeout.Duration)
	}
	if cfg.TagStoreCapacity < 1 {
		return fmt.Errorf("tagstore_capacity must be at least 1, got %d", cfg.TagStoreCapacity)
	}
	if cfg.DbDir == "" {
		return fmt.Errorf("db_dir cannot be empty")
	}
	if err := ValidateName(cfg.DefaultDb); err != nil {
		return fmt.Errorf("default_db: %w", err)
	}
	return nil
}

// ValidateName checks that a database name can be used both as a file name
// and inside script names.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("database name %q must be a plain file name", name)
	}
	return nil
}

func validateLog(l *Log) error {
	switch l.Format {
	case LogFormatJSON, LogFormatText:
		return nil
	default:
		return fmt.Errorf("log format must be %q or %q, got %q", LogFormatJSON, LogFormatText, l.Format)
	}
}
