package config

import (
	"log/slog"
	"time"
)

// NewDefaultConfig creates a new Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		DbDir:            "db",
		ScriptsDir:       "",
		DefaultDb:        "meeting",
		MinIdle:          2,
		MaxOpen:          10,
		BusyTimeout:      Duration{Duration: 5 * time.Second},
		RequiredVersion:  0,
		TagStoreCapacity: 64,
		ShutdownTimeout:  Duration{Duration: 10 * time.Second},
		Log: Log{
			Level:  LogLevel{Level: slog.LevelInfo},
			Format: LogFormatJSON,
		},
	}
}
