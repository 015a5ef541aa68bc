package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML file on top of the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: failed to decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: unknown keys in %s: %v", path, undecoded)
		}
		cfg.Source = path
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the values found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s must be an integer, got %q", name, v)
		}
		*dst = n
		return nil
	}

	str(EnvDbDir, &cfg.DbDir)
	str(EnvScriptsDir, &cfg.ScriptsDir)
	str(EnvDefaultDb, &cfg.DefaultDb)
	str(EnvLogFormat, &cfg.Log.Format)

	for name, dst := range map[string]*int{
		EnvPoolMin:          &cfg.MinIdle,
		EnvPoolMax:          &cfg.MaxOpen,
		EnvVersion:          &cfg.RequiredVersion,
		EnvTagStoreCapacity: &cfg.TagStoreCapacity,
	} {
		if err := integer(name, dst); err != nil {
			return err
		}
	}

	var busyMs int = -1
	if err := integer(EnvBusyTimeout, &busyMs); err != nil {
		return err
	}
	if busyMs >= 0 {
		cfg.BusyTimeout = Duration{Duration: time.Duration(busyMs) * time.Millisecond}
	} else if _, ok := lookup(EnvBusyTimeout); ok {
		return fmt.Errorf("config: %s must not be negative", EnvBusyTimeout)
	}

	if v, ok := lookup(EnvShutdownTimeout); ok {
		if err := cfg.ShutdownTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("config: %s: %w", EnvShutdownTimeout, err)
		}
	}

	if v, ok := lookup(EnvLogLevel); ok {
		if err := cfg.Log.Level.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("config: %s: %w", EnvLogLevel, err)
		}
	}
	return nil
}
