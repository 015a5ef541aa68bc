package config

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Environment variables read by ApplyEnv. Busy timeout is in milliseconds.
const (
	EnvDbDir            = "DATABASE_DB_DIR"
	EnvScriptsDir       = "DATABASE_INIT_DIR"
	EnvDefaultDb        = "DATABASE_DB"
	EnvPoolMin          = "DATABASE_POOL_MIN"
	EnvPoolMax          = "DATABASE_POOL_MAX"
	EnvBusyTimeout      = "DATABASE_DB_BUSY"
	EnvVersion          = "DATABASE_DB_VERSION"
	EnvTagStoreCapacity = "DATABASE_TAGSTORE_CAPACITY"
	EnvShutdownTimeout  = "DATABASE_SHUTDOWN_TIMEOUT"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
)

const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

type Config struct {
	// DbDir holds the database files, one <name>.db per database.
	DbDir string `toml:"db_dir"`

	// ScriptsDir holds init and upgrade scripts. Empty uses the embedded set.
	ScriptsDir string `toml:"scripts_dir"`

	DefaultDb string `toml:"default_db"`

	// MinIdle is how many idle connections are kept per database file.
	MinIdle int `toml:"pool_min"`

	// MaxOpen is the process-wide ceiling of native connections.
	MaxOpen int `toml:"pool_max"`

	BusyTimeout Duration `toml:"busy_timeout"`

	// RequiredVersion is the schema version every file is brought to.
	// Zero skips version checking.
	RequiredVersion int `toml:"db_version"`

	TagStoreCapacity int      `toml:"tagstore_capacity"`
	ShutdownTimeout  Duration `toml:"shutdown_timeout"`

	Log Log `toml:"log"`

	// Source is the file the config was loaded from, empty for defaults.
	Source string `toml:"-"`
}

type Log struct {
	Level  LogLevel `toml:"level"`
	Format string   `toml:"format"`
}

// Duration wraps time.Duration so it can be written as "5s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LogLevel wraps slog.Level so it can be written as "debug" in TOML.
type LogLevel struct {
	slog.Level
}

func (l *LogLevel) UnmarshalText(text []byte) error {
	return l.Level.UnmarshalText(text)
}

func (l LogLevel) MarshalText() ([]byte, error) {
	return l.Level.MarshalText()
}

// Provider holds the current configuration and allows it to be swapped
// while readers keep working on the previous snapshot.
type Provider struct {
	value atomic.Pointer[Config]
}

func NewProvider(cfg *Config) *Provider {
	if cfg == nil {
		panic("config: provider needs a non nil config")
	}
	p := &Provider{}
	p.value.Store(cfg)
	return p
}

func (p *Provider) Get() *Config {
	return p.value.Load()
}

func (p *Provider) Update(cfg *Config) {
	p.value.Store(cfg)
}
