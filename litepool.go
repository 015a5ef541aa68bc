// Package litepool builds a connection manager for the SQLite database files
// of a process from a set of options.
package litepool

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/caasmo/litepool/cache"
	"github.com/caasmo/litepool/config"
	"github.com/caasmo/litepool/db"
	"github.com/caasmo/litepool/db/zombiezen"
	"github.com/caasmo/litepool/log"
)

type options struct {
	cfg         *config.Config
	cfgPath     string
	logger      *slog.Logger
	scripts     fs.FS
	scriptCache cache.Cache[string, []byte]
	observers   []db.Observer
}

type Option func(*options)

// WithConfig uses cfg as is instead of loading a file.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithConfigFile loads the TOML file at path, then environment overrides.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.cfgPath = path
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPhusLogger logs JSON to stderr through phuslu/log's slog handler.
// Uses log.DefaultHandlerOptions at debug level if opts is nil.
func WithPhusLogger(opts *slog.HandlerOptions) Option {
	if opts == nil {
		opts = log.DefaultHandlerOptions(slog.LevelDebug)
	}
	return WithLogger(log.New(config.Log{Level: config.LogLevel{Level: levelOf(opts)}, Format: config.LogFormatJSON}, os.Stderr))
}

// WithTextLogger logs text to stdout through the standard library handler.
func WithTextLogger(opts *slog.HandlerOptions) Option {
	if opts == nil {
		opts = log.DefaultHandlerOptions(slog.LevelDebug)
	}
	return WithLogger(slog.New(slog.NewTextHandler(os.Stdout, opts)))
}

func levelOf(opts *slog.HandlerOptions) slog.Level {
	if opts.Level == nil {
		return slog.LevelInfo
	}
	return opts.Level.Level()
}

func WithScripts(fsys fs.FS) Option {
	return func(o *options) {
		o.scripts = fsys
	}
}

func WithScriptCache(c cache.Cache[string, []byte]) Option {
	return func(o *options) {
		o.scriptCache = c
	}
}

func WithObserver(obs db.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// New returns a manager configured from the options. Without WithConfig the
// configuration comes from WithConfigFile, or defaults plus environment when
// no file is given. Without a logger option one is built from the log
// section of the configuration.
func New(opts ...Option) (*zombiezen.Manager, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		loaded, err := config.Load(o.cfgPath)
		if err != nil {
			slog.Error("failed to load initial config", "error", err)
			return nil, err
		}
		cfg = loaded
	}

	logger := o.logger
	if logger == nil {
		logger = log.New(cfg.Log, os.Stderr)
	}

	mgrOpts := []zombiezen.Option{zombiezen.WithLogger(logger)}
	if o.scripts != nil {
		mgrOpts = append(mgrOpts, zombiezen.WithScripts(o.scripts))
	}
	if o.scriptCache != nil {
		mgrOpts = append(mgrOpts, zombiezen.WithScriptCache(o.scriptCache))
	}
	for _, obs := range o.observers {
		mgrOpts = append(mgrOpts, zombiezen.WithObserver(obs))
	}

	m, err := zombiezen.NewManager(config.NewProvider(cfg), mgrOpts...)
	if err != nil {
		logger.Error("failed to create connection manager", "error", err)
		return nil, fmt.Errorf("litepool: %w", err)
	}
	logger.Info("connection manager ready",
		"db_dir", cfg.DbDir,
		"pool_max", cfg.MaxOpen,
		"pool_min", cfg.MinIdle,
		"db_version", cfg.RequiredVersion,
		"config", cfg.Source,
	)
	return m, nil
}
