// Package zombiezen implements the connection manager on top of the
// zombiezen.com/go/sqlite driver: admission, idle pooling, handles,
// transactions, migrations and shutdown.
package zombiezen

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/caasmo/litepool/cache"
	"github.com/caasmo/litepool/cache/ristretto"
	"github.com/caasmo/litepool/config"
	"github.com/caasmo/litepool/db"
	"github.com/caasmo/litepool/gate"
	"github.com/caasmo/litepool/log"
	"github.com/caasmo/litepool/migrations"
	"github.com/caasmo/litepool/topk"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const hotStatementsReported = 5

// Manager owns every native connection of the process: the admission gate,
// the idle pool, the registry of open handles and the migration state of
// each database file.
type Manager struct {
	cfg         *config.Provider
	logger      *slog.Logger
	fmt         *log.MessageFormatter
	gate        *gate.Gate
	idle        *idlePool
	scripts     fs.FS
	scriptCache cache.Cache[string, []byte]
	sketch      *topk.TopKSketch

	mu           sync.Mutex
	handles      map[*Handle]struct{}
	files        map[string]*fileState
	observers    []db.Observer
	shuttingDown bool

	maxTagStoreSize atomic.Int64
	reused          atomic.Int64
}

// fileState serialises migration of one database file.
type fileState struct {
	mu       sync.Mutex
	migrated bool
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithScripts sets where init and upgrade scripts are read from, overriding
// the configured scripts directory.
func WithScripts(fsys fs.FS) Option {
	return func(m *Manager) {
		m.scripts = fsys
	}
}

func WithScriptCache(c cache.Cache[string, []byte]) Option {
	return func(m *Manager) {
		m.scriptCache = c
	}
}

func WithObserver(o db.Observer) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, o)
	}
}

func WithStatementSketch(s *topk.TopKSketch) Option {
	return func(m *Manager) {
		m.sketch = s
	}
}

// NewManager validates the current configuration of provider and returns a
// manager ready to open databases. Pool bounds, idle retention, busy timeout,
// statement cache capacity and required version are read from provider on
// use, so a reload takes effect for later connections. The gate ceiling is
// fixed at construction.
func NewManager(provider *config.Provider, opts ...Option) (*Manager, error) {
	if provider == nil {
		return nil, fmt.Errorf("config provider cannot be nil")
	}
	cfg := provider.Get()
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     provider,
		fmt:     log.NewMessageFormatter().WithComponent("pool", "🗄️"),
		gate:    gate.New(cfg.MaxOpen),
		handles: make(map[*Handle]struct{}),
		files:   make(map[string]*fileState),
	}
	m.idle = newIdlePool(m.gate)
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "pool")
	if m.scripts == nil {
		if cfg.ScriptsDir != "" {
			m.scripts = os.DirFS(cfg.ScriptsDir)
		} else {
			m.scripts = migrations.Scripts()
		}
	}
	if m.scriptCache == nil {
		c, err := ristretto.New[[]byte]("small")
		if err != nil {
			return nil, fmt.Errorf("script cache: %w", err)
		}
		m.scriptCache = c
	}
	if m.sketch == nil {
		m.sketch = topk.New(topk.DefaultParams())
	}
	return m, nil
}

func (m *Manager) Config() *config.Config { return m.cfg.Get() }

// AddObserver registers o to be notified whenever a handle closes.
func (m *Manager) AddObserver(o db.Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// Path resolves the absolute file path of database name.
func (m *Manager) Path(name string) (string, error) {
	if err := config.ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Abs(filepath.Join(m.cfg.Get().DbDir, name+".db"))
}

// Open returns an original handle to database name, creating the file and
// bringing it to the required schema version on first use.
func (m *Manager) Open(ctx context.Context, name string) (*Handle, error) {
	path, err := m.Path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	fresh := isFresh(path)

	h := newHandle(m, name, path, nil)
	if err := h.Open(ctx); err != nil {
		return nil, err
	}

	initFailed, err := m.migrate(h)
	if err != nil {
		h.discard()
		if initFailed && fresh {
			m.removeFiles(path)
		}
		return nil, err
	}
	return h, nil
}

// isFresh reports whether path is missing or empty.
func isFresh(path string) bool {
	info, err := os.Stat(path)
	return errors.Is(err, fs.ErrNotExist) || (err == nil && info.Size() == 0)
}

func (m *Manager) removeFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Error(m.fmt.Fail("failed to remove database file"), "file", p, "error", err)
		}
	}
	m.logger.Warn(m.fmt.Warn("removed database after failed creation"), "file", path)
}

// migrate runs the migrator once per file. Concurrent first openers of the
// same file wait for the one running it.
func (m *Manager) migrate(h *Handle) (bool, error) {
	m.mu.Lock()
	fst, ok := m.files[h.file]
	if !ok {
		fst = &fileState{}
		m.files[h.file] = fst
	}
	m.mu.Unlock()

	fst.mu.Lock()
	defer fst.mu.Unlock()
	if fst.migrated {
		return false, nil
	}

	mg := &migrator{
		conn:     h.conn,
		name:     h.name,
		required: m.cfg.Get().RequiredVersion,
		scripts:  m.scripts,
		cache:    m.scriptCache,
		logger:   m.logger.With("db", h.name),
		fmt:      log.NewMessageFormatter().WithComponent("migration", "📜"),
	}
	initFailed, err := mg.run()
	if err != nil {
		return initFailed, err
	}
	fst.migrated = true
	return false, nil
}

// acquireConn returns a native connection to file: a pooled one if any,
// otherwise a new one once the gate admits it. When the gate is full an idle
// connection of another file is closed to make room.
func (m *Manager) acquireConn(ctx context.Context, file string) (*sqlite.Conn, error) {
	if m.isShuttingDown() {
		return nil, db.ErrShuttingDown
	}

	if conn, ok := m.idle.acquire(file); ok {
		m.gate.Pass()
		m.reused.Add(1)
		return conn, nil
	}

	if !m.gate.TryAcquire() {
		if evicted, err := m.idle.evictOne(); err != nil {
			m.logger.Warn(m.fmt.Warn("failed to close evicted idle connection"), "error", err)
		} else if evicted {
			m.logger.Debug("evicted idle connection to make room", "file", file)
		}
		if err := m.gate.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	if m.isShuttingDown() {
		m.gate.Release()
		return nil, db.ErrShuttingDown
	}

	conn, err := m.openConn(file)
	if err != nil {
		m.gate.Release()
		return nil, err
	}
	return conn, nil
}

func (m *Manager) openConn(file string) (*sqlite.Conn, error) {
	conn, err := sqlite.OpenConn(file, sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	conn.SetBusyTimeout(m.cfg.Get().BusyTimeout.Duration)
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = ON;", nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys on %s: %w", file, err)
	}
	m.logger.Debug("connection opened", "file", file)
	return conn, nil
}

// discardConn closes conn without pooling it and frees its gate slot.
func (m *Manager) discardConn(conn *sqlite.Conn) {
	if err := conn.Close(); err != nil {
		m.logger.Warn(m.fmt.Warn("failed to close connection"), "error", err)
	}
	m.gate.Release()
}

func (m *Manager) isShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shuttingDown
}

func (m *Manager) track(h *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shuttingDown {
		return db.ErrShuttingDown
	}
	m.handles[h] = struct{}{}
	return nil
}

func (m *Manager) untrack(h *Handle) {
	m.mu.Lock()
	delete(m.handles, h)
	m.mu.Unlock()
}

func (m *Manager) notifyClose(info db.HandleInfo) {
	m.mu.Lock()
	observers := append([]db.Observer(nil), m.observers...)
	m.mu.Unlock()
	for _, o := range observers {
		o.OnClose(info)
	}
}

func (m *Manager) observeTagStoreSize(size int) {
	for {
		cur := m.maxTagStoreSize.Load()
		if int64(size) <= cur || m.maxTagStoreSize.CompareAndSwap(cur, int64(size)) {
			return
		}
	}
}

func (m *Manager) recordStatement(query string) {
	if hot := m.sketch.Record(query); len(hot) > 0 {
		m.logger.Debug("hot statements", "statements", hot)
	}
}

type Stats struct {
	Gate            gate.Stats
	Idle            map[string]int // idle connections per file
	OpenHandles     int
	MaxTagStoreSize int
	HotStatements   []string
	Reused          int64 // acquisitions served from the idle pool
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	open := len(m.handles)
	m.mu.Unlock()
	return Stats{
		Gate:            m.gate.Stats(),
		Idle:            m.idle.counts(),
		OpenHandles:     open,
		MaxTagStoreSize: int(m.maxTagStoreSize.Load()),
		HotStatements:   m.sketch.Top(hotStatementsReported),
		Reused:          m.reused.Load(),
	}
}

// Reload reads the config file at path again and applies the settings that
// can change at runtime.
func (m *Manager) Reload(path string) error {
	return config.Reload(path, m.cfg, m.logger)
}
