package zombiezen

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/caasmo/litepool/config"
	"github.com/caasmo/litepool/db"
)

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.MinIdle = cfg.MaxOpen + 1

	if _, err := NewManager(config.NewProvider(cfg)); err == nil {
		t.Fatal("NewManager() expected error for pool_min above pool_max")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatal("NewManager() expected error for nil provider")
	}
}

func TestOpen_CreatesDatabase(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(t, cfg, scriptsFor("app"))

	h := mustOpen(t, m, "app")
	defer mustClose(t, h)

	path, err := m.Path("app")
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if h.File() != path {
		t.Errorf("File() = %q, want %q", h.File(), path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	row, err := h.Get("SELECT value FROM settings WHERE name = 'token_key'")
	if err != nil {
		t.Fatalf("Get(token_key) error = %v", err)
	}
	if pin := row.Text("value"); !regexp.MustCompile(`^[0-9]{6}$`).MatchString(pin) {
		t.Errorf("token_key = %q, want 6 digits", pin)
	}

	row, err = h.Get("PRAGMA foreign_keys")
	if err != nil {
		t.Fatalf("Get(foreign_keys) error = %v", err)
	}
	if got := row.Int64("foreign_keys"); got != 1 {
		t.Errorf("foreign_keys = %d after migration, want 1", got)
	}
}

func TestOpen_InvalidName(t *testing.T) {
	m := newTestManager(t, testConfig(t), scriptsFor("app"))

	for _, name := range []string{"", "../app", "a/b", ".."} {
		if _, err := m.Open(context.Background(), name); err == nil {
			t.Errorf("Open(%q) expected error", name)
		}
	}
}

func TestOpen_FailedCreationRemovesFile(t *testing.T) {
	testCases := []struct {
		name    string
		scripts fstest.MapFS
	}{
		{
			name:    "broken init script",
			scripts: fstest.MapFS{"database-app.sql": &fstest.MapFile{Data: []byte("CREATE TABLE settings (;")}},
		},
		{
			name:    "missing init script",
			scripts: fstest.MapFS{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			m := newTestManager(t, cfg, tc.scripts)

			if _, err := m.Open(context.Background(), "app"); err == nil {
				t.Fatal("Open() expected error")
			}

			path, _ := m.Path("app")
			for _, p := range []string{path, path + "-wal", path + "-shm"} {
				if _, err := os.Stat(p); !os.IsNotExist(err) {
					t.Errorf("%s still present after failed creation (stat error %v)", p, err)
				}
			}
			if got := m.Stats().Gate.Current; got != 0 {
				t.Errorf("gate current = %d after failed open, want 0", got)
			}
		})
	}
}

func TestOpen_GateCeiling(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxOpen = 2
	cfg.MinIdle = 0
	m := newTestManager(t, cfg, scriptsFor("app"))

	h1 := mustOpen(t, m, "app")
	h2 := mustOpen(t, m, "app")
	defer mustClose(t, h2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := m.Open(ctx, "app"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Open() at ceiling error = %v, want deadline exceeded", err)
	}

	type result struct {
		h   *Handle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := m.Open(context.Background(), "app")
		done <- result{h, err}
	}()

	waitFor(t, func() bool { return m.Stats().Gate.Waiting == 1 })
	if got := m.Stats().Gate.Current; got != 2 {
		t.Errorf("gate current = %d while waiting, want 2", got)
	}

	mustClose(t, h1)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("queued Open() error = %v", res.err)
		}
		mustClose(t, res.h)
	case <-time.After(5 * time.Second):
		t.Fatal("queued Open() not admitted after Close")
	}

	stats := m.Stats()
	if stats.Gate.MaxSeen != 3 {
		t.Errorf("MaxSeen = %d, want 3 (2 open + 1 waiting)", stats.Gate.MaxSeen)
	}
}

func TestOpen_IdleReuseIsNetZero(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxOpen = 3
	cfg.MinIdle = 2
	m := newTestManager(t, cfg, scriptsFor("app"))
	path, _ := m.Path("app")

	h := mustOpen(t, m, "app")
	mustClose(t, h)
	if got := m.Stats().Idle[path]; got != 1 {
		t.Fatalf("idle = %d after first close, want 1", got)
	}

	for i := 0; i < 3; i++ {
		h := mustOpen(t, m, "app")
		stats := m.Stats()
		if stats.Gate.Current != 1 {
			t.Errorf("round %d: gate current = %d, want 1", i, stats.Gate.Current)
		}
		if stats.Idle[path] != 0 {
			t.Errorf("round %d: idle = %d while reused, want 0", i, stats.Idle[path])
		}
		mustClose(t, h)
	}
	if got := m.Stats().Reused; got != 3 {
		t.Errorf("Reused = %d, want 3", got)
	}

	// closing three handles keeps only pool_min of them
	hs := []*Handle{mustOpen(t, m, "app"), mustOpen(t, m, "app"), mustOpen(t, m, "app")}
	for _, h := range hs {
		mustClose(t, h)
	}
	stats := m.Stats()
	if stats.Idle[path] != 2 {
		t.Errorf("idle = %d, want 2", stats.Idle[path])
	}
	if stats.Gate.Current != 2 {
		t.Errorf("gate current = %d, want 2 (idle connections hold their slot)", stats.Gate.Current)
	}
}

func TestOpen_EvictsIdleOfOtherFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxOpen = 1
	cfg.MinIdle = 1
	m := newTestManager(t, cfg, scriptsFor("a", "b"))
	pathA, _ := m.Path("a")

	mustClose(t, mustOpen(t, m, "a"))
	if got := m.Stats().Idle[pathA]; got != 1 {
		t.Fatalf("idle a = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hb, err := m.Open(ctx, "b")
	if err != nil {
		t.Fatalf("Open(b) error = %v", err)
	}
	defer mustClose(t, hb)

	stats := m.Stats()
	if stats.Idle[pathA] != 0 {
		t.Errorf("idle a = %d after eviction, want 0", stats.Idle[pathA])
	}
	if stats.Gate.Current != 1 {
		t.Errorf("gate current = %d, want 1", stats.Gate.Current)
	}
}

func TestStats_OpenHandles(t *testing.T) {
	m := newTestManager(t, testConfig(t), scriptsFor("app"))

	h1 := mustOpen(t, m, "app")
	h2 := mustOpen(t, m, "app")
	if got := m.Stats().OpenHandles; got != 2 {
		t.Errorf("OpenHandles = %d, want 2", got)
	}
	mustClose(t, h1)
	mustClose(t, h2)
	if got := m.Stats().OpenHandles; got != 0 {
		t.Errorf("OpenHandles = %d after close, want 0", got)
	}
}

func TestOpen_ReloadedMinIdle(t *testing.T) {
	cfg := testConfig(t)
	cfg.MinIdle = 0
	provider := config.NewProvider(cfg)
	m, err := NewManager(provider, WithScripts(scriptsFor("app")))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Shutdown(context.Background())
	path, _ := m.Path("app")

	mustClose(t, mustOpen(t, m, "app"))
	if got := m.Stats().Idle[path]; got != 0 {
		t.Fatalf("idle = %d with pool_min 0, want 0", got)
	}

	updated := *cfg
	updated.MinIdle = 1
	provider.Update(&updated)

	mustClose(t, mustOpen(t, m, "app"))
	if got := m.Stats().Idle[path]; got != 1 {
		t.Errorf("idle = %d after reload to pool_min 1, want 1", got)
	}
}

func TestOpen_ShuttingDown(t *testing.T) {
	m := newTestManager(t, testConfig(t), scriptsFor("app"))
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if _, err := m.Open(context.Background(), "app"); !errors.Is(err, db.ErrShuttingDown) {
		t.Errorf("Open() after Shutdown error = %v, want ErrShuttingDown", err)
	}
}
