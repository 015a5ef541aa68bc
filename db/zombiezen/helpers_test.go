package zombiezen

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/caasmo/litepool/config"
	"github.com/caasmo/litepool/db"
	"github.com/caasmo/litepool/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// initScript creates the settings table at the given version and an applied
// table the upgrade scripts below write their names into.
func initScript(version int) string {
	return fmt.Sprintf(`
CREATE TABLE settings (name TEXT PRIMARY KEY, value TEXT NOT NULL DEFAULT '');
INSERT INTO settings (name, value) VALUES ('version', '%d'), ('token_key', '');
CREATE TABLE applied (id INTEGER PRIMARY KEY AUTOINCREMENT, script TEXT NOT NULL);
CREATE TABLE item (id INTEGER PRIMARY KEY, name TEXT NOT NULL, created TEXT);
`, version)
}

func appliedScript(name string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(fmt.Sprintf("INSERT INTO applied (script) VALUES ('%s');", name))}
}

// scriptsFor returns an init script for each name, all at version 1.
func scriptsFor(names ...string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for _, name := range names {
		fsys["database-"+name+".sql"] = &fstest.MapFile{Data: []byte(initScript(1))}
	}
	return fsys
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.DbDir = t.TempDir()
	cfg.BusyTimeout = config.Duration{Duration: time.Second}
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, scripts fstest.MapFS, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithScripts(scripts), WithLogger(log.Discard())}, opts...)
	m, err := NewManager(config.NewProvider(cfg), opts...)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return m
}

func mustOpen(t *testing.T, m *Manager, name string) *Handle {
	t.Helper()
	h, err := m.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", name, err)
	}
	return h
}

func mustClose(t *testing.T, h *Handle) {
	t.Helper()
	if err := h.Close(false); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

// readSetting reads a settings row straight from the file, bypassing the
// manager.
func readSetting(t *testing.T, path, name string) string {
	t.Helper()
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer conn.Close()

	var value string
	err = sqlitex.ExecuteTransient(conn, "SELECT value FROM settings WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("failed to read setting %s: %v", name, err)
	}
	return value
}

func appliedScripts(t *testing.T, h *Handle) []string {
	t.Helper()
	rows, err := h.All("SELECT script FROM applied ORDER BY id")
	if err != nil {
		t.Fatalf("failed to read applied scripts: %v", err)
	}
	var out []string
	for _, row := range rows {
		out = append(out, row.Text("script"))
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

// closeCounter counts handle closes reported to observers.
type closeCounter struct {
	mu        sync.Mutex
	secondary int
	original  int
	inTx      int
}

func (c *closeCounter) OnClose(info db.HandleInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info.Secondary {
		c.secondary++
	} else {
		c.original++
	}
	if info.InTx {
		c.inTx++
	}
}

func (c *closeCounter) counts() (secondary, original, inTx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secondary, c.original, c.inTx
}
