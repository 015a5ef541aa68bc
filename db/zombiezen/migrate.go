package zombiezen

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/caasmo/litepool/cache"
	"github.com/caasmo/litepool/crypto"
	"github.com/caasmo/litepool/db"
	"github.com/caasmo/litepool/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const tokenKeyLength = 6

// migrator brings one database file to the required schema version. Each
// upgrade step commits on its own, so after a crash the stored version is
// the last step fully applied and the next run resumes from there.
type migrator struct {
	conn     *sqlite.Conn
	name     string
	required int
	scripts  fs.FS
	cache    cache.Cache[string, []byte]
	logger   *slog.Logger
	fmt      *log.MessageFormatter
}

// run initialises an empty file then applies pending upgrades. Foreign keys
// are off while scripts run and back on when run returns. initFailed reports
// that the init script was attempted and failed.
func (mg *migrator) run() (initFailed bool, err error) {
	if err := mg.exec("PRAGMA foreign_keys = OFF;"); err != nil {
		return false, err
	}
	defer func() {
		if ferr := mg.exec("PRAGMA foreign_keys = ON;"); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()

	empty, err := mg.isEmpty()
	if err != nil {
		return false, err
	}
	if empty {
		if err := mg.initialise(); err != nil {
			return true, err
		}
	}
	if mg.required > 0 {
		if err := mg.upgrade(); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (mg *migrator) exec(query string, args ...any) error {
	return sqlitex.ExecuteTransient(mg.conn, query, &sqlitex.ExecOptions{Args: args})
}

func (mg *migrator) isEmpty() (bool, error) {
	n, err := mg.count("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%';")
	if err != nil {
		return false, fmt.Errorf("probe schema: %w", err)
	}
	return n == 0, nil
}

func (mg *migrator) hasTable(table string) (bool, error) {
	n, err := mg.count("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?;", table)
	return n > 0, err
}

func (mg *migrator) count(query string, args ...any) (int64, error) {
	var n int64
	err := sqlitex.ExecuteTransient(mg.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = stmt.ColumnInt64(0)
			return nil
		},
	})
	return n, err
}

// initialise runs database-<name>.sql and seeds a random token key.
func (mg *migrator) initialise() error {
	script := fmt.Sprintf("database-%s.sql", mg.name)
	body, err := mg.read(script)
	if err != nil {
		return fmt.Errorf("init script %s: %w", script, err)
	}
	mg.logger.Info(mg.fmt.Seed("creating database from init script"), "script", script)

	return mg.inTx(func() error {
		if err := sqlitex.ExecuteScript(mg.conn, string(body), nil); err != nil {
			return fmt.Errorf("init script %s: %w", script, err)
		}
		return mg.writeTokenKey()
	})
}

// writeTokenKey stores a random pin under settings.token_key. Files without
// a settings table are left alone.
func (mg *migrator) writeTokenKey() error {
	ok, err := mg.hasTable("settings")
	if err != nil || !ok {
		return err
	}
	return mg.setSetting("token_key", crypto.NewPin(tokenKeyLength))
}

func (mg *migrator) setSetting(name, value string) error {
	if err := mg.exec("UPDATE settings SET value = ? WHERE name = ?;", value, name); err != nil {
		return fmt.Errorf("update setting %s: %w", name, err)
	}
	if mg.conn.Changes() > 0 {
		return nil
	}
	if err := mg.exec("INSERT INTO settings (name, value) VALUES (?, ?);", name, value); err != nil {
		return fmt.Errorf("insert setting %s: %w", name, err)
	}
	return nil
}

// storedVersion reads settings.version, 0 when the table or row is missing.
func (mg *migrator) storedVersion() (int, error) {
	ok, err := mg.hasTable("settings")
	if err != nil || !ok {
		return 0, err
	}
	var version int
	err = sqlitex.ExecuteTransient(mg.conn, "SELECT value FROM settings WHERE name = 'version';", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = int(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return version, nil
}

// upgrade applies every step from the stored version up to the required one.
// All mandatory scripts are checked before the first step runs.
func (mg *migrator) upgrade() error {
	stored, err := mg.storedVersion()
	if err != nil {
		return err
	}
	if stored > mg.required {
		return &db.VersionError{Name: mg.name, Stored: stored, Required: mg.required}
	}
	if stored == mg.required {
		return nil
	}

	for v := stored; v < mg.required; v++ {
		script := upgradeScript(mg.name, v)
		if _, err := mg.read(script); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return &db.VersionError{Name: mg.name, Stored: stored, Required: mg.required, Missing: script}
			}
			return fmt.Errorf("upgrade script %s: %w", script, err)
		}
	}

	for v := stored; v < mg.required; v++ {
		if err := mg.step(v); err != nil {
			return fmt.Errorf("upgrade %s from version %d: %w", mg.name, v, err)
		}
		mg.logger.Info(mg.fmt.Upgrade("schema upgraded"), "db", mg.name, "version", v+1)
	}
	return nil
}

func upgradeScript(name string, v int) string {
	return fmt.Sprintf("upgrade-%s_%d.sql", name, v)
}

// step runs pre-upgrade_<v>.sql, upgrade-<name>_<v>.sql and
// post-upgrade_<v>.sql then records version v+1, all in one transaction.
func (mg *migrator) step(v int) error {
	scripts := []struct {
		name     string
		optional bool
	}{
		{fmt.Sprintf("pre-upgrade_%d.sql", v), true},
		{upgradeScript(mg.name, v), false},
		{fmt.Sprintf("post-upgrade_%d.sql", v), true},
	}

	return mg.inTx(func() error {
		for _, s := range scripts {
			body, err := mg.read(s.name)
			if err != nil {
				if s.optional && errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return fmt.Errorf("read %s: %w", s.name, err)
			}
			if err := sqlitex.ExecuteScript(mg.conn, string(body), nil); err != nil {
				return fmt.Errorf("run %s: %w", s.name, err)
			}
		}
		if err := mg.exec("CREATE TABLE IF NOT EXISTS settings (name TEXT PRIMARY KEY, value TEXT NOT NULL DEFAULT '');"); err != nil {
			return err
		}
		return mg.setSetting("version", strconv.Itoa(v+1))
	})
}

// inTx runs fn inside BEGIN IMMEDIATE, committing only when fn succeeds.
func (mg *migrator) inTx(fn func() error) error {
	if err := mg.exec("BEGIN IMMEDIATE;"); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(); err != nil {
		if rbErr := mg.exec("ROLLBACK;"); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := mg.exec("COMMIT;"); err != nil {
		mg.exec("ROLLBACK;")
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// read returns a script body, from the cache when it was read before.
func (mg *migrator) read(name string) ([]byte, error) {
	if mg.cache != nil {
		if body, ok := mg.cache.Get(name); ok {
			return body, nil
		}
	}
	body, err := fs.ReadFile(mg.scripts, name)
	if err != nil {
		return nil, err
	}
	if mg.cache != nil {
		mg.cache.Set(name, body, int64(len(body)))
	}
	return body, nil
}
