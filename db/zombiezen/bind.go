package zombiezen

import (
	"fmt"
	"time"

	"github.com/caasmo/litepool/db"
	"zombiezen.com/go/sqlite"
)

// bindArgs binds args to stmt. A single db.Named argument binds named
// parameters, anything else binds positionally.
func bindArgs(stmt *sqlite.Stmt, args []any) error {
	if len(args) == 1 {
		if named, ok := args[0].(db.Named); ok {
			return bindNamed(stmt, named)
		}
	}
	if n := stmt.BindParamCount(); n != len(args) {
		return fmt.Errorf("statement expects %d parameters, got %d", n, len(args))
	}
	for i, arg := range args {
		if err := bindValue(stmt, i+1, arg); err != nil {
			return fmt.Errorf("parameter %d: %w", i+1, err)
		}
	}
	return nil
}

// bindNamed looks each parameter up with its prefix (":id") and without ("id").
func bindNamed(stmt *sqlite.Stmt, named db.Named) error {
	for i := 1; i <= stmt.BindParamCount(); i++ {
		name := stmt.BindParamName(i)
		if name == "" {
			return fmt.Errorf("parameter %d is positional, named arguments given", i)
		}
		v, ok := named[name]
		if !ok {
			v, ok = named[name[1:]]
		}
		if !ok {
			return fmt.Errorf("missing named parameter %s", name)
		}
		if err := bindValue(stmt, i, v); err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
	}
	return nil
}

func bindValue(stmt *sqlite.Stmt, i int, v any) error {
	switch v := v.(type) {
	case nil:
		stmt.BindNull(i)
	case int:
		stmt.BindInt64(i, int64(v))
	case int32:
		stmt.BindInt64(i, int64(v))
	case int64:
		stmt.BindInt64(i, v)
	case uint32:
		stmt.BindInt64(i, int64(v))
	case float64:
		stmt.BindFloat(i, v)
	case bool:
		stmt.BindBool(i, v)
	case string:
		stmt.BindText(i, v)
	case []byte:
		stmt.BindBytes(i, v)
	case time.Time:
		stmt.BindText(i, db.TimeFormat(v))
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
	return nil
}

// readRow copies the current row of stmt, keyed by column name.
func readRow(stmt *sqlite.Stmt) db.Row {
	n := stmt.ColumnCount()
	row := make(db.Row, n)
	for i := 0; i < n; i++ {
		name := stmt.ColumnName(i)
		switch stmt.ColumnType(i) {
		case sqlite.TypeInteger:
			row[name] = stmt.ColumnInt64(i)
		case sqlite.TypeFloat:
			row[name] = stmt.ColumnFloat(i)
		case sqlite.TypeText:
			row[name] = stmt.ColumnText(i)
		case sqlite.TypeBlob:
			buf := make([]byte, stmt.ColumnLen(i))
			stmt.ColumnBytes(i, buf)
			row[name] = buf
		default:
			row[name] = nil
		}
	}
	return row
}
