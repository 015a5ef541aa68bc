package db

import (
	"fmt"
	"strconv"
	"time"
)

// Row is a single result row keyed by column name.
// Values are int64, float64, string, []byte or nil, following the column's
// storage class.
type Row map[string]any

// Named binds named statement parameters (:name, @name or $name).
// Passed as the only argument of a query it replaces positional binding.
// Keys may be given with or without the prefix.
type Named map[string]any

// Int64 returns the column as an integer. Text columns are parsed, a missing
// column or NULL yields 0.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	}
	return 0
}

// Text returns the column formatted as a string. NULL yields "".
func (r Row) Text(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// HandleInfo describes a handle at the moment it is being closed.
type HandleInfo struct {
	Name         string
	File         string
	Secondary    bool
	InTx         bool
	TagStoreSize int
}

// Observer is notified when a handle is about to hand its native connection
// back to the pool.
type Observer interface {
	OnClose(info HandleInfo)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(info HandleInfo)

func (f ObserverFunc) OnClose(info HandleInfo) { f(info) }

// TimeFormat formats a time as RFC3339 in UTC, the layout used for every
// timestamp bound to a statement.
func TimeFormat(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// TimeParse parses a timestamp stored with TimeFormat. An empty string is the
// zero time.
func TimeParse(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("db: invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
