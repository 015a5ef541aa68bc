package zombiezen

import (
	"container/list"
	"errors"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
)

// TagStore caches compiled statements of one native connection, keyed by
// query text. The least recently used entry is finalized once the store
// grows past its capacity.
type TagStore struct {
	conn     *sqlite.Conn
	capacity int
	order    *list.List // front is most recently used
	entries  map[string]*list.Element
	loose    map[*sqlite.Stmt]struct{} // handed out but not cached
	closed   bool

	onSize func(size int)     // called after the store grew
	onUse  func(query string) // called for every statement handed out
}

type tagEntry struct {
	query  string
	stmt   *sqlite.Stmt
	busy   bool // stepping, not to be handed out twice
	pinned bool // returned by Prepare, owned by the caller until Close
}

func newTagStore(conn *sqlite.Conn, capacity int) *TagStore {
	if capacity < 1 {
		capacity = 1
	}
	return &TagStore{
		conn:     conn,
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		loose:    make(map[*sqlite.Stmt]struct{}),
	}
}

// Size is the number of cached statements. A nil store is empty.
func (ts *TagStore) Size() int {
	if ts == nil {
		return 0
	}
	return len(ts.entries)
}

func (ts *TagStore) Capacity() int {
	if ts == nil {
		return 0
	}
	return ts.capacity
}

// acquire returns a statement for query ready to be bound and the function
// that gives it back. While a cached statement is busy a second acquire of
// the same query gets a transient statement finalized on release. Giving a
// statement back after close is a no-op.
func (ts *TagStore) acquire(query string) (*sqlite.Stmt, func(), error) {
	if ts.onUse != nil {
		ts.onUse(query)
	}

	if el, ok := ts.entries[query]; ok {
		entry := el.Value.(*tagEntry)
		if !entry.busy && !entry.pinned {
			ts.order.MoveToFront(el)
			entry.busy = true
			return entry.stmt, func() { ts.giveBack(entry) }, nil
		}
		stmt, err := ts.prepare(query)
		if err != nil {
			return nil, nil, err
		}
		ts.loose[stmt] = struct{}{}
		return stmt, func() { ts.drop(stmt) }, nil
	}

	stmt, err := ts.prepare(query)
	if err != nil {
		return nil, nil, err
	}
	entry := &tagEntry{query: query, stmt: stmt, busy: true}
	ts.entries[query] = ts.order.PushFront(entry)
	ts.evict()
	if ts.onSize != nil {
		ts.onSize(len(ts.entries))
	}
	return stmt, func() { ts.giveBack(entry) }, nil
}

// giveBack resets a cached statement after use, or finalizes it when it was
// evicted while busy.
func (ts *TagStore) giveBack(entry *tagEntry) {
	entry.busy = false
	if ts.closed {
		return
	}
	if _, evicted := ts.loose[entry.stmt]; evicted {
		ts.drop(entry.stmt)
		return
	}
	entry.stmt.Reset()
	entry.stmt.ClearBindings()
}

// drop finalizes a statement that is not cached.
func (ts *TagStore) drop(stmt *sqlite.Stmt) {
	if ts.closed {
		return
	}
	delete(ts.loose, stmt)
	stmt.Finalize()
}

// pin hands out the cached statement of query for the caller to keep. It
// stays out of eviction until the store is closed.
func (ts *TagStore) pin(query string) (*sqlite.Stmt, error) {
	if el, ok := ts.entries[query]; ok {
		entry := el.Value.(*tagEntry)
		if !entry.busy {
			ts.order.MoveToFront(el)
			entry.pinned = true
			return entry.stmt, nil
		}
	}
	stmt, release, err := ts.acquire(query)
	if err != nil {
		return nil, err
	}
	release()
	el, ok := ts.entries[query]
	if !ok {
		return nil, fmt.Errorf("statement cache full of busy statements")
	}
	el.Value.(*tagEntry).pinned = true
	return stmt, nil
}

func (ts *TagStore) prepare(query string) (*sqlite.Stmt, error) {
	stmt, trailing, err := ts.conn.PrepareTransient(query)
	if err != nil {
		return nil, fmt.Errorf("prepare %q: %w", query, err)
	}
	if trailing > 0 && strings.TrimSpace(query[len(query)-trailing:]) != "" {
		stmt.Finalize()
		return nil, fmt.Errorf("prepare %q: multiple statements, use ExecScript", query)
	}
	return stmt, nil
}

// evict drops least recently used entries above capacity. Pinned entries
// stay. A busy entry leaves the store and is finalized by its release.
func (ts *TagStore) evict() {
	for el := ts.order.Back(); el != nil && len(ts.entries) > ts.capacity; {
		prev := el.Prev()
		entry := el.Value.(*tagEntry)
		if !entry.pinned {
			ts.order.Remove(el)
			delete(ts.entries, entry.query)
			if entry.busy {
				ts.loose[entry.stmt] = struct{}{}
			} else {
				entry.stmt.Finalize()
			}
		}
		el = prev
	}
}

// close finalizes every statement of the store, cached or still busy.
func (ts *TagStore) close() error {
	ts.closed = true
	var errs []error
	for el := ts.order.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*tagEntry).stmt.Finalize(); err != nil {
			errs = append(errs, err)
		}
	}
	for stmt := range ts.loose {
		if err := stmt.Finalize(); err != nil {
			errs = append(errs, err)
		}
	}
	ts.order.Init()
	clear(ts.entries)
	clear(ts.loose)
	return errors.Join(errs...)
}
