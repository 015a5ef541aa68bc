package zombiezen

import (
	"errors"
	"sync"

	"github.com/caasmo/litepool/gate"
	"zombiezen.com/go/sqlite"
)

// idlePool keeps native connections that are open but unused, per database
// file. Reuse is LIFO. Every idle connection still holds the gate slot it was
// opened with; the slot is released only when the connection is closed.
type idlePool struct {
	gate *gate.Gate

	mu     sync.Mutex
	idle   map[string][]idleConn
	seq    uint64 // release counter, orders idle connections across files
	closed bool
}

type idleConn struct {
	conn     *sqlite.Conn
	released uint64
}

func newIdlePool(g *gate.Gate) *idlePool {
	return &idlePool{
		gate: g,
		idle: make(map[string][]idleConn),
	}
}

// acquire pops the most recently released connection of file.
func (p *idlePool) acquire(file string) (*sqlite.Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.idle[file]
	if len(conns) == 0 {
		return nil, false
	}
	conn := conns[len(conns)-1].conn
	conns = conns[:len(conns)-1]
	if len(conns) == 0 {
		delete(p.idle, file)
	} else {
		p.idle[file] = conns
	}
	return conn, true
}

// release keeps conn idle while file has fewer than minKeep idle connections
// and the pool is not drained. Otherwise conn is closed and its slot returned.
func (p *idlePool) release(file string, conn *sqlite.Conn, minKeep int) (bool, error) {
	p.mu.Lock()
	if !p.closed && len(p.idle[file]) < minKeep {
		p.seq++
		p.idle[file] = append(p.idle[file], idleConn{conn: conn, released: p.seq})
		p.mu.Unlock()
		return true, nil
	}
	p.mu.Unlock()

	err := conn.Close()
	p.gate.Release()
	return false, err
}

// evictOne closes the least recently released connection of any file, making
// room under the gate ceiling for a file that has no idle connection.
func (p *idlePool) evictOne() (bool, error) {
	p.mu.Lock()
	var conn *sqlite.Conn
	oldest, found := "", false
	for file, conns := range p.idle {
		// each stack is in release order, its bottom is the oldest
		if !found || conns[0].released < p.idle[oldest][0].released {
			oldest, found = file, true
		}
	}
	if found {
		conns := p.idle[oldest]
		conn = conns[0].conn
		if len(conns) == 1 {
			delete(p.idle, oldest)
		} else {
			p.idle[oldest] = conns[1:]
		}
	}
	p.mu.Unlock()

	if conn == nil {
		return false, nil
	}
	err := conn.Close()
	p.gate.Release()
	return true, err
}

// drain closes every idle connection. Later releases close immediately.
func (p *idlePool) drain() error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = make(map[string][]idleConn)
	p.mu.Unlock()

	var errs []error
	for _, conns := range idle {
		for _, ic := range conns {
			if err := ic.conn.Close(); err != nil {
				errs = append(errs, err)
			}
			p.gate.Release()
		}
	}
	return errors.Join(errs...)
}

func (p *idlePool) idleCount(file string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[file])
}

func (p *idlePool) counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.idle))
	for file, conns := range p.idle {
		out[file] = len(conns)
	}
	return out
}
