package zombiezen

import (
	"fmt"

	"github.com/caasmo/litepool/db"
	"zombiezen.com/go/sqlite"
)

// ScalarFunc implements an application defined SQL function.
type ScalarFunc func(args []sqlite.Value) (sqlite.Value, error)

type FunctionOptions struct {
	// NArgs is the number of arguments, -1 for variadic.
	NArgs int

	// Deterministic lets the query planner factor out repeated calls.
	Deterministic bool

	// DirectOnly forbids use from triggers and views.
	DirectOnly bool
}

type registeredFunction struct {
	options FunctionOptions
	impl    ScalarFunc
}

func (f registeredFunction) native() *sqlite.FunctionImpl {
	impl := f.impl
	return &sqlite.FunctionImpl{
		NArgs:         f.options.NArgs,
		Deterministic: f.options.Deterministic,
		AllowIndirect: !f.options.DirectOnly,
		Scalar: func(_ sqlite.Context, args []sqlite.Value) (sqlite.Value, error) {
			return impl(args)
		},
	}
}

// RegisterFunction defines a scalar SQL function on this handle's
// connection. The registration is remembered and replayed on every
// connection later used by this handle or by its borrowed handles.
// Only an original handle may register functions.
func (h *Handle) RegisterFunction(name string, opts FunctionOptions, fn ScalarFunc) error {
	if h.mgr == nil {
		return db.ErrConstructionMisuse
	}
	if h.creator != nil {
		return db.ErrFunctionRegistration
	}
	if err := h.lock(); err != nil {
		return err
	}
	defer h.mu.Unlock()

	f := registeredFunction{options: opts, impl: fn}
	if err := h.conn.CreateFunction(name, f.native()); err != nil {
		return fmt.Errorf("%w: %s: %v", db.ErrFunctionRegistration, name, err)
	}

	h.fnMu.Lock()
	h.functions[name] = f
	h.fnMu.Unlock()
	return nil
}

// replayFunctions registers the function map of the original handle on conn.
func (h *Handle) replayFunctions(conn *sqlite.Conn) error {
	root := h
	if h.creator != nil {
		root = h.creator
	}

	root.fnMu.Lock()
	fns := make(map[string]registeredFunction, len(root.functions))
	for name, f := range root.functions {
		fns[name] = f
	}
	root.fnMu.Unlock()

	for name, f := range fns {
		if err := conn.CreateFunction(name, f.native()); err != nil {
			return fmt.Errorf("%w: replay %s: %v", db.ErrFunctionRegistration, name, err)
		}
	}
	return nil
}
