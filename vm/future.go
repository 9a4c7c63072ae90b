package vm

import (
	"context"
	"sync"
)

// ---------------------------------------------------------------------------
// Futures
// ---------------------------------------------------------------------------

// Future is the pending result of a tool call. The engine itself is
// single-threaded: a tool call returns a pending future immediately, and
// waiting on it is the explicit Await instruction, never an implicit block.
// Resolution may arrive from a provider goroutine, so the handoff is
// synchronized; everything else in the engine is not.
type Future struct {
	refs int32

	once   sync.Once
	done   chan struct{}
	val    Value
	hasVal bool
	out    any // native provider result, converted on the engine thread
	err    error
}

// NewFuture creates a pending future and the Value wrapping it.
func NewFuture() (Value, *Future) {
	f := &Future{refs: 1, done: make(chan struct{})}
	return Value{kind: KindFuture, ref: f}, f
}

// ResolvedFuture creates an already-resolved future, for providers that
// complete synchronously. Takes ownership of v.
func ResolvedFuture(v Value) Value {
	fv, f := NewFuture()
	f.Resolve(v)
	return fv
}

// AsFuture returns the future box. Panics on other kinds.
func (v Value) AsFuture() *Future {
	if v.kind != KindFuture {
		panic("vm: Value.AsFuture on " + v.kind.String())
	}
	return v.ref.(*Future)
}

// Resolve completes the future with a value, taking ownership of it.
// Settling an already-settled future is a no-op.
func (f *Future) Resolve(v Value) {
	f.once.Do(func() {
		f.val = v
		f.hasVal = true
		close(f.done)
	})
}

// ResolveNative completes the future with a native Go value. Providers run
// on their own goroutines and must not build engine values; the conversion
// happens when the engine awaits.
func (f *Future) ResolveNative(out any) {
	f.once.Do(func() {
		f.out = out
		close(f.done)
	})
}

// Fail completes the future with an error.
func (f *Future) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the future settles or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// result extracts the settled value, converting a native provider result
// through st. Must be called from the engine thread after Wait.
func (f *Future) result(st *StringTable) (Value, error) {
	if f.err != nil {
		return Null, f.err
	}
	if f.hasVal {
		return f.val.Retain(), nil
	}
	return FromNative(f.out, st)
}

// Settled reports whether the future has resolved or failed.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
