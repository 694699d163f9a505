package ril

import (
	"context"
	"errors"
	"sync"
)

var ErrPending = errors.New("ril: result pending")

// Result is the outcome of one solicited request.
type Result struct {
	Serial int64
	Kind   RequestKind
	Status Status
	Value  any
	Raw    []byte
}

// Event is one decoded unsolicited notification. Source differs from Kind
// when a vendor event was published under its standard kind.
type Event struct {
	Kind   EventKind
	Source EventKind
	Value  any
	Raw    []byte
}

// Completion receives the single outcome of a request.
type Completion func(Result, error)

// Future is a single-shot request outcome.
type Future struct {
	once sync.Once
	done chan struct{}
	res  Result
	err  error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Failed returns an already-resolved future carrying err.
func Failed(kind RequestKind, err error) *Future {
	f := NewFuture()
	f.Resolve(Result{Serial: -1, Kind: kind}, err)
	return f
}

// Resolve settles the future. Later calls are ignored and report false.
func (f *Future) Resolve(res Result, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.res = res
		f.err = err
		resolved = true
		close(f.done)
	})
	return resolved
}

// Completion adapts the future to the callback form.
func (f *Future) Completion() Completion {
	return func(res Result, err error) {
		f.Resolve(res, err)
	}
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome without blocking, or ErrPending.
func (f *Future) Result() (Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	default:
		return Result{}, ErrPending
	}
}

// Wait blocks until the future resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
