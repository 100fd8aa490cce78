// Package shared implements reference-counted handles over one physical
// resource (a pixel buffer, an open stream) held by several logical owners.
//
// The count lives on the holder and is only mutated under the holder's
// mutex. Teardown runs exactly once, outside that mutex, when the last
// handle is released. Finalizers are never used.
package shared

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mixcode/imagecore/errs"
)

type holder[T any] struct {
	mu       sync.Mutex
	refs     int
	value    T
	teardown func(T) error
}

// Handle is one logical owner's reference to a shared value.
type Handle[T any] struct {
	h        *holder[T]
	released atomic.Bool
}

// New creates the first handle for value; its count starts at 1.
// teardown may be nil.
func New[T any](value T, teardown func(T) error) *Handle[T] {
	return &Handle[T]{h: &holder[T]{refs: 1, value: value, teardown: teardown}}
}

// NewCloser shares c and closes it when the last handle is released.
func NewCloser[T io.Closer](c T) *Handle[T] {
	return New(c, func(c T) error { return c.Close() })
}

// Share returns a new handle aliasing the same holder.
func (s *Handle[T]) Share() (*Handle[T], error) {
	if s.released.Load() {
		return nil, fmt.Errorf("share: %w", errs.ErrDisposed)
	}
	h := s.h
	h.mu.Lock()
	if h.refs <= 0 {
		h.mu.Unlock()
		return nil, fmt.Errorf("share: %w", errs.ErrDisposed)
	}
	h.refs++
	h.mu.Unlock()
	return &Handle[T]{h: h}, nil
}

// Release drops this handle's reference. Only the first call has an
// effect; the call that brings the count to zero runs teardown and returns
// its error.
func (s *Handle[T]) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}
	h := s.h
	h.mu.Lock()
	h.refs--
	last := h.refs == 0
	h.mu.Unlock()

	if !last || h.teardown == nil {
		return nil
	}
	return h.teardown(h.value)
}

// Value returns the shared payload, or ErrDisposed once released.
func (s *Handle[T]) Value() (v T, err error) {
	if s.released.Load() {
		err = errs.ErrDisposed
		return
	}
	return s.h.value, nil
}

// MustValue is Value for callers that treat a released handle as a bug.
func (s *Handle[T]) MustValue() T {
	v, err := s.Value()
	if err != nil {
		panic(fmt.Errorf("shared: %w: %w", errs.ErrContractViolation, err))
	}
	return v
}

// Released reports whether this handle has been released.
func (s *Handle[T]) Released() bool {
	return s.released.Load()
}

// RefCount returns the number of live handles on the holder.
func (s *Handle[T]) RefCount() int {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return s.h.refs
}

// Aliases reports whether both handles share one holder.
func (s *Handle[T]) Aliases(other *Handle[T]) bool {
	return s != nil && other != nil && s.h == other.h
}
