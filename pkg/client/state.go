package client

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrBusy is returned when a mutation is already in flight
	ErrBusy = errors.New("operation already in progress")
	// ErrSuperseded is returned for a fetch whose result was dropped because
	// a later one was started
	ErrSuperseded = errors.New("superseded by a newer request")
)

// Sequencer numbers requests so only the response to the most recent one is
// applied. Responses to superseded requests are dropped.
type Sequencer struct {
	mu     sync.Mutex
	latest uint64
}

// Next issues a new generation and supersedes all earlier ones
func (s *Sequencer) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest++
	return s.latest
}

// Current returns the latest generation issued
func (s *Sequencer) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Apply runs fn only if gen is still the latest generation. It reports
// whether fn ran.
func (s *Sequencer) Apply(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.latest {
		return false
	}
	fn()
	return true
}

// Busy rejects a second submission while one is running
type Busy struct {
	held atomic.Bool
}

// TryAcquire takes the gate or returns ErrBusy
func (b *Busy) TryAcquire() error {
	if !b.held.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

// Release frees the gate
func (b *Busy) Release() {
	b.held.Store(false)
}

// View is the local state of one remote resource
type View[T any] struct {
	Loading bool
	Err     error
	Data    T

	mu sync.Mutex
}

// Load runs fetch and records its outcome. Loading is always reset. On
// failure Data is reset to its zero value so stale results are never shown.
func (v *View[T]) Load(fetch func() (T, error)) error {
	v.mu.Lock()
	v.Loading = true
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.Loading = false
		v.mu.Unlock()
	}()

	data, err := fetch()
	v.mu.Lock()
	v.set(data, err)
	v.mu.Unlock()
	return err
}

// LoadSeq is Load for overlapping fetches: the outcome is recorded only if no
// later fetch was started on seq in the meantime. Superseded results are
// dropped and ErrSuperseded is returned.
func (v *View[T]) LoadSeq(seq *Sequencer, fetch func() (T, error)) error {
	gen := seq.Next()
	v.mu.Lock()
	v.Loading = true
	v.mu.Unlock()

	data, err := fetch()

	applied := seq.Apply(gen, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.set(data, err)
		v.Loading = false
	})
	if !applied {
		return ErrSuperseded
	}
	return err
}

// ViewState is a point-in-time copy of a View
type ViewState[T any] struct {
	Loading bool
	Err     error
	Data    T
}

// State returns a copy of the view state
func (v *View[T]) State() ViewState[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ViewState[T]{Loading: v.Loading, Err: v.Err, Data: v.Data}
}

func (v *View[T]) set(data T, err error) {
	if err != nil {
		var zero T
		v.Data = zero
		v.Err = err
		return
	}
	v.Data = data
	v.Err = nil
}
