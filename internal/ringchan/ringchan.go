// Package ringchan provides a bounded channel with overwrite-oldest semantics
// for broadcasting state to slow observers.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel wraps a buffered channel so producers never block: when the
// buffer is full the oldest element is discarded. Observers that only care
// about the most recent values (status updates) read from C().
//
//	rc := ringchan.New[Status](1)
//	rc.ForceSend(s) // never blocks, keeps only the newest when capacity is 1
//	for s := range rc.C() { ... }
type RingChannel[T any] struct {
	mu      sync.Mutex
	ch      chan T
	closed  bool
	metrics Metrics
}

// New creates a RingChannel with the given capacity
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
// Consumers can range over it until Close is called.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend inserts v, discarding the oldest element if the buffer is full.
// Returns true when an element was dropped. Sending after Close is a no-op.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return false
	}

	dropped := false
	for {
		select {
		case rc.ch <- v:
			atomic.AddInt64(&rc.metrics.Written, 1)
			return dropped
		default:
		}
		// a consumer may drain concurrently; loop until the send lands
		select {
		case <-rc.ch:
			atomic.AddInt64(&rc.metrics.Overwritten, 1)
			dropped = true
		default:
		}
	}
}

// TryReceive attempts a non-blocking receive.
// Returns (zero, false) if no value is ready.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the buffer capacity
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// GetMetrics returns a snapshot of the write counters
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// Metrics counts writes and overwritten (dropped) elements
type Metrics struct {
	Written     int64
	Overwritten int64
}
