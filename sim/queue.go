// Implements the BoundedChannel, the fixed-capacity FIFO that connects a
// client's logical threads to its host's Delegate in each direction.

package sim

import "fmt"

// BoundedChannel is a blocking producer/consumer FIFO with a capacity fixed
// at creation. One instance carries requests from a client to the Delegate,
// another carries responses back.
type BoundedChannel[T any] struct {
	ch chan T
}

// NewBoundedChannel creates a channel holding at most capacity items.
// Panics if capacity < 1.
func NewBoundedChannel[T any](capacity int) *BoundedChannel[T] {
	if capacity < 1 {
		panic(fmt.Sprintf("NewBoundedChannel: capacity must be >= 1, got %d", capacity))
	}
	return &BoundedChannel[T]{ch: make(chan T, capacity)}
}

// Put blocks until a slot is free, then enqueues v at the tail.
func (bc *BoundedChannel[T]) Put(v T) {
	bc.ch <- v
}

// Get blocks until an item is available, then dequeues it from the head.
func (bc *BoundedChannel[T]) Get() T {
	return <-bc.ch
}

// TryPut enqueues v if a slot is free and reports whether it did.
func (bc *BoundedChannel[T]) TryPut(v T) bool {
	select {
	case bc.ch <- v:
		return true
	default:
		return false
	}
}

// TryGet dequeues the head item if one is available.
func (bc *BoundedChannel[T]) TryGet() (T, bool) {
	select {
	case v := <-bc.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// HasData reports whether a non-blocking Get would currently succeed.
// With a single consumer the answer stays true until that consumer acts.
func (bc *BoundedChannel[T]) HasData() bool {
	return len(bc.ch) > 0
}

// Len returns the number of queued items.
func (bc *BoundedChannel[T]) Len() int {
	return len(bc.ch)
}

// Cap returns the fixed capacity.
func (bc *BoundedChannel[T]) Cap() int {
	return cap(bc.ch)
}

func (bc *BoundedChannel[T]) String() string {
	return fmt.Sprintf("BoundedChannel[%d/%d]", len(bc.ch), cap(bc.ch))
}
