// Package memory provides a bounded in-process queue with a configurable
// full-queue policy.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/host-inventory/internal/metrics"
)

// OverflowPolicy decides what Enqueue does when the queue is full.
type OverflowPolicy string

// Supported overflow policies.
const (
	// Block waits for space or for the context to end.
	Block OverflowPolicy = "block"
	// DropOldest evicts the oldest queued item to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// Reject fails the enqueue with ErrQueueFull.
	Reject OverflowPolicy = "reject"
)

var (
	// ErrQueueFull is returned by Enqueue under the Reject policy.
	ErrQueueFull = errors.New("queue full")
	// ErrClosed is returned once the queue has been closed and drained.
	ErrClosed = errors.New("queue closed")
)

// ParsePolicy validates a policy name. An empty name selects Block.
func ParsePolicy(name string) (OverflowPolicy, error) {
	switch OverflowPolicy(name) {
	case "", Block:
		return Block, nil
	case DropOldest, Reject:
		return OverflowPolicy(name), nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", name)
	}
}

// Queue is a bounded FIFO with context-aware operations.
type Queue[T any] struct {
	name    string
	policy  OverflowPolicy
	ch      chan T
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// NewQueue constructs a queue with the provided capacity and overflow policy.
func NewQueue[T any](name string, capacity int, policy OverflowPolicy) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	if policy == "" {
		policy = Block
	}
	return &Queue[T]{
		name:   name,
		policy: policy,
		ch:     make(chan T, capacity),
		done:   make(chan struct{}),
	}
}

// Enqueue adds an item, applying the overflow policy when the queue is full.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	switch q.policy {
	case Reject:
		select {
		case q.ch <- item:
			return nil
		default:
			q.overflow()
			return ErrQueueFull
		}
	case DropOldest:
		for {
			select {
			case q.ch <- item:
				return nil
			default:
			}
			select {
			case <-q.ch:
				q.overflow()
			default:
			}
		}
	default:
		select {
		case <-ctx.Done():
			return fmt.Errorf("enqueue canceled: %w", ctx.Err())
		case <-q.done:
			return ErrClosed
		case q.ch <- item:
			return nil
		}
	}
}

// Dequeue pops the next item, respecting context cancellation. Items queued
// before Close are still delivered.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case item := <-q.ch:
		return item, nil
	default:
	}
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return zero, ErrClosed
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Dropped returns how many items the overflow policy discarded or rejected.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops accepting new items. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.done)
	q.closed = true
}

func (q *Queue[T]) overflow() {
	q.dropped.Add(1)
	metrics.ObserveQueueOverflow(q.name, string(q.policy))
}
