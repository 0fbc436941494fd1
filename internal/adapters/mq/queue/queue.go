// Package queue defines the contract for enqueuing and consuming raw
// signals. Ingestion must never block the producer that emitted a signal,
// so enqueue is non-blocking and backpressure is an explicit false.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultCapacity = 100_000
)

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a signal. Returns false when the queue is full or
	// closed and the signal was not accepted.
	Enqueue(ctx context.Context, s signal.Signal) bool

	// Dequeue returns a channel receiving signals as they become
	// available. Closed when the queue closes.
	Dequeue(ctx context.Context) <-chan signal.Signal

	// Len returns the current number of queued signals.
	Len(ctx context.Context) int

	// Close stops the queue; no further enqueues are accepted.
	Close() error

	// IsClosed reports whether the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue over a buffered channel.
type InMemoryQueue struct {
	signals  chan signal.Signal
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates an in-memory signal queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.signals = make(chan signal.Signal, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a signal without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, s signal.Signal) bool {
	start := time.Now()
	defer func() {
		metrics.RecordQueueLatency(float64(time.Since(start).Milliseconds()))
	}()

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return false
	}

	select {
	case q.signals <- s:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.signals))
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError("context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError("queue_full")
		return false
	}
}

// Dequeue returns a channel receiving queued signals.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan signal.Signal {
	out := make(chan signal.Signal)
	go func() {
		defer close(out)
		for s := range q.signals {
			select {
			case out <- s:
				metrics.RecordQueueDequeue()
				metrics.UpdateQueueSize(len(q.signals))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued signals.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.signals)
	metrics.UpdateQueueSize(size)
	return size
}

// Close stops the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.signals)
	q.closed = true
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
