// Package queue implements the bounded packet FIFO between the ingestion
// worker and the consumer.
//
// Capacity is accounted in bytes, not packets. Producers block instead of
// dropping; Close wakes every waiter and lets consumers drain what is left
// before they observe io.EOF.
package queue

import (
	"context"
	"fmt"
	"io"
	"sync"

	"firestige.xyz/udpin/internal/core"
)

// FIFO is a byte-bounded, blocking packet queue safe for concurrent use.
type FIFO struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*core.Packet
	size     int // sum of len(Data) over items
	capacity int
	closed   bool
}

// New creates a FIFO holding at most capacity bytes of payload.
func New(capacity int) (*FIFO, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d: %w", capacity, core.ErrConfigInvalid)
	}
	q := &FIFO{
		items:    make([]*core.Packet, 0, 64),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// wakeOnDone arranges for blocked waiters to re-check their condition when
// ctx is cancelled. The returned func must be called once the wait is over.
func (q *FIFO) wakeOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
}

// Put appends p, blocking while the queue lacks room for it.
// A packet larger than the whole capacity is admitted once the queue is empty.
func (q *FIFO) Put(ctx context.Context, p *core.Packet) error {
	n := p.Len()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.full(n) && !q.closed {
		stop := q.wakeOnDone(ctx)
		defer stop()
		for q.full(n) && !q.closed {
			if err := ctx.Err(); err != nil {
				return err
			}
			q.cond.Wait()
		}
	}
	if q.closed {
		return core.ErrQueueClosed
	}

	q.items = append(q.items, p)
	q.size += n
	q.cond.Broadcast()
	return nil
}

// full reports whether adding n bytes would break the capacity bound.
// Must hold mu.
func (q *FIFO) full(n int) bool {
	return len(q.items) > 0 && q.size+n > q.capacity
}

// Get removes and returns the oldest packet. It blocks until one is
// available and returns io.EOF once the queue is closed and drained.
func (q *FIFO) Get(ctx context.Context) (*core.Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 && !q.closed {
		stop := q.wakeOnDone(ctx)
		defer stop()
		for len(q.items) == 0 && !q.closed {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			q.cond.Wait()
		}
	}
	if len(q.items) == 0 {
		return nil, io.EOF
	}

	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.size -= p.Len()
	q.cond.Broadcast()
	return p, nil
}

// Pace blocks while more than limit bytes are queued.
func (q *FIFO) Pace(ctx context.Context, limit int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size > limit && !q.closed {
		stop := q.wakeOnDone(ctx)
		defer stop()
		for q.size > limit && !q.closed {
			if err := ctx.Err(); err != nil {
				return err
			}
			q.cond.Wait()
		}
	}
	if q.closed {
		return core.ErrQueueClosed
	}
	return nil
}

// Close marks the queue closed and wakes all waiters. Queued packets stay
// readable until drained.
func (q *FIFO) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Release drops every queued packet and returns how many were dropped.
func (q *FIFO) Release() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	q.size = 0
	q.cond.Broadcast()
	return n
}

// Len returns the number of queued packets.
func (q *FIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Size returns the number of queued payload bytes.
func (q *FIFO) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity returns the configured byte capacity.
func (q *FIFO) Capacity() int {
	return q.capacity
}

// Closed reports whether Close has been called.
func (q *FIFO) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
