package message

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded FIFO of envelopes.
type Queue struct {
	mu    sync.Mutex
	items []*Envelope
	ready chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Put appends envelopes in order. It never blocks.
func (q *Queue) Put(envs ...*Envelope) {
	if len(envs) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, envs...)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Get waits up to timeout for the next envelope. A zero timeout waits until
// ctx is done.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (*Envelope, bool) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		if env, ok := q.pop(); ok {
			return env, true
		}
		select {
		case <-q.ready:
		case <-expired:
			return q.pop()
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *Queue) pop() (*Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	env := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return env, true
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
