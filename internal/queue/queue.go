// Package queue implements the bounded work queue shared by the graph
// producer and the resolution consumer. The producer is the sole writer.
package queue

import (
	"context"
	"sync"

	"github.com/peerdex/peerdex/pkg/types"
)

// DefaultCapacity bounds the number of undispatched candidates. Expansion of
// a well-connected seed can discover thousands of pubkeys per radius; the
// bound applies backpressure to the producer instead of buffering them all.
const DefaultCapacity = 1024

// Queue is a bounded channel of candidates flowing from the producer to the
// consumer.
//
// Close must only be called by the writer, after its final Push. This is the
// single-writer discipline the producer already follows; it is what makes
// closing the underlying channel safe.
type Queue struct {
	ch        chan types.Candidate
	closeOnce sync.Once
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch: make(chan types.Candidate, capacity),
	}
}

// Push enqueues a candidate, blocking while the queue is full. It returns
// false without enqueueing if the context is canceled first.
func (q *Queue) Push(ctx context.Context, c types.Candidate) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case q.ch <- c:
		return true
	}
}

// Items returns the receive side. Once the writer calls Close, buffered
// candidates remain receivable and the channel terminates when drained.
func (q *Queue) Items() <-chan types.Candidate {
	return q.ch
}

// Close signals graph exhaustion. Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.ch)
	})
}
