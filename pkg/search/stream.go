package search

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peerdex/peerdex/pkg/types"
)

const resultBuffer = 64

// Handle is one live search. Results are streamed on Results(); the channel
// closes when the search completes, reaches its result target, or is
// canceled. A Handle never reports an error: a search that finds nothing
// simply closes its stream empty.
type Handle struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc

	results chan types.SearchResult
	done    chan struct{}

	target     int
	started    time.Time
	targetOnce sync.Once

	mu      sync.Mutex
	seen    map[types.PubKey]bool
	emitted int
}

func newHandle(ctx context.Context, cancel context.CancelFunc, target int) *Handle {
	return &Handle{
		id:      uuid.New(),
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan types.SearchResult, resultBuffer),
		done:    make(chan struct{}),
		target:  target,
		started: time.Now(),
		seen:    make(map[types.PubKey]bool),
	}
}

// ID identifies the search in logs and traces.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Results returns the match stream. Every pubkey appears at most once.
func (h *Handle) Results() <-chan types.SearchResult {
	return h.results
}

// Done closes once the search has fully wound down: both the producer and
// the consumer have returned and the result stream is closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel abandons the search. In-flight fetches are abandoned, not awaited;
// the result stream closes once both halves have returned. Idempotent.
func (h *Handle) Cancel() {
	h.cancel()
}

// emit delivers one match to the stream, dropping duplicate pubkeys. It
// returns false once no further results are wanted.
func (h *Handle) emit(res types.SearchResult) bool {
	h.mu.Lock()
	if h.seen[res.PubKey] {
		h.mu.Unlock()
		return true
	}
	h.seen[res.PubKey] = true
	h.emitted++
	n := h.emitted
	h.mu.Unlock()

	select {
	case h.results <- res:
	case <-h.ctx.Done():
		return false
	}

	elapsed := float64(time.Since(h.started).Milliseconds())
	resultCounter.Inc()
	if n == 1 {
		timeToFirstResultMsHistogram.Observe(elapsed)
	}
	if h.target > 0 && n >= h.target {
		h.targetOnce.Do(func() {
			timeToTargetMsHistogram.Observe(elapsed)
		})
		// Target reached: stop both halves rather than letting the
		// producer keep expanding a graph nobody will resolve.
		h.cancel()
		return false
	}
	return true
}
