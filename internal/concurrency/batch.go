package concurrency

import (
	"context"
	"time"
)

// CollectBatch reads up to maxSize items from ch, waiting at most flushAfter
// for a partial batch to fill once the first item has arrived. It returns the
// collected batch and false when ch is closed and fully drained, or when the
// context is canceled before any item arrives.
//
// A short flushAfter keeps latency low for trickling producers while still
// amortizing per-batch work when the channel is hot.
func CollectBatch[T any](ctx context.Context, ch <-chan T, maxSize int, flushAfter time.Duration) ([]T, bool) {
	var batch []T

	select {
	case <-ctx.Done():
		return nil, false
	case first, ok := <-ch:
		if !ok {
			return nil, false
		}
		batch = append(batch, first)
	}

	timer := time.NewTimer(flushAfter)
	defer timer.Stop()

	for len(batch) < maxSize {
		select {
		case <-ctx.Done():
			return batch, true
		case <-timer.C:
			return batch, true
		case item, ok := <-ch:
			if !ok {
				return batch, true
			}
			batch = append(batch, item)
		}
	}

	return batch, true
}
