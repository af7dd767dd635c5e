package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrySendThroughChannel(t *testing.T) {
	var testcases = map[string]struct {
		ctxCancelled bool
		message      struct{}
	}{
		`ctx_cancel`: {
			ctxCancelled: true,
			message:      struct{}{},
		},
		`no_ctx_cancel`: {
			ctxCancelled: false,
			message:      struct{}{},
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			var channel chan struct{}
			ctx := context.Background()

			var cancelFunc context.CancelFunc
			if tc.ctxCancelled {
				channel = make(chan struct{})
				ctx, cancelFunc = context.WithCancel(ctx)
				cancelFunc()
			} else {
				channel = make(chan struct{}, 1)
			}
			TrySendThroughChannel(ctx, tc.message, channel)
			if tc.ctxCancelled {
				close(channel)
				_, ok := <-channel
				require.False(t, ok)
			} else {
				element, ok := <-channel
				require.True(t, ok)
				require.NotNil(t, element)
			}
		})
	}
}

func TestCollectBatchFillsToMaxSize(t *testing.T) {
	ch := make(chan int, 10)
	for i := 0; i < 10; i++ {
		ch <- i
	}

	batch, ok := CollectBatch(context.Background(), ch, 4, time.Second)
	require.True(t, ok)
	require.Equal(t, []int{0, 1, 2, 3}, batch)

	batch, ok = CollectBatch(context.Background(), ch, 4, time.Second)
	require.True(t, ok)
	require.Equal(t, []int{4, 5, 6, 7}, batch)
}

func TestCollectBatchFlushesPartialBatch(t *testing.T) {
	ch := make(chan int, 10)
	ch <- 42

	start := time.Now()
	batch, ok := CollectBatch(context.Background(), ch, 4, 20*time.Millisecond)
	require.True(t, ok)
	require.Equal(t, []int{42}, batch)
	require.Less(t, time.Since(start), time.Second)
}

func TestCollectBatchClosedChannel(t *testing.T) {
	ch := make(chan int, 2)
	ch <- 1
	ch <- 2
	close(ch)

	batch, ok := CollectBatch(context.Background(), ch, 10, 20*time.Millisecond)
	require.True(t, ok)
	require.Equal(t, []int{1, 2}, batch)

	batch, ok = CollectBatch(context.Background(), ch, 10, 20*time.Millisecond)
	require.False(t, ok)
	require.Empty(t, batch)
}

func TestCollectBatchCancelledBeforeFirstItem(t *testing.T) {
	ch := make(chan int)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, ok := CollectBatch(ctx, ch, 10, time.Second)
	require.False(t, ok)
	require.Empty(t, batch)
}
