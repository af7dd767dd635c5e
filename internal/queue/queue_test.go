package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerdex/peerdex/pkg/types"
)

func candidate(b byte, radius int) types.Candidate {
	var pk types.PubKey
	pk[0] = b
	return types.Candidate{PubKey: pk, Radius: radius}
}

func TestPushAndDrain(t *testing.T) {
	q := New(4)

	require.True(t, q.Push(context.Background(), candidate(1, 0)))
	require.True(t, q.Push(context.Background(), candidate(2, 1)))
	q.Close()

	var got []types.Candidate
	for c := range q.Items() {
		got = append(got, c)
	}
	require.Len(t, got, 2)
	require.Equal(t, 0, got[0].Radius)
	require.Equal(t, 1, got[1].Radius)
}

func TestPushCancelledContext(t *testing.T) {
	q := New(1)
	require.True(t, q.Push(context.Background(), candidate(1, 0)))

	// The queue is full; a second push must unblock via cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, q.Push(ctx, candidate(2, 0)))
}

func TestCloseIsIdempotent(t *testing.T) {
	q := New(1)
	q.Close()
	q.Close()

	_, ok := <-q.Items()
	require.False(t, ok)
}

func TestDefaultCapacity(t *testing.T) {
	q := New(0)
	require.Equal(t, DefaultCapacity, cap(q.ch))
}
