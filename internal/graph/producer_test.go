package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerdex/peerdex/internal/queue"
	"github.com/peerdex/peerdex/pkg/fetch/fetchtest"
	"github.com/peerdex/peerdex/pkg/storage/memory"
	"github.com/peerdex/peerdex/pkg/types"
)

// runProducer drains the queue concurrently and returns every emitted
// candidate once the producer closes it.
func runProducer(t *testing.T, p *Producer, seeds []types.PubKey, maxRadius int) []types.Candidate {
	t.Helper()

	q := queue.New(0)
	done := make(chan []types.Candidate, 1)
	go func() {
		var got []types.Candidate
		for c := range q.Items() {
			got = append(got, c)
		}
		done <- got
	}()

	p.Run(context.Background(), seeds, maxRadius, q)

	select {
	case got := <-done:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("queue never closed")
		return nil
	}
}

func radiusOf(t *testing.T, candidates []types.Candidate, pk types.PubKey) int {
	t.Helper()
	for _, c := range candidates {
		if c.PubKey == pk {
			return c.Radius
		}
	}
	t.Fatalf("candidate %s not emitted", pk.Short())
	return -1
}

func newMemoryCache(t *testing.T) *memory.Cache {
	t.Helper()
	cache, err := memory.New()
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache
}

func TestProducerExpandsBreadthFirst(t *testing.T) {
	// A follows B and C; B follows D.
	a, b, c, d := pubkey(1), pubkey(2), pubkey(3), pubkey(4)

	client := fetchtest.NewClient().
		SetFollows(a, b, c).
		SetFollows(b, d)

	p := NewProducer(newMemoryCache(t), client)
	got := runProducer(t, p, []types.PubKey{a}, 2)

	require.Len(t, got, 4)
	require.Equal(t, 0, radiusOf(t, got, a))
	require.Equal(t, 1, radiusOf(t, got, b))
	require.Equal(t, 1, radiusOf(t, got, c))
	require.Equal(t, 2, radiusOf(t, got, d))
}

func TestProducerEmitsEachPubKeyOnce(t *testing.T) {
	// B and C both follow D; D follows A (a cycle back to the seed).
	a, b, c, d := pubkey(1), pubkey(2), pubkey(3), pubkey(4)

	client := fetchtest.NewClient().
		SetFollows(a, b, c).
		SetFollows(b, d).
		SetFollows(c, d).
		SetFollows(d, a)

	p := NewProducer(newMemoryCache(t), client)
	got := runProducer(t, p, []types.PubKey{a}, 3)

	seen := make(map[types.PubKey]int)
	for _, cand := range got {
		seen[cand.PubKey]++
	}
	for pk, n := range seen {
		require.Equal(t, 1, n, "pubkey %s emitted %d times", pk.Short(), n)
	}
	require.Len(t, seen, 4)
}

func TestProducerServesCachedFollowListsWithoutFetching(t *testing.T) {
	a, b := pubkey(1), pubkey(2)

	cache := newMemoryCache(t)
	cache.SetFollowList(&types.FollowList{PubKey: a, Follows: []types.PubKey{b}, FetchedAt: time.Now()}, time.Minute)

	client := fetchtest.NewClient()
	p := NewProducer(cache, client)
	got := runProducer(t, p, []types.PubKey{a}, 1)

	require.Len(t, got, 2)
	require.False(t, client.FetchedPubKeys("FetchFollowLists")[a], "cached pubkey was fetched")
}

func TestProducerWritesFetchedFollowListsBack(t *testing.T) {
	a, b := pubkey(1), pubkey(2)

	cache := newMemoryCache(t)
	client := fetchtest.NewClient().SetFollows(a, b)

	p := NewProducer(cache, client)
	runProducer(t, p, []types.PubKey{a}, 1)

	fl, ok := cache.FollowList(a)
	require.True(t, ok)
	require.Equal(t, []types.PubKey{b}, fl.Follows)
}

func TestProducerEmptySeedsUseFallback(t *testing.T) {
	well, friend := pubkey(10), pubkey(11)

	client := fetchtest.NewClient().SetFollows(well, friend)
	p := NewProducer(newMemoryCache(t), client, WithFallbackSeeds([]types.PubKey{well}))

	got := runProducer(t, p, nil, 1)

	require.Len(t, got, 2)
	require.Equal(t, 0, radiusOf(t, got, well))
	require.Equal(t, 1, radiusOf(t, got, friend))
}

func TestProducerUnexpandableSeedsUseFallback(t *testing.T) {
	// The seed has no follow list anywhere; the fallback cohort must be
	// injected so the search is not permanently starved.
	lonely, well, friend := pubkey(1), pubkey(10), pubkey(11)

	client := fetchtest.NewClient().SetFollows(well, friend)
	p := NewProducer(newMemoryCache(t), client, WithFallbackSeeds([]types.PubKey{well}))

	got := runProducer(t, p, []types.PubKey{lonely}, 2)

	require.Equal(t, 0, radiusOf(t, got, lonely))
	require.Equal(t, 0, radiusOf(t, got, well))
	require.Equal(t, 1, radiusOf(t, got, friend))
}

func TestProducerNoFallbackWithEmptyFallbackSet(t *testing.T) {
	p := NewProducer(newMemoryCache(t), fetchtest.NewClient())
	got := runProducer(t, p, nil, 2)
	require.Empty(t, got)
}

func TestProducerInjectsGroupPeersAtRadiusOne(t *testing.T) {
	a, b, peer := pubkey(1), pubkey(2), pubkey(20)

	client := fetchtest.NewClient().SetFollows(a, b)
	groups := staticGroups{peer}

	p := NewProducer(newMemoryCache(t), client, WithGroupSource(groups))
	got := runProducer(t, p, []types.PubKey{a}, 1)

	require.Equal(t, 1, radiusOf(t, got, peer))
}

func TestProducerGroupPeerAlreadyDiscoveredKeepsFirstRadius(t *testing.T) {
	a, b := pubkey(1), pubkey(2)

	client := fetchtest.NewClient().SetFollows(a, b)
	groups := staticGroups{a}

	p := NewProducer(newMemoryCache(t), client, WithGroupSource(groups))
	got := runProducer(t, p, []types.PubKey{a}, 1)

	require.Equal(t, 0, radiusOf(t, got, a))
	require.Len(t, got, 2)
}

func TestProducerFetchFailureIsNotRetried(t *testing.T) {
	a, b, c := pubkey(1), pubkey(2), pubkey(3)

	client := fetchtest.NewClient().
		SetFollows(a, b, c).
		FailFollowLists(b)

	p := NewProducer(newMemoryCache(t), client)
	got := runProducer(t, p, []types.PubKey{a}, 2)

	// b's follow list fetch missed; only a, b, c are ever discovered, and
	// the miss is not retried: one fetch per radius.
	require.Len(t, got, 3)
	require.Equal(t, 2, client.CallCount("FetchFollowLists"))
}

func TestProducerRespectsMaxRadius(t *testing.T) {
	a, b, c := pubkey(1), pubkey(2), pubkey(3)

	client := fetchtest.NewClient().
		SetFollows(a, b).
		SetFollows(b, c)

	p := NewProducer(newMemoryCache(t), client)
	got := runProducer(t, p, []types.PubKey{a}, 1)

	require.Len(t, got, 2)
	for _, cand := range got {
		require.LessOrEqual(t, cand.Radius, 1)
	}
}

func TestProducerStopsOnCancellation(t *testing.T) {
	a, b := pubkey(1), pubkey(2)

	client := fetchtest.NewClient().
		SetFollows(a, b).
		SetLatency(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := queue.New(0)
	p := NewProducer(newMemoryCache(t), client)
	p.Run(ctx, []types.PubKey{a}, 3, q)

	// The queue must be closed even though nothing was emitted.
	for range q.Items() {
		t.Fatal("candidate emitted after cancellation")
	}
}

type staticGroups []types.PubKey

func (g staticGroups) Peers() []types.PubKey {
	return g
}
