package graph

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/emirpasic/gods/sets/linkedhashset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/peerdex/peerdex/internal/build"
	"github.com/peerdex/peerdex/internal/concurrency"
	"github.com/peerdex/peerdex/internal/queue"
	"github.com/peerdex/peerdex/pkg/fetch"
	"github.com/peerdex/peerdex/pkg/logger"
	"github.com/peerdex/peerdex/pkg/storage"
	"github.com/peerdex/peerdex/pkg/types"
)

const (
	defaultFetchBatchSize       = 50
	defaultMaxConcurrentFetches = 4
	defaultFetchTimeout         = 5 * time.Second
)

var tracer = otel.Tracer("peerdex/internal/graph")

var (
	discoveredCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "producer_discovered_total",
		Help:      "The total number of pubkeys discovered, by radius.",
	}, []string{"radius"})

	followListCacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "producer_follow_list_cache_hit_count",
		Help:      "The total number of follow lists served from the graph cache.",
	})

	followListFetchMissCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "producer_follow_list_fetch_miss_count",
		Help:      "The total number of pubkeys whose follow list fetch yielded nothing.",
	})

	fallbackSeedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "producer_fallback_seed_count",
		Help:      "The total number of fallback seeds injected for empty or unexpandable seed sets.",
	})

	groupPeerCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "producer_group_peer_count",
		Help:      "The total number of group peers injected at radius 1.",
	})

	followListFetchLatencyMsHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "producer_follow_list_fetch_latency_ms",
		Help:                            "Latency of batched follow list fetches.",
		Buckets:                         []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	})
)

// GroupSource supplies pubkeys sharing a local group or membership relation
// with the user. Mirrors identity.GroupSource; redeclared here so the
// producer does not depend on the identity package.
type GroupSource interface {
	Peers() []types.PubKey
}

// Producer expands the social graph breadth-first from a seed set and pushes
// every newly discovered pubkey onto the work queue, tagged with its radius.
// It is independent of the query text.
type Producer struct {
	cache         storage.GraphCache
	fetcher       fetch.Client
	groups        GroupSource
	fallbackSeeds []types.PubKey
	log           logger.Logger
	sf            *singleflight.Group

	fetchBatchSize       int
	maxConcurrentFetches int
	fetchTimeout         time.Duration
	followListTTL        time.Duration
}

type ProducerOpt func(*Producer)

func WithLogger(log logger.Logger) ProducerOpt {
	return func(p *Producer) {
		p.log = log
	}
}

// WithGroupSource enables group-signal injection at radius 1.
func WithGroupSource(groups GroupSource) ProducerOpt {
	return func(p *Producer) {
		p.groups = groups
	}
}

// WithFallbackSeeds sets the well-connected pubkeys injected as synthetic
// radius-0 seeds when the caller's own graph is empty or unexpandable.
func WithFallbackSeeds(seeds []types.PubKey) ProducerOpt {
	return func(p *Producer) {
		p.fallbackSeeds = seeds
	}
}

// WithFetchBatchSize sets the number of pubkeys per batched follow list
// fetch.
func WithFetchBatchSize(n int) ProducerOpt {
	return func(p *Producer) {
		p.fetchBatchSize = n
	}
}

// WithFetchTimeout bounds each batched follow list fetch.
func WithFetchTimeout(d time.Duration) ProducerOpt {
	return func(p *Producer) {
		p.fetchTimeout = d
	}
}

// WithFollowListTTL sets the TTL for follow lists written back to the cache.
func WithFollowListTTL(ttl time.Duration) ProducerOpt {
	return func(p *Producer) {
		p.followListTTL = ttl
	}
}

// WithSingleflight shares a singleflight group across producers so
// overlapping searches deduplicate identical batch fetches.
func WithSingleflight(sf *singleflight.Group) ProducerOpt {
	return func(p *Producer) {
		p.sf = sf
	}
}

func NewProducer(cache storage.GraphCache, fetcher fetch.Client, opts ...ProducerOpt) *Producer {
	p := &Producer{
		cache:                cache,
		fetcher:              fetcher,
		log:                  logger.NewNoopLogger(),
		fetchBatchSize:       defaultFetchBatchSize,
		maxConcurrentFetches: defaultMaxConcurrentFetches,
		fetchTimeout:         defaultFetchTimeout,
		followListTTL:        storage.DefaultFollowListTTL,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.sf == nil {
		p.sf = &singleflight.Group{}
	}

	return p
}

// Run expands the graph out to maxRadius and closes the queue when the graph
// is exhausted, the radius bound is reached, or the context is canceled. Run
// is the queue's sole writer.
func (p *Producer) Run(ctx context.Context, seeds []types.PubKey, maxRadius int, q *queue.Queue) {
	ctx, span := tracer.Start(ctx, "producer.Run", trace.WithAttributes(
		attribute.Int("seeds", len(seeds)),
		attribute.Int("max_radius", maxRadius),
	))
	defer span.End()
	defer q.Close()

	frontier := NewFrontier()

	usedFallback := false
	if len(seeds) == 0 {
		p.log.Debug("seed set empty, injecting fallback seeds")
		seeds = p.fallbackSeeds
		usedFallback = true
		fallbackSeedCounter.Add(float64(len(seeds)))
	}

	for _, s := range seeds {
		if !frontier.Add(s, 0) {
			continue
		}
		if !q.Push(ctx, types.Candidate{PubKey: s, Radius: 0}) {
			return
		}
		discoveredCounter.WithLabelValues("0").Inc()
	}

	for radius := 1; radius <= maxRadius; radius++ {
		prev := frontier.AtRadius(radius - 1)
		if len(prev) == 0 {
			break
		}

		discovered, ok := p.expand(ctx, frontier, prev, radius, q)
		if !ok {
			return
		}

		if radius == 1 {
			n, ok := p.injectGroupPeers(ctx, frontier, q)
			if !ok {
				return
			}
			discovered += n

			if discovered == 0 && !usedFallback {
				// The caller's own graph yielded nothing followable.
				// Bring in the fallback cohort so the queue does not
				// stay empty for a brand-new identity.
				n, ok := p.seedFallback(ctx, frontier, q)
				if !ok {
					return
				}
				usedFallback = true
				discovered += n
			}
		}

		if discovered == 0 {
			p.log.Debug("graph exhausted",
				zap.Int("radius", radius),
				zap.Int("discovered_total", frontier.Size()),
			)
			return
		}
	}
}

// expand discovers the follows of every pubkey in from at the given radius.
// Pass A emits from fresh cache entries before Pass B issues any network
// fetches, so the consumer starts resolving cache hits while fetches for the
// same radius are still in flight.
func (p *Producer) expand(ctx context.Context, frontier *Frontier, from []types.PubKey, radius int, q *queue.Queue) (int, bool) {
	ctx, span := tracer.Start(ctx, "producer.expand", trace.WithAttributes(
		attribute.Int("radius", radius),
		attribute.Int("frontier", len(from)),
	))
	defer span.End()

	discovered := 0

	var missed []types.PubKey
	for _, pk := range from {
		if ctx.Err() != nil {
			return discovered, false
		}
		fl, ok := p.cache.FollowList(pk)
		if !ok {
			missed = append(missed, pk)
			continue
		}
		followListCacheHitCounter.Inc()
		n, ok := p.emitFollows(ctx, frontier, fl, radius, q)
		if !ok {
			return discovered, false
		}
		discovered += n
	}

	if len(missed) == 0 {
		return discovered, true
	}

	results := make(chan *types.FollowList, p.fetchBatchSize)
	pool := concurrency.NewPool(ctx, p.maxConcurrentFetches)

	for start := 0; start < len(missed); start += p.fetchBatchSize {
		chunk := missed[start:min(start+p.fetchBatchSize, len(missed))]
		pool.Go(func(ctx context.Context) error {
			lists, err := p.fetchFollowLists(ctx, chunk)
			if err != nil {
				// A failed batch is a miss for every pubkey in it. No
				// retry within the same search.
				followListFetchMissCounter.Add(float64(len(chunk)))
				p.log.Debug("follow list fetch failed", zap.Int("batch", len(chunk)), zap.Error(err))
				return nil
			}
			for _, fl := range lists {
				concurrency.TrySendThroughChannel(ctx, fl, results)
			}
			return nil
		})
	}

	go func() {
		_ = pool.Wait()
		close(results)
	}()

	for fl := range results {
		n, ok := p.emitFollows(ctx, frontier, fl, radius, q)
		if !ok {
			return discovered, false
		}
		discovered += n
	}

	return discovered, ctx.Err() == nil
}

// fetchFollowLists issues one batched fetch, deduplicated through
// singleflight so overlapping searches share identical in-flight batches.
// Fetched lists are written back to the cache before being returned.
func (p *Producer) fetchFollowLists(ctx context.Context, pks []types.PubKey) ([]*types.FollowList, error) {
	v, err, _ := p.sf.Do(batchKey(pks), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()

		start := time.Now()
		lists, err := p.fetcher.FetchFollowLists(fctx, pks)
		followListFetchLatencyMsHistogram.Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			return nil, err
		}

		followListFetchMissCounter.Add(float64(len(pks) - len(lists)))

		out := make([]*types.FollowList, 0, len(lists))
		for _, fl := range lists {
			fl.Follows = dedupeFollows(fl.Follows)
			p.cache.SetFollowList(fl, p.followListTTL)
			out = append(out, fl)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*types.FollowList), nil
}

func (p *Producer) emitFollows(ctx context.Context, frontier *Frontier, fl *types.FollowList, radius int, q *queue.Queue) (int, bool) {
	emitted := 0
	for _, f := range fl.Follows {
		if !frontier.Add(f, radius) {
			continue
		}
		if !q.Push(ctx, types.Candidate{PubKey: f, Radius: radius}) {
			return emitted, false
		}
		discoveredCounter.WithLabelValues(strconv.Itoa(radius)).Inc()
		emitted++
	}
	return emitted, true
}

// injectGroupPeers emits pubkeys sharing a local group relation with the
// user as radius-1 peers. No network cost.
func (p *Producer) injectGroupPeers(ctx context.Context, frontier *Frontier, q *queue.Queue) (int, bool) {
	if p.groups == nil {
		return 0, true
	}

	emitted := 0
	for _, peer := range p.groups.Peers() {
		if !frontier.Add(peer, 1) {
			continue
		}
		if !q.Push(ctx, types.Candidate{PubKey: peer, Radius: 1}) {
			return emitted, false
		}
		discoveredCounter.WithLabelValues("1").Inc()
		groupPeerCounter.Inc()
		emitted++
	}
	return emitted, true
}

// seedFallback injects the fallback seeds as synthetic radius-0 seeds and
// expands them into radius 1.
func (p *Producer) seedFallback(ctx context.Context, frontier *Frontier, q *queue.Queue) (int, bool) {
	var added []types.PubKey
	for _, s := range p.fallbackSeeds {
		if !frontier.Add(s, 0) {
			continue
		}
		if !q.Push(ctx, types.Candidate{PubKey: s, Radius: 0}) {
			return 0, false
		}
		discoveredCounter.WithLabelValues("0").Inc()
		added = append(added, s)
	}
	fallbackSeedCounter.Add(float64(len(added)))

	if len(added) == 0 {
		return 0, true
	}
	return p.expand(ctx, frontier, added, 1, q)
}

// batchKey derives a stable singleflight key for a batch. Order is ignored
// so identical sets collide regardless of discovery order.
func batchKey(pks []types.PubKey) string {
	sorted := append([]types.PubKey(nil), pks...)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i][:]) < string(sorted[j][:])
	})

	h := xxhash.New()
	for _, pk := range sorted {
		_, _ = h.Write(pk[:])
	}
	return strconv.FormatUint(h.Sum64(), 10)
}

// dedupeFollows drops duplicate entries from a raw fetched follow list while
// preserving order.
func dedupeFollows(follows []types.PubKey) []types.PubKey {
	set := linkedhashset.New()
	for _, f := range follows {
		set.Add(f)
	}
	if set.Size() == len(follows) {
		return follows
	}

	out := make([]types.PubKey, 0, set.Size())
	set.Each(func(_ int, v interface{}) {
		out = append(out, v.(types.PubKey))
	})
	return out
}
