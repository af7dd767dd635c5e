package resolve

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/peerdex/peerdex/internal/build"
	"github.com/peerdex/peerdex/internal/concurrency"
	"github.com/peerdex/peerdex/internal/queue"
	"github.com/peerdex/peerdex/pkg/fetch"
	"github.com/peerdex/peerdex/pkg/identity"
	"github.com/peerdex/peerdex/pkg/logger"
	"github.com/peerdex/peerdex/pkg/match"
	"github.com/peerdex/peerdex/pkg/storage"
	"github.com/peerdex/peerdex/pkg/types"
)

const (
	defaultBatchSize          = 32
	defaultBatchFlush         = 25 * time.Millisecond
	defaultTierTimeout        = 4 * time.Second
	defaultMaxInFlightBatches = 3
)

var tracer = otel.Tracer("peerdex/internal/resolve")

var (
	tierInCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "consumer_tier_in_total",
		Help:      "The total number of candidates entering each tier.",
	}, []string{"tier"})

	tierHitCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "consumer_tier_hit_total",
		Help:      "The total number of candidates resolved to a profile at each tier.",
	}, []string{"tier"})

	tierForwardCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "consumer_tier_forward_total",
		Help:      "The total number of candidates forwarded as misses from each tier.",
	}, []string{"tier"})

	tierExhaustedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "consumer_tier_exhausted_total",
		Help:      "The total number of candidates terminally exhausted at each tier.",
	}, []string{"tier"})

	matchCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "consumer_match_total",
		Help:      "The total number of query matches emitted.",
	})

	tierLatencyMsHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "consumer_tier_latency_ms",
		Help:                            "Per-batch latency of the network-bound tiers.",
		Buckets:                         []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	}, []string{"tier"})
)

// EmitFunc delivers one match to the result stream. It returns false when no
// further results are wanted (target reached or stream closed); the consumer
// then stops scheduling work.
type EmitFunc func(types.SearchResult) bool

// Consumer drains the work queue and resolves candidates through the five
// tiers, streaming query matches as they are found. Batches are pipelined:
// while one batch awaits outbox-tier network I/O, later batches already move
// through the local tiers.
type Consumer struct {
	store   identity.Store
	cache   storage.GraphCache
	fetcher fetch.Client
	matcher match.Matcher
	log     logger.Logger

	batchSize   int
	batchFlush  time.Duration
	tierTimeout time.Duration
	maxInFlight int
	profileTTL  time.Duration
	emptyTTL    time.Duration
}

type ConsumerOpt func(*Consumer)

func WithLogger(log logger.Logger) ConsumerOpt {
	return func(c *Consumer) {
		c.log = log
	}
}

// WithBatchSize bounds how many candidates are pulled from the queue per
// batch.
func WithBatchSize(n int) ConsumerOpt {
	return func(c *Consumer) {
		c.batchSize = n
	}
}

// WithBatchFlush bounds how long a partial batch waits before processing.
func WithBatchFlush(d time.Duration) ConsumerOpt {
	return func(c *Consumer) {
		c.batchFlush = d
	}
}

// WithTierTimeout bounds each network tier's batch; candidates still
// outstanding at the deadline are treated as misses for that tier.
func WithTierTimeout(d time.Duration) ConsumerOpt {
	return func(c *Consumer) {
		c.tierTimeout = d
	}
}

// WithMaxInFlightBatches bounds how many batches are pipelined concurrently.
func WithMaxInFlightBatches(n int) ConsumerOpt {
	return func(c *Consumer) {
		c.maxInFlight = n
	}
}

// WithProfileTTL sets the TTL for profiles written back to the cache.
func WithProfileTTL(ttl time.Duration) ConsumerOpt {
	return func(c *Consumer) {
		c.profileTTL = ttl
	}
}

// WithEmptyTTL sets the TTL for confirmed-empty markers.
func WithEmptyTTL(ttl time.Duration) ConsumerOpt {
	return func(c *Consumer) {
		c.emptyTTL = ttl
	}
}

func NewConsumer(store identity.Store, cache storage.GraphCache, fetcher fetch.Client, matcher match.Matcher, opts ...ConsumerOpt) *Consumer {
	c := &Consumer{
		store:       store,
		cache:       cache,
		fetcher:     fetcher,
		matcher:     matcher,
		log:         logger.NewNoopLogger(),
		batchSize:   defaultBatchSize,
		batchFlush:  defaultBatchFlush,
		tierTimeout: defaultTierTimeout,
		maxInFlight: defaultMaxInFlightBatches,
		profileTTL:  storage.DefaultProfileTTL,
		emptyTTL:    storage.DefaultEmptyTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run drains the queue until it closes or the context is canceled. Matches
// are delivered through emit; Run returns once every scheduled batch has
// settled.
func (c *Consumer) Run(ctx context.Context, query string, q *queue.Queue, emit EmitFunc) {
	ctx, span := tracer.Start(ctx, "consumer.Run")
	defer span.End()

	// stop cancels further batch work once emit reports the stream is done.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	guardedEmit := func(res types.SearchResult) bool {
		if ctx.Err() != nil {
			return false
		}
		if !emit(res) {
			stop()
			return false
		}
		matchCounter.Inc()
		return true
	}

	pool := concurrency.NewPool(ctx, c.maxInFlight)

	for {
		batch, ok := concurrency.CollectBatch(ctx, q.Items(), c.batchSize, c.batchFlush)
		if len(batch) > 0 {
			candidates := batch
			pool.Go(func(ctx context.Context) error {
				c.processBatch(ctx, query, candidates, guardedEmit)
				return nil
			})
		}
		if !ok {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	_ = pool.Wait()
}

// processBatch pushes one batch through the waterfall. Each tier consumes
// the previous tier's misses; hits are matched and emitted immediately.
func (c *Consumer) processBatch(ctx context.Context, query string, candidates []types.Candidate, emit EmitFunc) {
	ctx, span := tracer.Start(ctx, "consumer.processBatch", trace.WithAttributes(
		attribute.Int("batch_size", len(candidates)),
	))
	defer span.End()

	items := make([]*item, 0, len(candidates))
	for _, cand := range candidates {
		items = append(items, newItem(cand))
	}

	items = c.runLocalTier(types.TierContacts, items, query, emit, c.lookupContact)
	items = c.runLocalTier(types.TierCache, items, query, emit, c.lookupCached)

	items = c.tierConnected(ctx, items, query, emit)
	items = c.tierRelayList(ctx, items)
	c.tierOutbox(ctx, items, query, emit)
}

// runLocalTier runs a purely local tier (contacts, cache) over the batch.
// lookup returns the profile, whether the candidate is terminally exhausted
// (cached confirmed-empty), and whether it resolved at all.
func (c *Consumer) runLocalTier(tier types.Tier, items []*item, query string, emit EmitFunc, lookup func(types.PubKey) (*types.Profile, bool, bool)) []*item {
	if len(items) == 0 {
		return nil
	}
	label := tier.String()
	tierInCounter.WithLabelValues(label).Add(float64(len(items)))

	var misses []*item
	for _, it := range items {
		it.resolving(tier)

		p, terminal, ok := lookup(it.pk)
		switch {
		case ok:
			tierHitCounter.WithLabelValues(label).Inc()
			c.concludeHit(it, p, tier, query, emit)
		case terminal:
			tierExhaustedCounter.WithLabelValues(label).Inc()
			it.exhausted()
		default:
			tierForwardCounter.WithLabelValues(label).Inc()
			it.forwarded()
			misses = append(misses, it)
		}
	}
	return misses
}

func (c *Consumer) lookupContact(pk types.PubKey) (*types.Profile, bool, bool) {
	p, ok := c.store.Lookup(pk)
	return p, false, ok
}

func (c *Consumer) lookupCached(pk types.PubKey) (*types.Profile, bool, bool) {
	entry, ok := c.cache.Profile(pk)
	if !ok {
		return nil, false, false
	}
	if entry.Empty {
		// A prior search exhausted this pubkey; do not spend network on it
		// until the marker expires.
		return nil, true, false
	}
	return entry.Profile, false, true
}

// tierConnected fetches profile metadata for the whole batch from currently
// connected sources. Fetched profiles are written back to the cache before
// matching, seeding future cache-tier hits.
func (c *Consumer) tierConnected(ctx context.Context, items []*item, query string, emit EmitFunc) []*item {
	if len(items) == 0 || ctx.Err() != nil {
		return nil
	}
	label := types.TierConnected.String()
	tierInCounter.WithLabelValues(label).Add(float64(len(items)))

	for _, it := range items {
		it.resolving(types.TierConnected)
	}

	profiles := c.fetchProfiles(ctx, items, fetch.ConnectedScope(), types.TierConnected)

	var misses []*item
	for _, it := range items {
		p, ok := profiles[it.pk]
		if !ok {
			tierForwardCounter.WithLabelValues(label).Inc()
			it.forwarded()
			misses = append(misses, it)
			continue
		}
		tierHitCounter.WithLabelValues(label).Inc()
		c.cache.SetProfile(p, c.profileTTL)
		c.concludeHit(it, p, types.TierConnected, query, emit)
	}
	return misses
}

// tierRelayList resolves each candidate's declared relay list. Candidates
// with a definitive "no relay list" answer are terminally exhausted and the
// absence is cached, short-circuiting the outbox tier on later searches.
func (c *Consumer) tierRelayList(ctx context.Context, items []*item) []*item {
	if len(items) == 0 || ctx.Err() != nil {
		return nil
	}
	label := types.TierRelayList.String()
	tierInCounter.WithLabelValues(label).Add(float64(len(items)))

	var toFetch []*item
	var forwarded []*item
	for _, it := range items {
		it.resolving(types.TierRelayList)

		entry, ok := c.cache.RelayList(it.pk)
		if !ok {
			toFetch = append(toFetch, it)
			continue
		}
		if entry.Empty {
			tierExhaustedCounter.WithLabelValues(label).Inc()
			it.exhausted()
			continue
		}
		tierHitCounter.WithLabelValues(label).Inc()
		it.relays = entry.RelayList.Relays
		it.forwarded()
		forwarded = append(forwarded, it)
	}

	if len(toFetch) == 0 || ctx.Err() != nil {
		return forwarded
	}

	tctx, cancel := context.WithTimeout(ctx, c.tierTimeout)
	defer cancel()

	pks := pubkeys(toFetch)
	start := time.Now()
	found, absent, err := c.fetcher.FetchRelayLists(tctx, pks)
	tierLatencyMsHistogram.WithLabelValues(label).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		// Transport failure: nothing is known about these pubkeys, so they
		// exhaust without a confirmed-empty marker.
		c.log.Debug("relay list fetch failed", zap.Int("batch", len(pks)), zap.Error(err))
	}

	for _, it := range toFetch {
		if rl, ok := found[it.pk]; ok {
			tierHitCounter.WithLabelValues(label).Inc()
			c.cache.SetRelayList(rl, c.profileTTL)
			it.relays = rl.Relays
			it.forwarded()
			forwarded = append(forwarded, it)
			continue
		}
		tierExhaustedCounter.WithLabelValues(label).Inc()
		if absent[it.pk] {
			c.cache.SetRelayListEmpty(it.pk, c.emptyTTL)
		}
		it.exhausted()
	}
	return forwarded
}

// tierOutbox fetches profile metadata from each candidate's own declared
// sources. The last tier: candidates it cannot resolve are terminally
// exhausted and cached as confirmed-empty.
func (c *Consumer) tierOutbox(ctx context.Context, items []*item, query string, emit EmitFunc) {
	if len(items) == 0 || ctx.Err() != nil {
		return
	}
	label := types.TierOutbox.String()
	tierInCounter.WithLabelValues(label).Add(float64(len(items)))

	for _, it := range items {
		it.resolving(types.TierOutbox)
	}

	// One batched fetch against the union of declared relays. The client
	// routes each pubkey to its own sources.
	scope := fetch.RelayScope(unionRelays(items)...)
	profiles := c.fetchProfiles(ctx, items, scope, types.TierOutbox)
	fetchFailed := profiles == nil

	for _, it := range items {
		p, ok := profiles[it.pk]
		if !ok {
			tierExhaustedCounter.WithLabelValues(label).Inc()
			if !fetchFailed {
				// The pubkey's own sources answered and had no profile:
				// cache the exhaustion so later searches skip the network.
				c.cache.SetProfileEmpty(it.pk, c.emptyTTL)
			}
			it.exhausted()
			continue
		}
		tierHitCounter.WithLabelValues(label).Inc()
		c.cache.SetProfile(p, c.profileTTL)
		c.concludeHit(it, p, types.TierOutbox, query, emit)
	}
}

// fetchProfiles issues one deadline-bounded batched profile fetch. A nil
// result means the whole batch failed or timed out.
func (c *Consumer) fetchProfiles(ctx context.Context, items []*item, scope fetch.Scope, tier types.Tier) map[types.PubKey]*types.Profile {
	if ctx.Err() != nil {
		return nil
	}

	tctx, cancel := context.WithTimeout(ctx, c.tierTimeout)
	defer cancel()

	start := time.Now()
	profiles, err := c.fetcher.FetchProfiles(tctx, pubkeys(items), scope)
	tierLatencyMsHistogram.WithLabelValues(tier.String()).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		c.log.Debug("profile fetch failed",
			zap.Stringer("tier", tier),
			zap.Int("batch", len(items)),
			zap.Error(err),
		)
		return nil
	}
	return profiles
}

// concludeHit matches a resolved profile against the query and emits on
// match. Either way the candidate leaves the waterfall.
func (c *Consumer) concludeHit(it *item, p *types.Profile, tier types.Tier, query string, emit EmitFunc) {
	score, ok := c.matcher.Score(p, query)
	if !ok {
		it.resolved(p)
		return
	}
	it.matched(p)
	emit(types.SearchResult{PubKey: it.pk, Profile: p, Score: score, Tier: tier})
}

func pubkeys(items []*item) []types.PubKey {
	out := make([]types.PubKey, 0, len(items))
	for _, it := range items {
		out = append(out, it.pk)
	}
	return out
}

func unionRelays(items []*item) []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		for _, r := range it.relays {
			if seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
