// Package search is the public entry point: an embeddable engine that runs
// one producer/consumer pair per search over a caller-supplied contact
// store, graph cache, fetch client, and matcher.
package search

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/peerdex/peerdex/internal/build"
	"github.com/peerdex/peerdex/internal/graph"
	"github.com/peerdex/peerdex/internal/queue"
	"github.com/peerdex/peerdex/internal/resolve"
	"github.com/peerdex/peerdex/pkg/fetch"
	"github.com/peerdex/peerdex/pkg/identity"
	"github.com/peerdex/peerdex/pkg/logger"
	"github.com/peerdex/peerdex/pkg/match"
	"github.com/peerdex/peerdex/pkg/storage"
	"github.com/peerdex/peerdex/pkg/types"
)

var tracer = otel.Tracer("peerdex/pkg/search")

var (
	searchStartedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "search_started_total",
		Help:      "The total number of searches started.",
	})

	resultCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "search_results_total",
		Help:      "The total number of results streamed across all searches.",
	})

	timeToFirstResultMsHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "search_time_to_first_result_ms",
		Help:                            "Time from search start to the first streamed result.",
		Buckets:                         []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	})

	timeToTargetMsHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "search_time_to_target_ms",
		Help:                            "Time from search start to reaching the result target.",
		Buckets:                         []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	})

	timeToCompleteMsHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "search_time_to_complete_ms",
		Help:                            "Time from search start to the stream closing.",
		Buckets:                         []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	})
)

// Engine runs identity searches over a social graph. At most one search is
// live per engine: starting a new one cancels the previous search and waits
// for it to wind down before the new producer/consumer pair starts.
type Engine struct {
	store   identity.Store
	cache   storage.GraphCache
	fetcher fetch.Client
	matcher match.Matcher

	log           logger.Logger
	groups        identity.GroupSource
	fallbackSeeds []types.PubKey
	defaults      Options

	// sf is shared across searches so a new search and a still-draining old
	// one deduplicate identical in-flight batch fetches.
	sf singleflight.Group

	// mu serializes Search calls and guards current.
	mu      sync.Mutex
	current *Handle
}

type EngineOpt func(*Engine)

func WithLogger(log logger.Logger) EngineOpt {
	return func(e *Engine) {
		e.log = log
	}
}

// WithGroupSource enables group-signal injection during graph expansion.
func WithGroupSource(groups identity.GroupSource) EngineOpt {
	return func(e *Engine) {
		e.groups = groups
	}
}

// WithFallbackSeeds sets the well-connected cohort used when a search's seed
// set is empty or unexpandable.
func WithFallbackSeeds(seeds []types.PubKey) EngineOpt {
	return func(e *Engine) {
		e.fallbackSeeds = seeds
	}
}

// WithDefaultOptions sets the per-search options applied when a Search call
// does not override them.
func WithDefaultOptions(o Options) EngineOpt {
	return func(e *Engine) {
		e.defaults = o
	}
}

func NewEngine(store identity.Store, cache storage.GraphCache, fetcher fetch.Client, matcher match.Matcher, opts ...EngineOpt) *Engine {
	e := &Engine{
		store:   store,
		cache:   cache,
		fetcher: fetcher,
		matcher: matcher,
		log:     logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Search starts a new search and returns its handle. Any previous live
// search is canceled first and fully wound down before this one starts, so
// the engine never runs two producer/consumer pairs at once.
func (e *Engine) Search(ctx context.Context, query string, seeds []types.PubKey, opts ...SearchOpt) *Handle {
	o := e.defaults
	for _, opt := range opts {
		opt(&o)
	}
	o = o.withDefaults()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev := e.current; prev != nil {
		prev.Cancel()
		<-prev.done
	}

	sctx, cancel := context.WithCancel(ctx)
	sctx, span := tracer.Start(sctx, "engine.Search", trace.WithAttributes(
		attribute.Int("seeds", len(seeds)),
		attribute.Int("max_radius", o.MaxRadius),
	))

	h := newHandle(sctx, cancel, o.ResultTarget)
	e.current = h

	span.SetAttributes(attribute.String("search_id", h.id.String()))
	searchStartedCounter.Inc()
	e.log.Debug("search started",
		zap.String("search_id", h.id.String()),
		zap.Int("seeds", len(seeds)),
		zap.Int("max_radius", o.MaxRadius),
	)

	producer := e.newProducer()
	consumer := e.newConsumer(o)
	q := queue.New(o.QueueCapacity)

	var producerDone sync.WaitGroup
	producerDone.Add(1)
	go func() {
		defer producerDone.Done()
		producer.Run(sctx, seeds, o.MaxRadius, q)
	}()

	go func() {
		consumer.Run(sctx, query, q, h.emit)

		// The consumer is done with the queue; release the producer if it
		// is still expanding (result target reached or caller canceled).
		cancel()
		producerDone.Wait()

		timeToCompleteMsHistogram.Observe(float64(time.Since(h.started).Milliseconds()))
		span.End()
		close(h.results)
		close(h.done)
	}()

	return h
}

func (e *Engine) newProducer() *graph.Producer {
	opts := []graph.ProducerOpt{
		graph.WithLogger(e.log),
		graph.WithSingleflight(&e.sf),
	}
	if e.groups != nil {
		opts = append(opts, graph.WithGroupSource(e.groups))
	}
	if len(e.fallbackSeeds) > 0 {
		opts = append(opts, graph.WithFallbackSeeds(e.fallbackSeeds))
	}
	return graph.NewProducer(e.cache, e.fetcher, opts...)
}

func (e *Engine) newConsumer(o Options) *resolve.Consumer {
	opts := []resolve.ConsumerOpt{
		resolve.WithLogger(e.log),
	}
	if o.BatchSize > 0 {
		opts = append(opts, resolve.WithBatchSize(o.BatchSize))
	}
	if o.TierTimeout > 0 {
		opts = append(opts, resolve.WithTierTimeout(o.TierTimeout))
	}
	return resolve.NewConsumer(e.store, e.cache, e.fetcher, e.matcher, opts...)
}
