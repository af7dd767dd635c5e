package search

import (
	"time"
)

const (
	// DefaultMaxRadius bounds graph expansion to friends-of-friends.
	DefaultMaxRadius = 2
)

// Options tune a single search. The zero value of each field means "use the
// engine default".
type Options struct {
	// MaxRadius bounds how many hops out from the seed set the graph is
	// expanded.
	MaxRadius int

	// ResultTarget completes the search early once this many distinct
	// matches have been streamed. Zero means run to graph exhaustion.
	ResultTarget int

	// QueueCapacity bounds the number of discovered-but-undispatched
	// candidates between the producer and the consumer.
	QueueCapacity int

	// BatchSize bounds how many candidates the consumer resolves per batch.
	BatchSize int

	// TierTimeout bounds each network-bound resolution tier per batch.
	TierTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRadius <= 0 {
		o.MaxRadius = DefaultMaxRadius
	}
	return o
}

// SearchOpt overrides one option for a single Engine.Search call.
type SearchOpt func(*Options)

func WithMaxRadius(n int) SearchOpt {
	return func(o *Options) {
		o.MaxRadius = n
	}
}

func WithResultTarget(n int) SearchOpt {
	return func(o *Options) {
		o.ResultTarget = n
	}
}

func WithQueueCapacity(n int) SearchOpt {
	return func(o *Options) {
		o.QueueCapacity = n
	}
}

func WithBatchSize(n int) SearchOpt {
	return func(o *Options) {
		o.BatchSize = n
	}
}

func WithTierTimeout(d time.Duration) SearchOpt {
	return func(o *Options) {
		o.TierTimeout = d
	}
}
