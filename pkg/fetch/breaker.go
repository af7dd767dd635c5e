package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/peerdex/peerdex/pkg/logger"
	"github.com/peerdex/peerdex/pkg/types"
)

// BreakerConfig tunes the circuit breakers wrapped around a Client.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	ReadyToTripRatio float64
}

// DefaultBreakerConfig trips a breaker once at least five requests in the
// rolling interval have a 60% failure ratio, and probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		ReadyToTripRatio: 0.6,
	}
}

// BreakerClient wraps a Client with one circuit breaker per fetch concern,
// so a flapping relay cohort stops consuming network budget without the
// engine retrying anything. Open-breaker calls fail fast and surface as
// ordinary batch misses.
type BreakerClient struct {
	inner Client
	log   logger.Logger

	followLists *gobreaker.CircuitBreaker
	profiles    *gobreaker.CircuitBreaker
	relayLists  *gobreaker.CircuitBreaker
}

var _ Client = (*BreakerClient)(nil)

func NewBreakerClient(inner Client, cfg BreakerConfig, log logger.Logger) *BreakerClient {
	if log == nil {
		log = logger.NewNoopLogger()
	}

	c := &BreakerClient{inner: inner, log: log}
	c.followLists = c.newBreaker("fetch.follow_lists", cfg)
	c.profiles = c.newBreaker("fetch.profiles", cfg)
	c.relayLists = c.newBreaker("fetch.relay_lists", cfg)
	return c
}

func (c *BreakerClient) newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= cfg.ReadyToTripRatio
		},
		// Query changes cancel in-flight fetches; that is not a relay
		// failure and must not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("fetch breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func (c *BreakerClient) FetchFollowLists(ctx context.Context, pks []types.PubKey) (map[types.PubKey]*types.FollowList, error) {
	out, err := c.followLists.Execute(func() (interface{}, error) {
		return c.inner.FetchFollowLists(ctx, pks)
	})
	if err != nil {
		return nil, err
	}
	return out.(map[types.PubKey]*types.FollowList), nil
}

func (c *BreakerClient) FetchProfiles(ctx context.Context, pks []types.PubKey, scope Scope) (map[types.PubKey]*types.Profile, error) {
	out, err := c.profiles.Execute(func() (interface{}, error) {
		return c.inner.FetchProfiles(ctx, pks, scope)
	})
	if err != nil {
		return nil, err
	}
	return out.(map[types.PubKey]*types.Profile), nil
}

func (c *BreakerClient) FetchRelayLists(ctx context.Context, pks []types.PubKey) (map[types.PubKey]*types.RelayList, map[types.PubKey]bool, error) {
	type relayListResult struct {
		found  map[types.PubKey]*types.RelayList
		absent map[types.PubKey]bool
	}

	out, err := c.relayLists.Execute(func() (interface{}, error) {
		found, absent, err := c.inner.FetchRelayLists(ctx, pks)
		if err != nil {
			return nil, err
		}
		return relayListResult{found: found, absent: absent}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	res := out.(relayListResult)
	return res.found, res.absent, nil
}
