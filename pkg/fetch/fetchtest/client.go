// Package fetchtest provides a fixture-backed fetch.Client with controllable
// latency and failure injection. It backs the engine tests and the CLI's
// offline mode.
package fetchtest

import (
	"context"
	"sync"
	"time"

	"github.com/peerdex/peerdex/pkg/fetch"
	"github.com/peerdex/peerdex/pkg/types"
)

// Call records one batched fetch issued against the client.
type Call struct {
	Method  string
	PubKeys []types.PubKey
	Scope   fetch.Scope
}

// Client is an in-memory fetch.Client over a fixed social graph.
type Client struct {
	mu sync.Mutex

	profiles   map[types.PubKey]*types.Profile
	follows    map[types.PubKey][]types.PubKey
	relayLists map[types.PubKey][]string
	connected  map[types.PubKey]bool
	homes      map[types.PubKey][]string

	failFollow  map[types.PubKey]bool
	failProfile map[types.PubKey]bool
	failRelay   map[types.PubKey]bool

	err     error
	latency time.Duration

	calls []Call
}

var _ fetch.Client = (*Client)(nil)

func NewClient() *Client {
	return &Client{
		profiles:    make(map[types.PubKey]*types.Profile),
		follows:     make(map[types.PubKey][]types.PubKey),
		relayLists:  make(map[types.PubKey][]string),
		connected:   make(map[types.PubKey]bool),
		homes:       make(map[types.PubKey][]string),
		failFollow:  make(map[types.PubKey]bool),
		failProfile: make(map[types.PubKey]bool),
		failRelay:   make(map[types.PubKey]bool),
	}
}

// AddProfile registers a profile reachable from the currently connected
// sources.
func (c *Client) AddProfile(p *types.Profile) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.PubKey] = p
	c.connected[p.PubKey] = true
	return c
}

// AddOutboxProfile registers a profile reachable only through the given
// relays (the pubkey's own declared sources).
func (c *Client) AddOutboxProfile(p *types.Profile, homes ...string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.PubKey] = p
	c.homes[p.PubKey] = homes
	return c
}

func (c *Client) SetFollows(pk types.PubKey, follows ...types.PubKey) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.follows[pk] = follows
	return c
}

func (c *Client) SetRelayList(pk types.PubKey, relays ...string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relayLists[pk] = relays
	return c
}

// FailFollowLists makes follow-list fetches for the given pubkeys miss.
func (c *Client) FailFollowLists(pks ...types.PubKey) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pk := range pks {
		c.failFollow[pk] = true
	}
	return c
}

// FailProfiles makes profile fetches for the given pubkeys miss.
func (c *Client) FailProfiles(pks ...types.PubKey) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pk := range pks {
		c.failProfile[pk] = true
	}
	return c
}

// FailRelayLists makes relay-list fetches for the given pubkeys fail
// (as opposed to reporting a definitive absence).
func (c *Client) FailRelayLists(pks ...types.PubKey) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pk := range pks {
		c.failRelay[pk] = true
	}
	return c
}

// SetError makes every call fail with err until cleared.
func (c *Client) SetError(err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	return c
}

// SetLatency adds a fixed delay to every call.
func (c *Client) SetLatency(d time.Duration) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = d
	return c
}

// Calls returns a snapshot of every fetch issued so far.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns the number of calls for a method, or all calls when
// method is empty.
func (c *Client) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if method == "" {
		return len(c.calls)
	}
	n := 0
	for _, call := range c.calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

// FetchedPubKeys returns every pubkey that appeared in a call of the given
// method.
func (c *Client) FetchedPubKeys(method string) map[types.PubKey]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[types.PubKey]bool)
	for _, call := range c.calls {
		if call.Method != method {
			continue
		}
		for _, pk := range call.PubKeys {
			out[pk] = true
		}
	}
	return out
}

func (c *Client) begin(ctx context.Context, call Call) error {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	err := c.err
	latency := c.latency
	c.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(latency):
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) FetchFollowLists(ctx context.Context, pks []types.PubKey) (map[types.PubKey]*types.FollowList, error) {
	if err := c.begin(ctx, Call{Method: "FetchFollowLists", PubKeys: pks}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[types.PubKey]*types.FollowList)
	for _, pk := range pks {
		if c.failFollow[pk] {
			continue
		}
		follows, ok := c.follows[pk]
		if !ok {
			continue
		}
		out[pk] = &types.FollowList{PubKey: pk, Follows: follows, FetchedAt: time.Now()}
	}
	return out, nil
}

func (c *Client) FetchProfiles(ctx context.Context, pks []types.PubKey, scope fetch.Scope) (map[types.PubKey]*types.Profile, error) {
	if err := c.begin(ctx, Call{Method: "FetchProfiles", PubKeys: pks, Scope: scope}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[types.PubKey]*types.Profile)
	for _, pk := range pks {
		if c.failProfile[pk] {
			continue
		}
		p, ok := c.profiles[pk]
		if !ok {
			continue
		}
		if scope.Connected() {
			if c.connected[pk] {
				out[pk] = p
			}
			continue
		}
		if intersects(c.homes[pk], scope.Relays) {
			out[pk] = p
		}
	}
	return out, nil
}

func (c *Client) FetchRelayLists(ctx context.Context, pks []types.PubKey) (map[types.PubKey]*types.RelayList, map[types.PubKey]bool, error) {
	if err := c.begin(ctx, Call{Method: "FetchRelayLists", PubKeys: pks}); err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	found := make(map[types.PubKey]*types.RelayList)
	absent := make(map[types.PubKey]bool)
	for _, pk := range pks {
		if c.failRelay[pk] {
			continue
		}
		relays, ok := c.relayLists[pk]
		if !ok {
			absent[pk] = true
			continue
		}
		found[pk] = &types.RelayList{PubKey: pk, Relays: relays, FetchedAt: time.Now()}
	}
	return found, absent, nil
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
