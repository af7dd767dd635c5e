// Package memory provides the in-memory GraphCache implementation backed by
// theine. Expiry is handled by the cache itself; an entry past its TTL is
// simply a miss.
package memory

import (
	"sync"
	"time"

	theine "github.com/Yiling-J/theine-go"

	"github.com/peerdex/peerdex/pkg/storage"
	"github.com/peerdex/peerdex/pkg/types"
)

const defaultMaxEntries = 50_000

// Key prefixes keep the three entry kinds from colliding in the shared cache.
const (
	followListPrefix = "fl/"
	profilePrefix    = "pf/"
	relayListPrefix  = "rl/"
)

const lockStripes = 64

// Cache is a theine-backed GraphCache. A single underlying cache holds all
// three entry kinds under prefixed keys, so the configured size bounds total
// memory rather than each kind separately.
type Cache struct {
	inner *theine.Cache[string, any]

	// profileMu stripes last-writer-wins updates so concurrent writers for
	// the same pubkey serialize without a global lock.
	profileMu [lockStripes]sync.Mutex

	closeOnce sync.Once
}

var _ storage.GraphCache = (*Cache)(nil)

type Opt func(*config)

type config struct {
	maxEntries int64
}

// WithMaxEntries sets the maximum number of cached entries across all kinds.
func WithMaxEntries(n int64) Opt {
	return func(c *config) {
		c.maxEntries = n
	}
}

func New(opts ...Opt) (*Cache, error) {
	cfg := &config{maxEntries: defaultMaxEntries}
	for _, opt := range opts {
		opt(cfg)
	}

	inner, err := theine.NewBuilder[string, any](cfg.maxEntries).Build()
	if err != nil {
		return nil, err
	}

	return &Cache{inner: inner}, nil
}

func (c *Cache) FollowList(pk types.PubKey) (*types.FollowList, bool) {
	v, ok := c.inner.Get(followListPrefix + pk.String())
	if !ok {
		return nil, false
	}
	return v.(*types.FollowList), true
}

func (c *Cache) SetFollowList(fl *types.FollowList, ttl time.Duration) {
	c.inner.SetWithTTL(followListPrefix+fl.PubKey.String(), fl, 1, ttl)
}

func (c *Cache) Profile(pk types.PubKey) (storage.ProfileEntry, bool) {
	v, ok := c.inner.Get(profilePrefix + pk.String())
	if !ok {
		return storage.ProfileEntry{}, false
	}
	return v.(storage.ProfileEntry), true
}

func (c *Cache) SetProfile(p *types.Profile, ttl time.Duration) {
	mu := &c.profileMu[p.PubKey[0]%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	if existing, ok := c.Profile(p.PubKey); ok && existing.Profile != nil && !p.Newer(existing.Profile) {
		return
	}
	c.inner.SetWithTTL(profilePrefix+p.PubKey.String(), storage.ProfileEntry{Profile: p}, 1, ttl)
}

func (c *Cache) SetProfileEmpty(pk types.PubKey, ttl time.Duration) {
	mu := &c.profileMu[pk[0]%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	// A confirmed-empty marker never overwrites a real profile.
	if existing, ok := c.Profile(pk); ok && existing.Profile != nil {
		return
	}
	c.inner.SetWithTTL(profilePrefix+pk.String(), storage.ProfileEntry{Empty: true}, 1, ttl)
}

func (c *Cache) RelayList(pk types.PubKey) (storage.RelayListEntry, bool) {
	v, ok := c.inner.Get(relayListPrefix + pk.String())
	if !ok {
		return storage.RelayListEntry{}, false
	}
	return v.(storage.RelayListEntry), true
}

func (c *Cache) SetRelayList(rl *types.RelayList, ttl time.Duration) {
	c.inner.SetWithTTL(relayListPrefix+rl.PubKey.String(), storage.RelayListEntry{RelayList: rl}, 1, ttl)
}

func (c *Cache) SetRelayListEmpty(pk types.PubKey, ttl time.Duration) {
	c.inner.SetWithTTL(relayListPrefix+pk.String(), storage.RelayListEntry{Empty: true}, 1, ttl)
}

func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		c.inner.Close()
	})
}
