// Package badgercache provides a persistent GraphCache implementation backed
// by badger, for clients that want the cache to survive restarts. Entries
// rely on badger's native TTL support; values are stored as JSON.
package badgercache

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/peerdex/peerdex/pkg/logger"
	"github.com/peerdex/peerdex/pkg/storage"
	"github.com/peerdex/peerdex/pkg/types"
)

// Key prefixes for the three entry kinds.
var (
	followListPrefix = []byte("fl/")
	profilePrefix    = []byte("pf/")
	relayListPrefix  = []byte("rl/")
)

const commitRetries = 3

// Cache is a badger-backed GraphCache.
type Cache struct {
	db        *badger.DB
	log       logger.Logger
	closeOnce sync.Once
}

var _ storage.GraphCache = (*Cache)(nil)

type Opt func(*Cache)

func WithLogger(log logger.Logger) Opt {
	return func(c *Cache) {
		c.log = log
	}
}

// Open opens (or creates) a badger-backed cache at dir.
func Open(dir string, opts ...Opt) (*Cache, error) {
	c := &Cache{log: logger.NewNoopLogger()}
	for _, opt := range opts {
		opt(c)
	}

	badgerOpts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	c.db = db
	return c, nil
}

// profileRecord is the stored form of a storage.ProfileEntry.
type profileRecord struct {
	Profile *types.Profile `json:"profile,omitempty"`
	Empty   bool           `json:"empty,omitempty"`
}

// relayListRecord is the stored form of a storage.RelayListEntry.
type relayListRecord struct {
	RelayList *types.RelayList `json:"relay_list,omitempty"`
	Empty     bool             `json:"empty,omitempty"`
}

func key(prefix []byte, pk types.PubKey) []byte {
	k := make([]byte, 0, len(prefix)+types.PubKeyLen)
	k = append(k, prefix...)
	return append(k, pk[:]...)
}

func (c *Cache) get(k []byte, out any) bool {
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.log.Warn("badger cache read failed", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Cache) set(k []byte, v any, ttl time.Duration) {
	val, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("badger cache encode failed", zap.Error(err))
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(k, val).WithTTL(ttl))
	})
	if err != nil {
		c.log.Warn("badger cache write failed", zap.Error(err))
	}
}

func (c *Cache) FollowList(pk types.PubKey) (*types.FollowList, bool) {
	var fl types.FollowList
	if !c.get(key(followListPrefix, pk), &fl) {
		return nil, false
	}
	return &fl, true
}

func (c *Cache) SetFollowList(fl *types.FollowList, ttl time.Duration) {
	c.set(key(followListPrefix, fl.PubKey), fl, ttl)
}

func (c *Cache) Profile(pk types.PubKey) (storage.ProfileEntry, bool) {
	var rec profileRecord
	if !c.get(key(profilePrefix, pk), &rec) {
		return storage.ProfileEntry{}, false
	}
	return storage.ProfileEntry{Profile: rec.Profile, Empty: rec.Empty}, true
}

// SetProfile stores a profile under last-writer-wins semantics: an older
// observation never clobbers a newer cached one. The read-modify-write runs
// in one transaction; on conflict with a concurrent writer it retries.
func (c *Cache) SetProfile(p *types.Profile, ttl time.Duration) {
	c.updateProfile(p.PubKey, ttl, func(existing profileRecord) (profileRecord, bool) {
		if existing.Profile != nil && !p.Newer(existing.Profile) {
			return profileRecord{}, false
		}
		return profileRecord{Profile: p}, true
	})
}

func (c *Cache) SetProfileEmpty(pk types.PubKey, ttl time.Duration) {
	c.updateProfile(pk, ttl, func(existing profileRecord) (profileRecord, bool) {
		if existing.Profile != nil {
			return profileRecord{}, false
		}
		return profileRecord{Empty: true}, true
	})
}

func (c *Cache) updateProfile(pk types.PubKey, ttl time.Duration, decide func(profileRecord) (profileRecord, bool)) {
	k := key(profilePrefix, pk)

	var err error
	for attempt := 0; attempt < commitRetries; attempt++ {
		err = c.db.Update(func(txn *badger.Txn) error {
			var existing profileRecord
			item, getErr := txn.Get(k)
			if getErr == nil {
				if valErr := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &existing)
				}); valErr != nil {
					return valErr
				}
			} else if !errors.Is(getErr, badger.ErrKeyNotFound) {
				return getErr
			}

			rec, write := decide(existing)
			if !write {
				return nil
			}
			val, marshalErr := json.Marshal(rec)
			if marshalErr != nil {
				return marshalErr
			}
			return txn.SetEntry(badger.NewEntry(k, val).WithTTL(ttl))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		c.log.Warn("badger cache profile update failed", zap.Error(err))
	}
}

func (c *Cache) RelayList(pk types.PubKey) (storage.RelayListEntry, bool) {
	var rec relayListRecord
	if !c.get(key(relayListPrefix, pk), &rec) {
		return storage.RelayListEntry{}, false
	}
	return storage.RelayListEntry{RelayList: rec.RelayList, Empty: rec.Empty}, true
}

func (c *Cache) SetRelayList(rl *types.RelayList, ttl time.Duration) {
	c.set(key(relayListPrefix, rl.PubKey), relayListRecord{RelayList: rl}, ttl)
}

func (c *Cache) SetRelayListEmpty(pk types.PubKey, ttl time.Duration) {
	c.set(key(relayListPrefix, pk), relayListRecord{Empty: true}, ttl)
}

func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		if err := c.db.Close(); err != nil {
			c.log.Warn("badger cache close failed", zap.Error(err))
		}
	})
}
