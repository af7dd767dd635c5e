// Package storage defines the graph cache consumed by the search engine: a
// TTL-bounded store of previously fetched follow lists, profiles, and relay
// lists, including confirmed-empty markers for negative results.
package storage

import (
	"time"

	"github.com/peerdex/peerdex/pkg/types"
)

// Default TTLs. Follow lists churn slowly; profiles are refreshed more
// eagerly so renames propagate. Confirmed-empty entries are short-lived so a
// newly published profile or relay list becomes discoverable.
const (
	DefaultFollowListTTL = 4 * time.Hour
	DefaultProfileTTL    = 1 * time.Hour
	DefaultEmptyTTL      = 15 * time.Minute
)

// ProfileEntry wraps a cached profile or a confirmed-empty marker. Empty
// means a previous resolution exhausted every tier without finding a
// profile; callers must not fetch again until the entry expires.
type ProfileEntry struct {
	Profile *types.Profile
	Empty   bool
}

// RelayListEntry wraps a cached relay list or a confirmed-empty marker.
// Empty means the pubkey has published no relay list; the outbox tier is
// skipped entirely while the entry is live.
type RelayListEntry struct {
	RelayList *types.RelayList
	Empty     bool
}

// GraphCache is the on-device TTL-bounded cache shared by the producer and
// the consumer. Expired entries are treated as absent. Implementations must
// be safe for concurrent use; profile writes for the same pubkey are
// last-writer-wins by the profile's UpdatedAt timestamp.
type GraphCache interface {
	// FollowList returns a fresh cached follow list, if any.
	FollowList(pk types.PubKey) (*types.FollowList, bool)
	SetFollowList(fl *types.FollowList, ttl time.Duration)

	// Profile returns a fresh cached profile entry, which may be a
	// confirmed-empty marker.
	Profile(pk types.PubKey) (ProfileEntry, bool)
	SetProfile(p *types.Profile, ttl time.Duration)
	SetProfileEmpty(pk types.PubKey, ttl time.Duration)

	// RelayList returns a fresh cached relay list entry, which may be a
	// confirmed-empty marker.
	RelayList(pk types.PubKey) (RelayListEntry, bool)
	SetRelayList(rl *types.RelayList, ttl time.Duration)
	SetRelayListEmpty(pk types.PubKey, ttl time.Duration)

	// Close releases any resources held by the cache.
	Close()
}
