// Package identity exposes the on-device identity data the engine reads:
// the contact store of actively tracked profiles and local group membership.
package identity

import (
	"sync"

	"github.com/peerdex/peerdex/pkg/types"
)

// Store is the on-device table of profiles the user already actively
// tracks. Read-only to the engine; lookups are synchronous and local.
type Store interface {
	Lookup(pk types.PubKey) (*types.Profile, bool)
}

// GroupSource supplies pubkeys that share a known group or membership
// relation with the user, from local data only. The producer injects them
// as radius-1 peers.
type GroupSource interface {
	Peers() []types.PubKey
}

// MemoryStore is a Store backed by an in-memory map. Safe for concurrent
// use.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[types.PubKey]*types.Profile
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(profiles ...*types.Profile) *MemoryStore {
	s := &MemoryStore{profiles: make(map[types.PubKey]*types.Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.PubKey] = p
	}
	return s
}

func (s *MemoryStore) Lookup(pk types.PubKey) (*types.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[pk]
	return p, ok
}

// Add inserts or replaces a contact profile.
func (s *MemoryStore) Add(p *types.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.PubKey] = p
}

// StaticGroups is a GroupSource over a fixed membership set.
type StaticGroups struct {
	peers []types.PubKey
}

var _ GroupSource = (*StaticGroups)(nil)

func NewStaticGroups(peers ...types.PubKey) *StaticGroups {
	return &StaticGroups{peers: peers}
}

func (g *StaticGroups) Peers() []types.PubKey {
	out := make([]types.PubKey, len(g.peers))
	copy(out, g.peers)
	return out
}
