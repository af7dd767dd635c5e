// Package graph implements the producer half of a search: breadth-first
// expansion of the social graph from a seed set, feeding discovered pubkeys
// into the shared work queue.
package graph

import (
	"github.com/peerdex/peerdex/pkg/types"
)

// Frontier tracks every pubkey discovered during one search, partitioned by
// radius. A pubkey belongs to exactly one radius: the first at which it was
// discovered.
//
// The frontier is owned by the producer goroutine and is not safe for
// concurrent use.
type Frontier struct {
	seen  map[types.PubKey]int
	radii map[int][]types.PubKey
}

func NewFrontier() *Frontier {
	return &Frontier{
		seen:  make(map[types.PubKey]int),
		radii: make(map[int][]types.PubKey),
	}
}

// Add records pk as discovered at radius. It returns false if pk was already
// discovered (at any radius).
func (f *Frontier) Add(pk types.PubKey, radius int) bool {
	if _, ok := f.seen[pk]; ok {
		return false
	}
	f.seen[pk] = radius
	f.radii[radius] = append(f.radii[radius], pk)
	return true
}

// AtRadius returns the pubkeys first discovered at the given radius, in
// discovery order.
func (f *Frontier) AtRadius(radius int) []types.PubKey {
	return f.radii[radius]
}

// RadiusOf returns the radius pk was first discovered at.
func (f *Frontier) RadiusOf(pk types.PubKey) (int, bool) {
	r, ok := f.seen[pk]
	return r, ok
}

// Size returns the total number of discovered pubkeys across all radii.
func (f *Frontier) Size() int {
	return len(f.seen)
}
