// Package types holds the core data model shared by the producer, the
// consumer, and the external collaborator interfaces.
package types

import (
	"encoding/hex"
	"fmt"
	"time"
)

// PubKeyLen is the length in bytes of a public identity key.
const PubKeyLen = 32

// PubKey is an opaque fixed-length public identity key. It is comparable and
// usable as a map key; the engine never interprets its contents.
type PubKey [PubKeyLen]byte

// ParsePubKey decodes a hex-encoded public key.
func ParsePubKey(s string) (PubKey, error) {
	var pk PubKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("invalid pubkey %q: %w", s, err)
	}
	if len(b) != PubKeyLen {
		return pk, fmt.Errorf("invalid pubkey %q: got %d bytes, want %d", s, len(b), PubKeyLen)
	}
	copy(pk[:], b)
	return pk, nil
}

// MustParsePubKey is like ParsePubKey but panics on error. Test helper.
func MustParsePubKey(s string) PubKey {
	pk, err := ParsePubKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (p PubKey) String() string {
	return hex.EncodeToString(p[:])
}

// Short returns an abbreviated form suitable for log fields.
func (p PubKey) Short() string {
	return hex.EncodeToString(p[:4])
}

// Profile is the displayable record for a pubkey. Multiple observations of
// the same pubkey may disagree; the most recently timestamped one is
// canonical.
type Profile struct {
	PubKey      PubKey
	DisplayName string
	Name        string
	// Handle is the profile's verifiable external identifier
	// (e.g. name@domain), if it has published one.
	Handle    string
	UpdatedAt time.Time
}

// Newer reports whether p is a strictly more recent observation than other.
// A nil other is always older.
func (p *Profile) Newer(other *Profile) bool {
	if other == nil {
		return true
	}
	return p.UpdatedAt.After(other.UpdatedAt)
}

// BestName returns the most presentable non-empty name field.
func (p *Profile) BestName() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Name != "" {
		return p.Name
	}
	return p.Handle
}

// FollowList is the ordered set of pubkeys an identity follows, with the
// instant it was observed. Used only for graph expansion.
type FollowList struct {
	PubKey    PubKey
	Follows   []PubKey
	FetchedAt time.Time
}

// RelayList is the set of source addresses an identity has declared as
// authoritative for its own data.
type RelayList struct {
	PubKey    PubKey
	Relays    []string
	FetchedAt time.Time
}

// Candidate is a work-queue element: a discovered pubkey tagged with its hop
// distance from the seed set.
type Candidate struct {
	PubKey PubKey
	Radius int
}

// Tier identifies one resolution strategy in the consumer's waterfall,
// ordered by increasing cost.
type Tier int

const (
	// TierContacts resolves from the local identity store.
	TierContacts Tier = iota + 1
	// TierCache resolves from TTL-bounded cached profiles.
	TierCache
	// TierConnected fetches profile metadata from currently connected sources.
	TierConnected
	// TierRelayList looks up the pubkey's self-declared relay list.
	TierRelayList
	// TierOutbox fetches profile metadata from the pubkey's own declared sources.
	TierOutbox
)

func (t Tier) String() string {
	switch t {
	case TierContacts:
		return "contacts"
	case TierCache:
		return "cache"
	case TierConnected:
		return "connected"
	case TierRelayList:
		return "relay_list"
	case TierOutbox:
		return "outbox"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// SearchResult is a single match streamed to the caller. Emitted at most
// once per pubkey within one search.
type SearchResult struct {
	PubKey  PubKey
	Profile *Profile
	Score   float64
	// Tier records which resolution tier produced the profile. Diagnostics
	// only; it does not affect ordering.
	Tier Tier
}
