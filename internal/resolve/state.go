// Package resolve implements the consumer half of a search: draining the
// shared work queue and resolving each candidate to a profile through an
// ordered waterfall of increasingly expensive tiers.
package resolve

import (
	"github.com/peerdex/peerdex/pkg/types"
)

// itemState is the explicit per-candidate state machine:
//
//	Queued → Resolving(tier k) → Matched | Resolved | Forwarded(k+1) | Exhausted
//
// Matched and Resolved are terminal success states (a profile was found;
// Matched additionally matched the query). Exhausted is the terminal failure
// state: no profile was found through the deepest tier attempted.
type itemState int

const (
	stateQueued itemState = iota
	stateResolving
	stateMatched
	stateResolved
	stateForwarded
	stateExhausted
)

func (s itemState) String() string {
	switch s {
	case stateQueued:
		return "queued"
	case stateResolving:
		return "resolving"
	case stateMatched:
		return "matched"
	case stateResolved:
		return "resolved"
	case stateForwarded:
		return "forwarded"
	case stateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// item is one candidate moving through the waterfall.
type item struct {
	pk     types.PubKey
	radius int

	state itemState
	tier  types.Tier

	// profile is set once a tier resolves the candidate.
	profile *types.Profile
	// relays is set by the relay-list tier for the outbox tier to use.
	relays []string
}

func newItem(c types.Candidate) *item {
	return &item{pk: c.PubKey, radius: c.Radius, state: stateQueued}
}

func (it *item) resolving(tier types.Tier) {
	it.state = stateResolving
	it.tier = tier
}

func (it *item) matched(p *types.Profile) {
	it.state = stateMatched
	it.profile = p
}

func (it *item) resolved(p *types.Profile) {
	it.state = stateResolved
	it.profile = p
}

func (it *item) forwarded() {
	it.state = stateForwarded
}

func (it *item) exhausted() {
	it.state = stateExhausted
}
