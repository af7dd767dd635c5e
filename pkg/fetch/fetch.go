// Package fetch defines the remote fetch client the engine issues network
// requests through. The wire protocol and connection pooling live behind
// this interface and are not part of the engine.
package fetch

import (
	"context"

	"github.com/peerdex/peerdex/pkg/types"
)

// Scope selects which remote sources a profile fetch is issued against.
type Scope struct {
	// Relays are the target source addresses. Empty means the currently
	// connected sources.
	Relays []string
}

// ConnectedScope targets the sources the client is already connected to.
func ConnectedScope() Scope {
	return Scope{}
}

// RelayScope targets a pubkey's own declared sources (the outbox model).
func RelayScope(relays ...string) Scope {
	return Scope{Relays: relays}
}

// Connected reports whether the scope is the ambient connected-source set.
func (s Scope) Connected() bool {
	return len(s.Relays) == 0
}

// Client issues batched, deadline-aware network requests. Implementations
// must issue the requests for a batch concurrently, and must return promptly
// once the context is done, reporting whatever completed.
//
// Per-pubkey failures surface as absence from the result maps; a non-nil
// error reports a transport-level failure of the whole batch. Either way the
// engine treats unresolved pubkeys as misses and never retries within a
// search.
type Client interface {
	// FetchFollowLists fetches follow lists for the given pubkeys.
	FetchFollowLists(ctx context.Context, pks []types.PubKey) (map[types.PubKey]*types.FollowList, error)

	// FetchProfiles fetches profile metadata for the given pubkeys from
	// the sources selected by scope.
	FetchProfiles(ctx context.Context, pks []types.PubKey, scope Scope) (map[types.PubKey]*types.Profile, error)

	// FetchRelayLists fetches declared relay lists. Pubkeys in absent have
	// definitively published no relay list, which is a cacheable state;
	// pubkeys in neither map failed and must not be cached as empty.
	FetchRelayLists(ctx context.Context, pks []types.PubKey) (found map[types.PubKey]*types.RelayList, absent map[types.PubKey]bool, err error)
}
