// Package storagetest provides a conformance suite that every GraphCache
// implementation must pass.
package storagetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerdex/peerdex/pkg/storage"
	"github.com/peerdex/peerdex/pkg/types"
)

func pubkey(b byte) types.PubKey {
	var pk types.PubKey
	pk[0] = b
	return pk
}

// RunGraphCacheTests runs the conformance suite against a fresh cache per
// subtest.
func RunGraphCacheTests(t *testing.T, newCache func(t *testing.T) storage.GraphCache) {
	t.Run("follow_list_roundtrip", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		_, ok := c.FollowList(pubkey(1))
		require.False(t, ok)

		fl := &types.FollowList{
			PubKey:    pubkey(1),
			Follows:   []types.PubKey{pubkey(2), pubkey(3)},
			FetchedAt: time.Now().UTC().Truncate(time.Second),
		}
		c.SetFollowList(fl, time.Minute)

		got, ok := c.FollowList(pubkey(1))
		require.True(t, ok)
		require.Equal(t, fl.Follows, got.Follows)
	})

	t.Run("profile_roundtrip", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		_, ok := c.Profile(pubkey(1))
		require.False(t, ok)

		p := &types.Profile{PubKey: pubkey(1), Name: "alice", UpdatedAt: time.Now().UTC().Truncate(time.Second)}
		c.SetProfile(p, time.Minute)

		entry, ok := c.Profile(pubkey(1))
		require.True(t, ok)
		require.False(t, entry.Empty)
		require.Equal(t, "alice", entry.Profile.Name)
	})

	t.Run("profile_confirmed_empty", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		c.SetProfileEmpty(pubkey(1), time.Minute)

		entry, ok := c.Profile(pubkey(1))
		require.True(t, ok)
		require.True(t, entry.Empty)
		require.Nil(t, entry.Profile)
	})

	t.Run("profile_last_writer_wins", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		now := time.Now().UTC().Truncate(time.Second)
		newer := &types.Profile{PubKey: pubkey(1), Name: "new", UpdatedAt: now}
		older := &types.Profile{PubKey: pubkey(1), Name: "old", UpdatedAt: now.Add(-time.Hour)}

		c.SetProfile(newer, time.Minute)
		c.SetProfile(older, time.Minute)

		entry, ok := c.Profile(pubkey(1))
		require.True(t, ok)
		require.Equal(t, "new", entry.Profile.Name)

		newest := &types.Profile{PubKey: pubkey(1), Name: "newest", UpdatedAt: now.Add(time.Hour)}
		c.SetProfile(newest, time.Minute)

		entry, ok = c.Profile(pubkey(1))
		require.True(t, ok)
		require.Equal(t, "newest", entry.Profile.Name)
	})

	t.Run("empty_marker_never_clobbers_profile", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		p := &types.Profile{PubKey: pubkey(1), Name: "alice", UpdatedAt: time.Now().UTC().Truncate(time.Second)}
		c.SetProfile(p, time.Minute)
		c.SetProfileEmpty(pubkey(1), time.Minute)

		entry, ok := c.Profile(pubkey(1))
		require.True(t, ok)
		require.False(t, entry.Empty)
		require.Equal(t, "alice", entry.Profile.Name)
	})

	t.Run("relay_list_roundtrip", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		_, ok := c.RelayList(pubkey(1))
		require.False(t, ok)

		rl := &types.RelayList{
			PubKey:    pubkey(1),
			Relays:    []string{"wss://relay.example.com"},
			FetchedAt: time.Now().UTC().Truncate(time.Second),
		}
		c.SetRelayList(rl, time.Minute)

		entry, ok := c.RelayList(pubkey(1))
		require.True(t, ok)
		require.False(t, entry.Empty)
		require.Equal(t, rl.Relays, entry.RelayList.Relays)
	})

	t.Run("relay_list_confirmed_empty", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		c.SetRelayListEmpty(pubkey(1), time.Minute)

		entry, ok := c.RelayList(pubkey(1))
		require.True(t, ok)
		require.True(t, entry.Empty)
		require.Nil(t, entry.RelayList)
	})

	t.Run("entries_expire", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		// Badger tracks expiry at second granularity, so the TTL here
		// cannot be made much shorter.
		fl := &types.FollowList{PubKey: pubkey(1), FetchedAt: time.Now()}
		c.SetFollowList(fl, time.Second)
		c.SetProfileEmpty(pubkey(1), time.Second)

		_, ok := c.FollowList(pubkey(1))
		require.True(t, ok)

		require.Eventually(t, func() bool {
			_, flOK := c.FollowList(pubkey(1))
			_, pOK := c.Profile(pubkey(1))
			return !flOK && !pOK
		}, 5*time.Second, 100*time.Millisecond)
	})
}
