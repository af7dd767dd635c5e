package fetchtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerdex/peerdex/pkg/fetch"
	"github.com/peerdex/peerdex/pkg/types"
)

const fixtureJSON = `{
  "user": "0101010101010101010101010101010101010101010101010101010101010101",
  "contacts": [
    {"pubkey": "0202020202020202020202020202020202020202020202020202020202020202", "display_name": "Alice"}
  ],
  "groups": ["0505050505050505050505050505050505050505050505050505050505050505"],
  "profiles": [
    {"pubkey": "0303030303030303030303030303030303030303030303030303030303030303", "display_name": "Bob", "connected": true},
    {"pubkey": "0404040404040404040404040404040404040404040404040404040404040404", "display_name": "Bobby", "homes": ["wss://relay.bobby.example"]}
  ],
  "follows": {
    "0101010101010101010101010101010101010101010101010101010101010101": [
      "0303030303030303030303030303030303030303030303030303030303030303"
    ]
  },
  "relay_lists": {
    "0404040404040404040404040404040404040404040404040404040404040404": ["wss://relay.bobby.example"]
  }
}`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFixture(t *testing.T) {
	fx, err := LoadFixture(writeFixture(t, fixtureJSON))
	require.NoError(t, err)

	user := types.MustParsePubKey("0101010101010101010101010101010101010101010101010101010101010101")
	bob := types.MustParsePubKey("0303030303030303030303030303030303030303030303030303030303030303")
	bobby := types.MustParsePubKey("0404040404040404040404040404040404040404040404040404040404040404")

	require.Equal(t, user, fx.User)
	require.Equal(t, []types.PubKey{user}, fx.SearchSeeds())
	require.Len(t, fx.Contacts, 1)
	require.Len(t, fx.Groups, 1)

	ctx := context.Background()

	lists, err := fx.Client.FetchFollowLists(ctx, []types.PubKey{user})
	require.NoError(t, err)
	require.Equal(t, []types.PubKey{bob}, lists[user].Follows)

	// Bob is reachable from connected sources, Bobby only through his own
	// declared relays.
	profiles, err := fx.Client.FetchProfiles(ctx, []types.PubKey{bob, bobby}, fetch.ConnectedScope())
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	require.Equal(t, "Bob", profiles[bob].DisplayName)

	profiles, err = fx.Client.FetchProfiles(ctx, []types.PubKey{bobby}, fetch.RelayScope("wss://relay.bobby.example"))
	require.NoError(t, err)
	require.Equal(t, "Bobby", profiles[bobby].DisplayName)
}

func TestLoadFixtureNoUser(t *testing.T) {
	fx, err := LoadFixture(writeFixture(t, `{"profiles": []}`))
	require.NoError(t, err)
	require.Nil(t, fx.SearchSeeds())
}

func TestLoadFixtureRejectsBadPubKey(t *testing.T) {
	_, err := LoadFixture(writeFixture(t, `{"user": "nope"}`))
	require.Error(t, err)
}
