package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParsePubKey(t *testing.T) {
	hexKey := strings.Repeat("ab", PubKeyLen)

	pk, err := ParsePubKey(hexKey)
	require.NoError(t, err)
	require.Equal(t, hexKey, pk.String())
	require.Equal(t, "abababab", pk.Short())

	_, err = ParsePubKey("zz")
	require.Error(t, err)

	_, err = ParsePubKey("abcd")
	require.Error(t, err)
}

func TestProfileNewer(t *testing.T) {
	now := time.Now()

	older := &Profile{UpdatedAt: now.Add(-time.Hour)}
	newer := &Profile{UpdatedAt: now}

	require.True(t, newer.Newer(older))
	require.False(t, older.Newer(newer))
	require.True(t, older.Newer(nil))
	require.False(t, older.Newer(older))
}

func TestProfileBestName(t *testing.T) {
	p := &Profile{DisplayName: "Bob Loblaw", Name: "bob", Handle: "bob@example.com"}
	require.Equal(t, "Bob Loblaw", p.BestName())

	p.DisplayName = ""
	require.Equal(t, "bob", p.BestName())

	p.Name = ""
	require.Equal(t, "bob@example.com", p.BestName())
}

func TestTierString(t *testing.T) {
	require.Equal(t, "contacts", TierContacts.String())
	require.Equal(t, "outbox", TierOutbox.String())
	require.Equal(t, "tier(9)", Tier(9).String())
}
