package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerdex/peerdex/pkg/types"
)

func pubkey(b byte) types.PubKey {
	var pk types.PubKey
	pk[0] = b
	return pk
}

func TestFrontierFirstDiscoveredRadiusWins(t *testing.T) {
	f := NewFrontier()

	require.True(t, f.Add(pubkey(1), 0))
	require.False(t, f.Add(pubkey(1), 0))
	require.False(t, f.Add(pubkey(1), 2))

	r, ok := f.RadiusOf(pubkey(1))
	require.True(t, ok)
	require.Equal(t, 0, r)

	require.Equal(t, []types.PubKey{pubkey(1)}, f.AtRadius(0))
	require.Empty(t, f.AtRadius(2))
	require.Equal(t, 1, f.Size())
}

func TestFrontierPreservesDiscoveryOrder(t *testing.T) {
	f := NewFrontier()

	require.True(t, f.Add(pubkey(3), 1))
	require.True(t, f.Add(pubkey(1), 1))
	require.True(t, f.Add(pubkey(2), 1))

	require.Equal(t, []types.PubKey{pubkey(3), pubkey(1), pubkey(2)}, f.AtRadius(1))
}

func TestFrontierUnknownPubKey(t *testing.T) {
	f := NewFrontier()

	_, ok := f.RadiusOf(pubkey(9))
	require.False(t, ok)
}
