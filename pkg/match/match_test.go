package match

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerdex/peerdex/pkg/types"
)

func TestFoldMatcher(t *testing.T) {
	m := NewFoldMatcher()

	profile := &types.Profile{
		DisplayName: "Bob Loblaw",
		Name:        "bob",
		Handle:      "bob@lawblog.example",
	}

	t.Run("prefix_match_on_display_name", func(t *testing.T) {
		score, ok := m.Score(profile, "bob")
		require.True(t, ok)
		require.Equal(t, displayNameWeight+prefixBonus, score)
	})

	t.Run("interior_match", func(t *testing.T) {
		score, ok := m.Score(profile, "loblaw")
		require.True(t, ok)
		require.Equal(t, displayNameWeight, score)
	})

	t.Run("case_folded", func(t *testing.T) {
		_, ok := m.Score(profile, "BOB")
		require.True(t, ok)
	})

	t.Run("handle_only_match", func(t *testing.T) {
		score, ok := m.Score(profile, "lawblog")
		require.True(t, ok)
		require.Equal(t, handleWeight, score)
	})

	t.Run("no_match", func(t *testing.T) {
		_, ok := m.Score(profile, "carol")
		require.False(t, ok)
	})

	t.Run("empty_query_never_matches", func(t *testing.T) {
		_, ok := m.Score(profile, "   ")
		require.False(t, ok)
	})
}
