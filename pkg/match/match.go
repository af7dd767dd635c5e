// Package match defines the query matcher the consumer scores candidate
// profiles with, plus a basic case-folding default. Ranking beyond the
// returned score is deliberately out of scope.
package match

import (
	"strings"

	"github.com/peerdex/peerdex/pkg/types"
)

// Matcher scores a profile against a query. ok is false when the profile
// does not match at all.
type Matcher interface {
	Score(p *types.Profile, query string) (score float64, ok bool)
}

// Relative weights for where in the profile the query matched.
const (
	displayNameWeight = 1.0
	nameWeight        = 0.9
	handleWeight      = 0.8

	prefixBonus = 0.5
)

// FoldMatcher is a case-insensitive substring matcher. Prefix matches score
// higher than interior matches, and display-name matches higher than handle
// matches.
type FoldMatcher struct{}

var _ Matcher = (*FoldMatcher)(nil)

func NewFoldMatcher() *FoldMatcher {
	return &FoldMatcher{}
}

func (m *FoldMatcher) Score(p *types.Profile, query string) (float64, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0, false
	}

	best := 0.0
	matched := false
	for _, f := range []struct {
		value  string
		weight float64
	}{
		{p.DisplayName, displayNameWeight},
		{p.Name, nameWeight},
		{p.Handle, handleWeight},
	} {
		v := strings.ToLower(f.value)
		if v == "" || !strings.Contains(v, q) {
			continue
		}
		score := f.weight
		if strings.HasPrefix(v, q) {
			score += prefixBonus
		}
		matched = true
		if score > best {
			best = score
		}
	}

	return best, matched
}
