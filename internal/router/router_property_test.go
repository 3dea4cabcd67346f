package router

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/nidhogg/jarvis-hub/internal/skill"
)

var words = []string{"turn", "on", "off", "lights", "time", "weather", "door", "lock", "music", "play", "what", "is"}

func genCatalog(t *rapid.T) catalog {
	n := rapid.IntRange(0, 6).Draw(t, "skills")
	out := make(catalog, n)
	for i := range out {
		kws := rapid.SliceOfN(rapid.SampledFrom(words), 0, 4).Draw(t, fmt.Sprintf("kw%d", i))
		out[i] = desc(fmt.Sprintf("skill%d", i), kws...)
	}
	return out
}

// TestProperty_RouteDeterministicStrictMax checks that routing is stable and
// that the winner has the maximum score with the earliest index among ties.
func TestProperty_RouteDeterministicStrictMax(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cat := genCatalog(rt)
		msg := strings.Join(rapid.SliceOfN(rapid.SampledFrom(words), 0, 8).Draw(rt, "msg"), " ")
		r := New(0)

		first := r.Route(msg, cat)
		second := r.Route(msg, cat)
		require.Equal(rt, first, second, "route is not deterministic")

		tokens := Tokenize(msg)
		bestIdx, bestScore := -1, 0.0
		for i, d := range cat {
			s, _ := Score(d, tokens)
			if s > bestScore {
				bestIdx, bestScore = i, s
			}
		}

		if bestIdx < 0 {
			assert.False(rt, first.Matched)
			return
		}
		require.True(rt, first.Matched)
		assert.Equal(rt, cat[bestIdx].Name, first.Skill)
		assert.InDelta(rt, bestScore, first.Confidence, 1e-9)
		for i, d := range cat {
			s, _ := Score(d, tokens)
			assert.LessOrEqual(rt, s, first.Confidence)
			if i < bestIdx {
				assert.Less(rt, s, first.Confidence, "earlier skill tied but lost")
			}
		}
	})
}

func TestProperty_ScoreBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := skill.Descriptor{Keywords: rapid.SliceOf(rapid.SampledFrom(words)).Draw(rt, "kw")}
		tokens := rapid.SliceOf(rapid.SampledFrom(words)).Draw(rt, "tokens")
		s, hits := Score(d, tokens)
		require.GreaterOrEqual(rt, s, 0.0)
		require.LessOrEqual(rt, s, 1.0)
		if len(d.Keywords) == 0 {
			require.Zero(rt, s)
		}
		require.LessOrEqual(rt, len(hits), len(d.Keywords))
	})
}
