package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvraamMavridis/lore/internal/domain"
)

func TestRankedSearch_IntentOutranksReasoning(t *testing.T) {
	src := newMemSource()

	inIntent := entry("intent-hit", t0, "a.go")
	inIntent.Intent = "Cache invalidation for sessions"
	src.add(inIntent)

	inTrace := entry("trace-hit", t0.Add(time.Minute), "b.go")
	inTrace.Intent = "Refactor handlers"
	inTrace.ReasoningTrace = "touches the cache layer indirectly"
	src.add(inTrace)

	unrelated := entry("miss", t0, "c.go")
	unrelated.Intent = "Bump dependencies"
	src.add(unrelated)

	res, err := New(src, nil).RankedSearch("cache", 10)
	require.NoError(t, err)

	require.Len(t, res.Hits, 2)
	assert.Equal(t, "intent-hit", res.Hits[0].Entry.ID)
	assert.Equal(t, "trace-hit", res.Hits[1].Entry.ID)
	assert.Greater(t, res.Hits[0].Score, res.Hits[1].Score)
}

func TestRankedSearch_MatchesAlternativesAndTags(t *testing.T) {
	src := newMemSource()
	e := entry("E1", t0, "a.go")
	e.Tags = []string{"database"}
	e.RejectedAlternatives = []domain.RejectedAlternative{{Name: "MongoDB", Reason: "no transactions"}}
	src.add(e)
	q := New(src, nil)

	for _, term := range []string{"database", "mongodb", "transactions"} {
		res, err := q.RankedSearch(term, 0)
		require.NoError(t, err)
		require.Len(t, res.Hits, 1, "term %q", term)
	}
}

func TestRankedSearch_LimitAndEmpty(t *testing.T) {
	src := newMemSource()
	for _, id := range []string{"E1", "E2", "E3"} {
		e := entry(id, t0, "a.go")
		e.Intent = "logging cleanup"
		src.add(e)
	}
	src.addBroken("E4", "a.go")
	q := New(src, nil)

	res, err := q.RankedSearch("logging", 2)
	require.NoError(t, err)
	assert.Len(t, res.Hits, 2)
	assert.Equal(t, uint64(3), res.Total)
	assert.Equal(t, 1, res.Skipped)

	_, err = q.RankedSearch("   ", 10)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	empty, err := New(newMemSource(), nil).RankedSearch("x", 10)
	require.NoError(t, err)
	assert.Empty(t, empty.Hits)
}
