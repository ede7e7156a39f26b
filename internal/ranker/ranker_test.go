package ranker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pallabcodes/signalrank/internal/scoring"
)

// fakeSource serves canned scores keyed by entity id.
type fakeSource struct {
	scores map[string]*scoring.Score
	errs   map[string]error
	calls  int
}

func (f *fakeSource) ScoreFor(_ context.Context, entityID, profileID string) (*scoring.Score, error) {
	f.calls++
	if err, ok := f.errs[entityID]; ok {
		return nil, err
	}
	if score, ok := f.scores[entityID]; ok {
		return score, nil
	}
	return &scoring.Score{EntityID: entityID, ProfileID: profileID}, nil
}

func fixedScore(value float64, topSignal string) *scoring.Score {
	score := &scoring.Score{Value: value}
	if topSignal != "" {
		score.Contributions = []scoring.Contribution{{Signal: topSignal, Amount: value}}
	}
	return score
}

func TestRankOrdering(t *testing.T) {
	source := &fakeSource{scores: map[string]*scoring.Score{
		"lead-a": fixedScore(45, "opportunities"),
		"lead-b": fixedScore(80, "interactions"),
		"lead-c": fixedScore(12, "recent_activity"),
	}}
	r := New(source)

	recs, err := r.Rank(context.Background(), Request{
		ProfileID: "p1",
		Candidates: []Candidate{
			{ID: "lead-a"}, {ID: "lead-b"}, {ID: "lead-c"},
		},
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "lead-b", recs[0].CandidateID)
	assert.Equal(t, 80.0, recs[0].Score)
	assert.Equal(t, "interactions", recs[0].ReasonTag)
	assert.Equal(t, "lead-a", recs[1].CandidateID)
	assert.Equal(t, "lead-c", recs[2].CandidateID)
}

func TestRankTieBreaks(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{scores: map[string]*scoring.Score{
		"lead-old":  fixedScore(50, ""),
		"lead-new":  fixedScore(50, ""),
		"lead-also": fixedScore(50, ""),
	}}
	r := New(source)

	recs, err := r.Rank(context.Background(), Request{
		ProfileID: "p1",
		Candidates: []Candidate{
			{ID: "lead-old", CreatedAt: base},
			{ID: "lead-new", CreatedAt: base.Add(48 * time.Hour)},
			{ID: "lead-also", CreatedAt: base},
		},
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	// Newest first, then id ascending among equals.
	assert.Equal(t, "lead-new", recs[0].CandidateID)
	assert.Equal(t, "lead-also", recs[1].CandidateID)
	assert.Equal(t, "lead-old", recs[2].CandidateID)
}

func TestRankDeterministic(t *testing.T) {
	source := &fakeSource{scores: map[string]*scoring.Score{
		"lead-a": fixedScore(45, ""),
		"lead-b": fixedScore(45, ""),
		"lead-c": fixedScore(30, ""),
	}}
	r := New(source)

	req := Request{
		ProfileID:  "p1",
		Candidates: []Candidate{{ID: "lead-c"}, {ID: "lead-b"}, {ID: "lead-a"}},
		MaxResults: 10,
	}

	first, err := r.Rank(context.Background(), req)
	require.NoError(t, err)
	second, err := r.Rank(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRankExclusion(t *testing.T) {
	source := &fakeSource{scores: map[string]*scoring.Score{
		"lead-a": fixedScore(45, ""),
		"lead-b": fixedScore(80, ""),
	}}
	r := New(source)

	recs, err := r.Rank(context.Background(), Request{
		ProfileID:  "p1",
		Candidates: []Candidate{{ID: "lead-a"}, {ID: "lead-b"}},
		Exclude:    []string{"lead-b"},
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "lead-a", recs[0].CandidateID)

	// Excluded candidates are never scored.
	assert.Equal(t, 1, source.calls)
}

func TestRankSubjectNeverRecommended(t *testing.T) {
	source := &fakeSource{scores: map[string]*scoring.Score{
		"lead-a": fixedScore(45, ""),
		"lead-b": fixedScore(80, ""),
	}}
	r := New(source)

	recs, err := r.Rank(context.Background(), Request{
		ProfileID:  "p1",
		SubjectID:  "lead-b",
		Candidates: []Candidate{{ID: "lead-a"}, {ID: "lead-b"}},
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "lead-a", recs[0].CandidateID)
	assert.Equal(t, 1, source.calls)
}

func TestRankTruncation(t *testing.T) {
	source := &fakeSource{scores: map[string]*scoring.Score{
		"lead-a": fixedScore(10, ""),
		"lead-b": fixedScore(20, ""),
		"lead-c": fixedScore(30, ""),
	}}
	r := New(source)

	recs, err := r.Rank(context.Background(), Request{
		ProfileID:  "p1",
		Candidates: []Candidate{{ID: "lead-a"}, {ID: "lead-b"}, {ID: "lead-c"}},
		MaxResults: 2,
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "lead-c", recs[0].CandidateID)
	assert.Equal(t, "lead-b", recs[1].CandidateID)
}

func TestRankEdgeCases(t *testing.T) {
	t.Run("empty pool", func(t *testing.T) {
		r := New(&fakeSource{})
		recs, err := r.Rank(context.Background(), Request{ProfileID: "p1", MaxResults: 5})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("non-positive max results", func(t *testing.T) {
		r := New(&fakeSource{})
		recs, err := r.Rank(context.Background(), Request{
			ProfileID:  "p1",
			Candidates: []Candidate{{ID: "lead-a"}},
			MaxResults: 0,
		})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("all candidates excluded", func(t *testing.T) {
		r := New(&fakeSource{})
		recs, err := r.Rank(context.Background(), Request{
			ProfileID:  "p1",
			Candidates: []Candidate{{ID: "lead-a"}},
			Exclude:    []string{"lead-a"},
			MaxResults: 5,
		})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("missing profile id", func(t *testing.T) {
		r := New(&fakeSource{})
		_, err := r.Rank(context.Background(), Request{MaxResults: 5})
		require.Error(t, err)
	})

	t.Run("unscorable candidate is dropped", func(t *testing.T) {
		source := &fakeSource{
			scores: map[string]*scoring.Score{"lead-a": fixedScore(45, "")},
			errs:   map[string]error{"lead-b": errors.New("store down")},
		}
		r := New(source)

		recs, err := r.Rank(context.Background(), Request{
			ProfileID:  "p1",
			Candidates: []Candidate{{ID: "lead-a"}, {ID: "lead-b"}},
			MaxResults: 5,
		})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "lead-a", recs[0].CandidateID)
	})
}
