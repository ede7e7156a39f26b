package ranker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pallabcodes/signalrank/internal/scoring"
)

// Candidate is one entity eligible for recommendation.
type Candidate struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Recommendation is one ranked result.
type Recommendation struct {
	CandidateID string  `json:"candidate_id"`
	Score       float64 `json:"score"`
	ReasonTag   string  `json:"reason_tag,omitempty"`
	Partial     bool    `json:"partial,omitempty"`
}

// Request describes one ranking pass over a candidate pool. SubjectID
// names the entity the recommendations are for; it is never returned
// as a result even when it appears in the pool.
type Request struct {
	ProfileID  string
	SubjectID  string
	Candidates []Candidate
	Exclude    []string
	MaxResults int
}

// ScoreSource produces the composite score for one entity under a
// profile. Satisfied by the cached scoring path.
type ScoreSource interface {
	ScoreFor(ctx context.Context, entityID, profileID string) (*scoring.Score, error)
}

// Ranker orders candidate pools by composite score.
type Ranker struct {
	source ScoreSource
}

// New creates a ranker over the given score source.
func New(source ScoreSource) *Ranker {
	return &Ranker{source: source}
}

// Rank scores every non-excluded candidate and returns the top results
// in descending score order. Ties break by candidate recency, newest
// first, then by id, so a repeat call over the same pool yields the
// same order. A candidate whose score cannot be computed at all is
// dropped from the results rather than failing the pass.
func (r *Ranker) Rank(ctx context.Context, req Request) ([]Recommendation, error) {
	if req.ProfileID == "" {
		return nil, fmt.Errorf("profile id is required")
	}
	if req.MaxResults <= 0 {
		return []Recommendation{}, nil
	}

	excluded := make(map[string]struct{}, len(req.Exclude)+1)
	for _, id := range req.Exclude {
		excluded[id] = struct{}{}
	}
	if req.SubjectID != "" {
		excluded[req.SubjectID] = struct{}{}
	}

	type ranked struct {
		candidate Candidate
		score     *scoring.Score
	}

	results := make([]ranked, 0, len(req.Candidates))
	for _, candidate := range req.Candidates {
		if _, skip := excluded[candidate.ID]; skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		score, err := r.source.ScoreFor(ctx, candidate.ID, req.ProfileID)
		if err != nil {
			slog.Warn("Dropping unscorable candidate",
				"candidate_id", candidate.ID,
				"profile_id", req.ProfileID,
				"error", err)
			continue
		}
		results = append(results, ranked{candidate: candidate, score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.score.Value != b.score.Value {
			return a.score.Value > b.score.Value
		}
		if !a.candidate.CreatedAt.Equal(b.candidate.CreatedAt) {
			return a.candidate.CreatedAt.After(b.candidate.CreatedAt)
		}
		return a.candidate.ID < b.candidate.ID
	})

	if len(results) > req.MaxResults {
		results = results[:req.MaxResults]
	}

	recommendations := make([]Recommendation, 0, len(results))
	for _, res := range results {
		recommendations = append(recommendations, Recommendation{
			CandidateID: res.candidate.ID,
			Score:       res.score.Value,
			ReasonTag:   res.score.TopContributor(),
			Partial:     res.score.Partial,
		})
	}

	return recommendations, nil
}
