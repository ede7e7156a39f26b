package types

import (
	"time"

	"github.com/pallabcodes/signalrank/internal/ranker"
	"github.com/pallabcodes/signalrank/internal/scoring"
)

// ScoreRequest asks for the composite score of one entity under a profile.
type ScoreRequest struct {
	EntityID string `json:"entity_id" binding:"required"`
	Profile  string `json:"profile" binding:"required"` // profile id, or name for its latest version
	Force    bool   `json:"force,omitempty"`            // bypass the cache
}

// ScoreResponse carries a computed or cached score.
type ScoreResponse struct {
	EntityID      string                 `json:"entity_id"`
	ProfileID     string                 `json:"profile_id"`
	Value         float64                `json:"value"`
	Partial       bool                   `json:"partial,omitempty"`
	Warnings      []string               `json:"warnings,omitempty"`
	Contributions []scoring.Contribution `json:"contributions,omitempty"`
	Cached        bool                   `json:"cached"`
	ComputedAt    time.Time              `json:"computed_at"`
}

// RecommendRequest asks for a ranked slice of a candidate pool.
type RecommendRequest struct {
	Profile    string             `json:"profile" binding:"required"`
	SubjectID  string             `json:"subject_entity_id,omitempty"`
	Candidates []ranker.Candidate `json:"candidates" binding:"required"`
	Exclude    []string           `json:"exclude,omitempty"`
	MaxResults int                `json:"max_results" binding:"required"`
}

// RecommendResponse carries the ranked results.
type RecommendResponse struct {
	ProfileID       string                  `json:"profile_id"`
	Recommendations []ranker.Recommendation `json:"recommendations"`
}

// SignalUpdateRequest writes raw signal values for an entity.
type SignalUpdateRequest struct {
	Signals map[string]float64 `json:"signals" binding:"required"`
}

// SignalUpdateResponse confirms the write and reports the new generation.
type SignalUpdateResponse struct {
	EntityID   string `json:"entity_id"`
	Updated    int    `json:"updated"`
	Generation int64  `json:"generation"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
	Code     string `json:"code,omitempty"`
}
