package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	apperrors "github.com/pallabcodes/signalrank/internal/errors"
	"github.com/pallabcodes/signalrank/internal/monitoring"
	"github.com/pallabcodes/signalrank/internal/signals"
)

// Contribution records one weighted term of a composite score, kept for
// explainability.
type Contribution struct {
	Signal   string  `json:"signal"`
	SubScore float64 `json:"sub_score"`
	Amount   float64 `json:"amount"`
}

// Score is one immutable scoring outcome for (entity, profile).
type Score struct {
	ID            string         `json:"id,omitempty"`
	EntityID      string         `json:"entity_id"`
	ProfileID     string         `json:"profile_id"`
	Value         float64        `json:"value"`
	ComputedAt    time.Time      `json:"computed_at"`
	Generation    int64          `json:"generation"`
	Partial       bool           `json:"partial,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	Contributions []Contribution `json:"contributions,omitempty"`
}

// TopContributor returns the signal whose weighted contribution
// dominates the composite, used as the recommendation reason tag. Ties
// resolve to the signal that appears first in the profile, so the tag
// is reproducible.
func (s Score) TopContributor() string {
	best := ""
	bestAmount := math.Inf(-1)
	for _, c := range s.Contributions {
		if c.Amount > bestAmount {
			best = c.Signal
			bestAmount = c.Amount
		}
	}
	return best
}

// Engine computes composite scores from collected signals. It is a pure
// function of the fetched signal values: no randomness, no hidden state.
type Engine struct {
	collector signals.Collector
	metrics   *monitoring.Metrics
	now       func() time.Time
}

// NewEngine creates an engine over the given collector.
func NewEngine(collector signals.Collector) *Engine {
	return &Engine{collector: collector, now: time.Now}
}

// NewEngineWithClock creates an engine with an injected clock for tests.
func NewEngineWithClock(collector signals.Collector, now func() time.Time) *Engine {
	return &Engine{collector: collector, now: now}
}

// WithMetrics attaches a metrics sink so degraded signal fetches are
// counted. Returns the engine for chaining.
func (e *Engine) WithMetrics(metrics *monitoring.Metrics) *Engine {
	e.metrics = metrics
	return e
}

// ComputeScore walks the profile's signal table in declared order:
// fetch, normalize, weight, sum, then cap the composite at the profile
// ceiling. A missing signal contributes 0; a failed fetch contributes 0
// and leaves a warning on the Score instead of aborting the pass. When
// the context deadline expires mid-pass the best partial score computed
// so far is returned, flagged Partial.
func (e *Engine) ComputeScore(ctx context.Context, entityID string, profile *Profile) Score {
	score := Score{
		EntityID:      entityID,
		ProfileID:     profile.ID,
		ComputedAt:    e.now().UTC(),
		Contributions: make([]Contribution, 0, len(profile.Signals)),
	}

	composite := 0.0
	for _, spec := range profile.Signals {
		if err := ctx.Err(); err != nil {
			score.Partial = true
			score.Warnings = append(score.Warnings,
				fmt.Sprintf("deadline reached before signal %q; remaining signals contribute 0", spec.Name))
			break
		}

		raw, found, err := e.collector.FetchSignal(ctx, entityID, spec.Name)
		if err != nil {
			// Recoverable by contract: scores are advisory, so a signal
			// failure degrades to a 0 contribution with a warning.
			fetchErr := apperrors.NewSignalFetchError(spec.Name, err)
			score.Partial = true
			score.Warnings = append(score.Warnings, fetchErr.Error())
			if e.metrics != nil {
				e.metrics.IncrementSignalFetchFailure()
			}
			slog.Warn("Signal fetch failed, contribution degraded to 0",
				"entity_id", entityID,
				"profile_id", profile.ID,
				"signal", spec.Name,
				"error", fetchErr)
			score.Contributions = append(score.Contributions, Contribution{Signal: spec.Name})
			continue
		}

		sub := 0.0
		if found {
			sub = spec.Transfer.Apply(raw)
		}
		amount := spec.Weight * sub
		composite += amount

		score.Contributions = append(score.Contributions, Contribution{
			Signal:   spec.Name,
			SubScore: sub,
			Amount:   amount,
		})
	}

	// Correlated signals are expected to double-count; the composite is
	// bounded by the ceiling rather than renormalized.
	if composite > profile.Ceiling {
		composite = profile.Ceiling
	}
	if composite < 0 {
		composite = 0
	}
	score.Value = composite

	return score
}
