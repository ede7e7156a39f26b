package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pallabcodes/signalrank/internal/monitoring"
	"github.com/pallabcodes/signalrank/internal/signals"
)

// faultyCollector fails named signals and delegates the rest.
type faultyCollector struct {
	inner *signals.StaticCollector
	fail  map[string]error
}

func (f *faultyCollector) FetchSignal(ctx context.Context, entityID, name string) (float64, bool, error) {
	if err, bad := f.fail[name]; bad {
		return 0, false, err
	}
	return f.inner.FetchSignal(ctx, entityID, name)
}

// leadScoreProfile mirrors the CRM lead-scoring table: weights folded
// into the transfer caps, composite capped at 100.
func leadScoreProfile() *Profile {
	return &Profile{
		ID:      "lead_score@1",
		Name:    "lead_score",
		Version: 1,
		Ceiling: 100,
		Signals: []SignalSpec{
			{Name: "interactions", Weight: 1, Transfer: Transfer{Kind: TransferLinearCap, Scale: 1, Cap: 20}},
			{Name: "recent_activity", Weight: 1, Transfer: Transfer{Kind: TransferLogDecay, HalfLife: 3, Cap: 20}},
			{Name: "opportunities", Weight: 1, Transfer: Transfer{Kind: TransferLinearCap, Scale: 10, Cap: 30}},
		},
	}
}

func TestComputeScoreLeadExample(t *testing.T) {
	collector := signals.NewStaticCollector()
	collector.Set("cust-1", "interactions", 10)
	collector.Set("cust-1", "recent_activity", 6)
	collector.Set("cust-1", "opportunities", 2)

	engine := NewEngine(collector)
	score := engine.ComputeScore(context.Background(), "cust-1", leadScoreProfile())

	// min(10,20)=10, 20*(1-2^-2)=15, min(2*10,30)=20 -> 45
	assert.InDelta(t, 45, score.Value, 1e-9)
	assert.False(t, score.Partial)
	assert.Empty(t, score.Warnings)
	require.Len(t, score.Contributions, 3)
	assert.Equal(t, "opportunities", score.TopContributor())
}

func TestComputeScoreDeterminism(t *testing.T) {
	collector := signals.NewStaticCollector()
	collector.Set("cust-1", "interactions", 7)
	collector.Set("cust-1", "recent_activity", 2)
	collector.Set("cust-1", "opportunities", 1)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := NewEngineWithClock(collector, func() time.Time { return fixed })

	first := engine.ComputeScore(context.Background(), "cust-1", leadScoreProfile())
	second := engine.ComputeScore(context.Background(), "cust-1", leadScoreProfile())

	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, first.Contributions, second.Contributions)
	assert.Equal(t, first.ComputedAt, second.ComputedAt)
}

func TestComputeScoreMissingSignalNeutrality(t *testing.T) {
	withZero := signals.NewStaticCollector()
	withZero.Set("a", "interactions", 5)
	withZero.Set("a", "recent_activity", 0)
	withZero.Set("a", "opportunities", 1)

	withMissing := signals.NewStaticCollector()
	withMissing.Set("b", "interactions", 5)
	withMissing.Set("b", "opportunities", 1)

	scoreZero := NewEngine(withZero).ComputeScore(context.Background(), "a", leadScoreProfile())
	scoreMissing := NewEngine(withMissing).ComputeScore(context.Background(), "b", leadScoreProfile())

	assert.Equal(t, scoreZero.Value, scoreMissing.Value)
	assert.Empty(t, scoreMissing.Warnings, "absence of a fact is neutral, not a failure")
}

func TestComputeScoreBoundedness(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]float64
	}{
		{"all zero", map[string]float64{"interactions": 0, "recent_activity": 0, "opportunities": 0}},
		{"typical", map[string]float64{"interactions": 12, "recent_activity": 4, "opportunities": 2}},
		{"extreme", map[string]float64{"interactions": 1e15, "recent_activity": 1e15, "opportunities": 1e15}},
		{"negative", map[string]float64{"interactions": -50, "recent_activity": -1, "opportunities": -1e9}},
	}

	profile := leadScoreProfile()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := signals.NewStaticCollector()
			for name, v := range tt.values {
				collector.Set("e", name, v)
			}

			score := NewEngine(collector).ComputeScore(context.Background(), "e", profile)
			assert.GreaterOrEqual(t, score.Value, 0.0)
			assert.LessOrEqual(t, score.Value, profile.Ceiling)
		})
	}
}

func TestComputeScoreCapsAtCeiling(t *testing.T) {
	collector := signals.NewStaticCollector()
	collector.Set("e", "interactions", 1e6)
	collector.Set("e", "recent_activity", 1e6)
	collector.Set("e", "opportunities", 1e6)

	// Sub-caps alone sum to 70; crank the weights so the composite
	// overshoots and the ceiling has to bite.
	profile := leadScoreProfile()
	for i := range profile.Signals {
		profile.Signals[i].Weight = 10
	}

	score := NewEngine(collector).ComputeScore(context.Background(), "e", profile)
	assert.Equal(t, profile.Ceiling, score.Value)
}

func TestComputeScoreDegradesOnFetchFailure(t *testing.T) {
	inner := signals.NewStaticCollector()
	inner.Set("cust-1", "interactions", 10)
	inner.Set("cust-1", "opportunities", 2)

	collector := &faultyCollector{
		inner: inner,
		fail:  map[string]error{"recent_activity": errors.New("upstream timeout")},
	}

	metrics := monitoring.NewMetrics()
	engine := NewEngine(collector).WithMetrics(metrics)
	score := engine.ComputeScore(context.Background(), "cust-1", leadScoreProfile())

	// 10 + 0 + 20: the failed signal contributes nothing but the pass
	// still completes.
	assert.InDelta(t, 30, score.Value, 1e-9)
	assert.True(t, score.Partial)
	require.Len(t, score.Warnings, 1)
	assert.Contains(t, score.Warnings[0], "recent_activity")
	assert.Equal(t, int64(1), metrics.SignalFetchFailures)

	engine.ComputeScore(context.Background(), "cust-1", leadScoreProfile())
	assert.Equal(t, int64(2), metrics.SignalFetchFailures)
}

func TestComputeScoreExpiredDeadline(t *testing.T) {
	collector := signals.NewStaticCollector()
	collector.Set("cust-1", "interactions", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	score := NewEngine(collector).ComputeScore(ctx, "cust-1", leadScoreProfile())

	assert.True(t, score.Partial)
	assert.NotEmpty(t, score.Warnings)
	assert.Equal(t, 0.0, score.Value)
}

func TestTopContributorTieIsFirstDeclared(t *testing.T) {
	score := Score{Contributions: []Contribution{
		{Signal: "beta", Amount: 5},
		{Signal: "alpha", Amount: 5},
	}}
	assert.Equal(t, "beta", score.TopContributor())
}
