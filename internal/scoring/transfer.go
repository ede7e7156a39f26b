package scoring

import (
	"fmt"
	"math"
)

// TransferKind identifies a transfer function family.
type TransferKind string

const (
	TransferLinearCap       TransferKind = "linear_cap"
	TransferLogDecay        TransferKind = "log_decay"
	TransferThresholdBucket TransferKind = "threshold_bucket"
	TransferInverseRecency  TransferKind = "inverse_recency"
)

// Transfer maps a raw signal value onto a bounded sub-score. Every kind
// is monotonic non-decreasing in the raw value except inverse_recency,
// which is monotonic non-increasing by definition (staleness decays).
type Transfer struct {
	Kind TransferKind `json:"kind" yaml:"kind"`

	// linear_cap: min(value*scale, cap)
	Scale float64 `json:"scale,omitempty" yaml:"scale,omitempty"`

	// shared upper bound of the sub-score
	Cap float64 `json:"cap,omitempty" yaml:"cap,omitempty"`

	// log_decay: cap * (1 - 2^(-value/half_life))
	HalfLife float64 `json:"half_life,omitempty" yaml:"half_life,omitempty"`

	// inverse_recency: cap * max(0, 1 - value/max_days)
	MaxDays float64 `json:"max_days,omitempty" yaml:"max_days,omitempty"`

	// threshold_bucket: ascending breakpoints; first satisfied wins.
	// Scores carries one entry per breakpoint plus a trailing default.
	Breakpoints []float64 `json:"breakpoints,omitempty" yaml:"breakpoints,omitempty"`
	Scores      []float64 `json:"scores,omitempty" yaml:"scores,omitempty"`
}

// Apply normalizes a raw value to a sub-score. Negative raw values are
// clamped to 0 before the transfer, so a sub-score is never negative.
func (t Transfer) Apply(raw float64) float64 {
	if raw < 0 || math.IsNaN(raw) {
		raw = 0
	}

	switch t.Kind {
	case TransferLinearCap:
		return math.Min(raw*t.Scale, t.Cap)

	case TransferLogDecay:
		if t.HalfLife <= 0 {
			return 0
		}
		return t.Cap * (1 - math.Exp2(-raw/t.HalfLife))

	case TransferThresholdBucket:
		for i, bp := range t.Breakpoints {
			if raw <= bp {
				return t.Scores[i]
			}
		}
		return t.Scores[len(t.Scores)-1]

	case TransferInverseRecency:
		if t.MaxDays <= 0 {
			return 0
		}
		return t.Cap * math.Max(0, 1-raw/t.MaxDays)
	}

	return 0
}

// Validate checks the transfer parameters at profile publish time.
func (t Transfer) Validate() error {
	switch t.Kind {
	case TransferLinearCap:
		if t.Scale < 0 {
			return fmt.Errorf("linear_cap: negative scale %v", t.Scale)
		}
		if t.Cap <= 0 {
			return fmt.Errorf("linear_cap: cap must be positive, got %v", t.Cap)
		}

	case TransferLogDecay:
		if t.HalfLife <= 0 {
			return fmt.Errorf("log_decay: half_life must be positive, got %v", t.HalfLife)
		}
		if t.Cap <= 0 {
			return fmt.Errorf("log_decay: cap must be positive, got %v", t.Cap)
		}

	case TransferThresholdBucket:
		if len(t.Breakpoints) == 0 {
			return fmt.Errorf("threshold_bucket: no breakpoints")
		}
		if len(t.Scores) != len(t.Breakpoints)+1 {
			return fmt.Errorf("threshold_bucket: need %d scores (one per breakpoint plus default), got %d",
				len(t.Breakpoints)+1, len(t.Scores))
		}
		for i := 1; i < len(t.Breakpoints); i++ {
			if t.Breakpoints[i] <= t.Breakpoints[i-1] {
				return fmt.Errorf("threshold_bucket: breakpoints not strictly ascending at index %d", i)
			}
		}
		for i, s := range t.Scores {
			if s < 0 {
				return fmt.Errorf("threshold_bucket: negative score at index %d", i)
			}
		}

	case TransferInverseRecency:
		if t.MaxDays <= 0 {
			return fmt.Errorf("inverse_recency: max_days must be positive, got %v", t.MaxDays)
		}
		if t.Cap <= 0 {
			return fmt.Errorf("inverse_recency: cap must be positive, got %v", t.Cap)
		}

	default:
		return fmt.Errorf("unknown transfer kind %q", t.Kind)
	}

	return nil
}
