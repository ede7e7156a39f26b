package scoring

import (
	"fmt"
	"time"
)

// SignalSpec binds one named signal to its weight and transfer function
// inside a profile.
type SignalSpec struct {
	Name     string   `json:"name" yaml:"name"`
	Weight   float64  `json:"weight" yaml:"weight"`
	Transfer Transfer `json:"transfer" yaml:"transfer"`
}

// Profile is a named, versioned, immutable weight configuration. A new
// version is a new record; published profiles are never mutated, so a
// stored Score keeps its historical meaning.
type Profile struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Version     int          `json:"version" yaml:"version"`
	Ceiling     float64      `json:"ceiling" yaml:"ceiling"`
	Signals     []SignalSpec `json:"signals" yaml:"signals"`
	PublishedAt time.Time    `json:"published_at" yaml:"published_at"`
}

// Validate enforces the publish-time invariants: at least one signal,
// no negative weight, total weight above zero, a positive ceiling, and
// well-formed transfers. Weight sums are otherwise unconstrained; the
// engine caps the composite instead of renormalizing.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.Ceiling <= 0 {
		return fmt.Errorf("profile %s: ceiling must be positive, got %v", p.Name, p.Ceiling)
	}
	if len(p.Signals) == 0 {
		return fmt.Errorf("profile %s: no signals", p.Name)
	}

	seen := make(map[string]struct{}, len(p.Signals))
	total := 0.0
	for _, spec := range p.Signals {
		if spec.Name == "" {
			return fmt.Errorf("profile %s: signal with empty name", p.Name)
		}
		if _, dup := seen[spec.Name]; dup {
			return fmt.Errorf("profile %s: duplicate signal %q", p.Name, spec.Name)
		}
		seen[spec.Name] = struct{}{}

		if spec.Weight < 0 {
			return fmt.Errorf("profile %s: negative weight %v for signal %q", p.Name, spec.Weight, spec.Name)
		}
		total += spec.Weight

		if err := spec.Transfer.Validate(); err != nil {
			return fmt.Errorf("profile %s: signal %q: %w", p.Name, spec.Name, err)
		}
	}

	if total <= 0 {
		return fmt.Errorf("profile %s: total weight is zero", p.Name)
	}

	return nil
}
