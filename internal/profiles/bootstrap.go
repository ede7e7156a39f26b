package profiles

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pallabcodes/signalrank/internal/scoring"
)

type seedFile struct {
	Profiles []scoring.Profile `yaml:"profiles"`
}

// LoadSeedFile publishes the profiles declared in a YAML file. Names
// that already have a published version are skipped, so restarting the
// service does not mint new versions. Returns the number published.
func (s *Store) LoadSeedFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seeds seedFile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	published := 0
	for _, profile := range seeds.Profiles {
		_, found, err := s.repo.GetLatestProfile(ctx, profile.Name)
		if err != nil {
			return published, fmt.Errorf("failed to check existing profile %q: %w", profile.Name, err)
		}
		if found {
			slog.Debug("Seed profile already published, skipping", "name", profile.Name)
			continue
		}

		stored, err := s.Publish(ctx, profile)
		if err != nil {
			return published, fmt.Errorf("failed to publish seed profile %q: %w", profile.Name, err)
		}

		slog.Info("Seed profile published",
			"name", stored.Name,
			"profile_id", stored.ID,
			"version", stored.Version,
			"signals", len(stored.Signals))
		published++
	}

	return published, nil
}
