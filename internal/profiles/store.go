package profiles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/pallabcodes/signalrank/internal/errors"
	"github.com/pallabcodes/signalrank/internal/scoring"
)

// Repo is the persistence surface the store needs. Satisfied by
// database.Repository.
type Repo interface {
	SaveProfile(ctx context.Context, profile *scoring.Profile) error
	GetProfile(ctx context.Context, id string) (*scoring.Profile, bool, error)
	GetLatestProfile(ctx context.Context, name string) (*scoring.Profile, bool, error)
	NextVersion(ctx context.Context, name string) (int, error)
	ListProfiles(ctx context.Context) ([]*scoring.Profile, error)
}

// Store manages published scoring profiles. Profiles are validated at
// publish time and immutable afterwards; a change to a profile is a new
// version under the same name.
type Store struct {
	repo Repo

	mu    sync.RWMutex
	byID  map[string]*scoring.Profile
	clock func() time.Time
}

// NewStore creates a profile store over the given repository.
func NewStore(repo Repo) *Store {
	return &Store{
		repo:  repo,
		byID:  make(map[string]*scoring.Profile),
		clock: time.Now,
	}
}

// Publish validates and persists a new profile version. The input's ID,
// Version, and PublishedAt are assigned here, any caller-supplied values
// are ignored. Returns the stored profile.
func (s *Store) Publish(ctx context.Context, profile scoring.Profile) (*scoring.Profile, error) {
	if err := profile.Validate(); err != nil {
		return nil, apperrors.NewInvalidProfileError(err)
	}

	version, err := s.repo.NextVersion(ctx, profile.Name)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to assign profile version", err)
	}

	profile.ID = uuid.New().String()
	profile.Version = version
	profile.PublishedAt = s.clock().UTC()

	if err := s.repo.SaveProfile(ctx, &profile); err != nil {
		return nil, apperrors.NewInternalError("failed to persist profile", err)
	}

	s.mu.Lock()
	s.byID[profile.ID] = &profile
	s.mu.Unlock()

	return &profile, nil
}

// Get returns a published profile by id.
func (s *Store) Get(ctx context.Context, id string) (*scoring.Profile, error) {
	s.mu.RLock()
	cached, ok := s.byID[id]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	profile, found, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load profile", err)
	}
	if !found {
		return nil, apperrors.NewUnknownProfileError(id)
	}

	s.mu.Lock()
	s.byID[profile.ID] = profile
	s.mu.Unlock()

	return profile, nil
}

// Latest returns the most recently published version for a profile name.
func (s *Store) Latest(ctx context.Context, name string) (*scoring.Profile, error) {
	profile, found, err := s.repo.GetLatestProfile(ctx, name)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load profile", err)
	}
	if !found {
		return nil, apperrors.NewUnknownProfileError(name)
	}
	return profile, nil
}

// List returns all published profiles.
func (s *Store) List(ctx context.Context) ([]*scoring.Profile, error) {
	profiles, err := s.repo.ListProfiles(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list profiles", err)
	}
	return profiles, nil
}

// Resolve looks up a profile by id first, then falls back to treating
// the reference as a name and returning its latest version.
func (s *Store) Resolve(ctx context.Context, ref string) (*scoring.Profile, error) {
	if ref == "" {
		return nil, apperrors.NewValidationError("profile reference is required")
	}

	profile, err := s.Get(ctx, ref)
	if err == nil {
		return profile, nil
	}

	latest, latestErr := s.Latest(ctx, ref)
	if latestErr != nil {
		return nil, fmt.Errorf("profile %q not found by id or name: %w", ref, err)
	}
	return latest, nil
}
