package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pallabcodes/signalrank/internal/scoring"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SignalValue is one stored raw signal for an entity.
type SignalValue struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertSignal writes a raw signal value and bumps the entity generation
// in the same transaction, so cached scores computed against the old
// facts become detectably stale.
func (r *Repository) UpsertSignal(ctx context.Context, entityID, name string, value float64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_signals (entity_id, name, value, updated_at)
		VALUES (?, ?, ?, ?) ON CONFLICT(entity_id, name) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`, entityID, name, value, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert signal: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_generations (entity_id, generation, updated_at)
		VALUES (?, 1, ?) ON CONFLICT(entity_id) DO UPDATE SET
		generation = generation + 1,
		updated_at = excluded.updated_at
	`, entityID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to bump generation: %w", err)
	}

	var generation int64
	err = tx.QueryRowContext(ctx, `
		SELECT generation FROM entity_generations WHERE entity_id = ?
	`, entityID).Scan(&generation)
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit signal upsert: %w", err)
	}

	return generation, nil
}

// GetSignal returns the stored raw value for one signal. The second
// return is false when no fact exists for the entity and signal name.
func (r *Repository) GetSignal(ctx context.Context, entityID, name string) (float64, bool, error) {
	stmt, err := r.db.GetPreparedStatement("get_signal")
	if err != nil {
		return 0, false, err
	}

	var value float64
	err = stmt.QueryRowContext(ctx, entityID, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query signal: %w", err)
	}

	return value, true, nil
}

// GetSignals returns all stored signals for an entity.
func (r *Repository) GetSignals(ctx context.Context, entityID string) ([]SignalValue, error) {
	stmt, err := r.db.GetPreparedStatement("get_signals")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []SignalValue
	for rows.Next() {
		var s SignalValue
		if err := rows.Scan(&s.Name, &s.Value, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, s)
	}

	return signals, rows.Err()
}

// GetGeneration returns the current generation for an entity. Entities
// with no recorded signals are at generation 0.
func (r *Repository) GetGeneration(ctx context.Context, entityID string) (int64, error) {
	stmt, err := r.db.GetPreparedStatement("get_generation")
	if err != nil {
		return 0, err
	}

	var generation int64
	err = stmt.QueryRowContext(ctx, entityID).Scan(&generation)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query generation: %w", err)
	}

	return generation, nil
}

// InsertScore appends a computed score to the history.
func (r *Repository) InsertScore(ctx context.Context, score *scoring.Score) error {
	if score.ID == "" {
		score.ID = uuid.New().String()
	}

	warnings, err := json.Marshal(score.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	contributions, err := json.Marshal(score.Contributions)
	if err != nil {
		return fmt.Errorf("failed to marshal contributions: %w", err)
	}

	stmt, err := r.db.GetPreparedStatement("insert_score")
	if err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx,
		score.ID, score.EntityID, score.ProfileID, score.Value,
		score.Generation, score.Partial,
		string(warnings), string(contributions), score.ComputedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert score: %w", err)
	}

	return nil
}

// ScoreHistory returns recent scores for an entity and profile, newest first.
func (r *Repository) ScoreHistory(ctx context.Context, entityID, profileID string, limit int) ([]scoring.Score, error) {
	if limit <= 0 {
		limit = 20
	}

	stmt, err := r.db.GetPreparedStatement("get_score_history")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, entityID, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	var scores []scoring.Score
	for rows.Next() {
		var (
			s             scoring.Score
			warnings      sql.NullString
			contributions sql.NullString
		)
		err := rows.Scan(&s.ID, &s.EntityID, &s.ProfileID, &s.Value,
			&s.Generation, &s.Partial, &warnings, &contributions, &s.ComputedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}

		if warnings.Valid && warnings.String != "" {
			if err := json.Unmarshal([]byte(warnings.String), &s.Warnings); err != nil {
				return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
			}
		}
		if contributions.Valid && contributions.String != "" {
			if err := json.Unmarshal([]byte(contributions.String), &s.Contributions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal contributions: %w", err)
			}
		}

		scores = append(scores, s)
	}

	return scores, rows.Err()
}

// PruneScores deletes score history older than the cutoff and returns
// the number of rows removed.
func (r *Repository) PruneScores(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM scores WHERE computed_at < ?
	`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune scores: %w", err)
	}

	return result.RowsAffected()
}

// SaveProfile persists a published profile. Profiles are immutable, the
// caller assigns id and version before calling.
func (r *Repository) SaveProfile(ctx context.Context, profile *scoring.Profile) error {
	spec, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile spec: %w", err)
	}

	stmt, err := r.db.GetPreparedStatement("insert_profile")
	if err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx,
		profile.ID, profile.Name, profile.Version,
		string(spec), profile.PublishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	return nil
}

// GetProfile returns a published profile by id. The second return is
// false when no profile with that id exists.
func (r *Repository) GetProfile(ctx context.Context, id string) (*scoring.Profile, bool, error) {
	stmt, err := r.db.GetPreparedStatement("get_profile")
	if err != nil {
		return nil, false, err
	}

	return scanProfile(stmt.QueryRowContext(ctx, id))
}

// GetLatestProfile returns the highest published version for a profile name.
func (r *Repository) GetLatestProfile(ctx context.Context, name string) (*scoring.Profile, bool, error) {
	stmt, err := r.db.GetPreparedStatement("get_latest_profile")
	if err != nil {
		return nil, false, err
	}

	return scanProfile(stmt.QueryRowContext(ctx, name))
}

// NextVersion returns the version to assign to the next publish of name.
func (r *Repository) NextVersion(ctx context.Context, name string) (int, error) {
	var version sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(version) FROM profiles WHERE name = ?
	`, name).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query max version: %w", err)
	}

	return int(version.Int64) + 1, nil
}

// ListProfiles returns all published profiles, newest first.
func (r *Repository) ListProfiles(ctx context.Context) ([]*scoring.Profile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, version, spec, published_at
		FROM profiles ORDER BY published_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*scoring.Profile
	for rows.Next() {
		profile, err := scanProfileRow(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

func scanProfile(row *sql.Row) (*scoring.Profile, bool, error) {
	var (
		id, name, spec string
		version        int
		publishedAt    time.Time
	)
	err := row.Scan(&id, &name, &version, &spec, &publishedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to scan profile: %w", err)
	}

	profile, err := decodeProfile(id, name, version, spec, publishedAt)
	if err != nil {
		return nil, false, err
	}
	return profile, true, nil
}

func scanProfileRow(rows *sql.Rows) (*scoring.Profile, error) {
	var (
		id, name, spec string
		version        int
		publishedAt    time.Time
	)
	if err := rows.Scan(&id, &name, &version, &spec, &publishedAt); err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	return decodeProfile(id, name, version, spec, publishedAt)
}

func decodeProfile(id, name string, version int, spec string, publishedAt time.Time) (*scoring.Profile, error) {
	var profile scoring.Profile
	if err := json.Unmarshal([]byte(spec), &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile spec: %w", err)
	}

	// Columns are authoritative over the JSON blob.
	profile.ID = id
	profile.Name = name
	profile.Version = version
	profile.PublishedAt = publishedAt

	return &profile, nil
}
