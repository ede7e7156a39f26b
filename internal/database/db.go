package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool     *ConnectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool creates a new database connection pool
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"max_lifetime_seconds": cp.maxLifetime.Seconds(),
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		"max_idle_closed":      stats.MaxIdleClosed,
		"max_lifetime_closed":  stats.MaxLifetimeClosed,
	}
}

// NewDB creates a new database connection with optimized pooling
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "signalrank.db")

	connStr := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pool := NewConnectionPool(db, 25, 5, 5*time.Minute)

	database := &DB{
		DB:       db,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := database.initPreparedStatements(); err != nil {
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized with connection pooling",
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns,
		"max_lifetime", pool.maxLifetime)

	return database, nil
}

// migrate creates the necessary tables
func (db *DB) migrate() error {
	queries := []string{
		// Latest raw value per (entity, signal)
		`CREATE TABLE IF NOT EXISTS entity_signals (
			entity_id TEXT NOT NULL,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (entity_id, name)
		)`,

		// Monotonic per-entity generation, bumped on every signal write
		`CREATE TABLE IF NOT EXISTS entity_generations (
			entity_id TEXT PRIMARY KEY,
			generation INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,

		// Immutable published scoring profiles, spec stored as JSON
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			spec TEXT NOT NULL,
			published_at DATETIME NOT NULL,
			UNIQUE(name, version)
		)`,

		// Append-only score history
		`CREATE TABLE IF NOT EXISTS scores (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			profile_id TEXT NOT NULL,
			value REAL NOT NULL,
			generation INTEGER NOT NULL,
			partial BOOLEAN NOT NULL DEFAULT FALSE,
			warnings TEXT,
			contributions TEXT,
			computed_at DATETIME NOT NULL
		)`,

		// Indexes for performance
		`CREATE INDEX IF NOT EXISTS idx_entity_signals_entity ON entity_signals(entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_name ON profiles(name, version DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_entity_profile ON scores(entity_id, profile_id, computed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_computed_at ON scores(computed_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// initPreparedStatements initializes frequently used prepared statements
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		"upsert_signal": `INSERT INTO entity_signals (entity_id, name, value, updated_at)
			VALUES (?, ?, ?, ?) ON CONFLICT(entity_id, name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,

		"get_signal": `SELECT value FROM entity_signals WHERE entity_id = ? AND name = ?`,

		"get_signals": `SELECT name, value, updated_at FROM entity_signals
			WHERE entity_id = ? ORDER BY name ASC`,

		"bump_generation": `INSERT INTO entity_generations (entity_id, generation, updated_at)
			VALUES (?, 1, ?) ON CONFLICT(entity_id) DO UPDATE SET
			generation = generation + 1,
			updated_at = excluded.updated_at`,

		"get_generation": `SELECT generation FROM entity_generations WHERE entity_id = ?`,

		"insert_score": `INSERT INTO scores (
			id, entity_id, profile_id, value, generation, partial,
			warnings, contributions, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		"get_score_history": `SELECT id, entity_id, profile_id, value, generation, partial,
			warnings, contributions, computed_at
			FROM scores WHERE entity_id = ? AND profile_id = ?
			ORDER BY computed_at DESC LIMIT ?`,

		"insert_profile": `INSERT INTO profiles (id, name, version, spec, published_at)
			VALUES (?, ?, ?, ?, ?)`,

		"get_profile": `SELECT id, name, version, spec, published_at
			FROM profiles WHERE id = ?`,

		"get_latest_profile": `SELECT id, name, version, spec, published_at
			FROM profiles WHERE name = ? ORDER BY version DESC LIMIT 1`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}

	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// Close closes the database connection and prepared statements
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}

	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
