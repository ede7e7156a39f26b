package scorecache

import (
	"container/list"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/pallabcodes/signalrank/internal/errors"
	"github.com/pallabcodes/signalrank/internal/monitoring"
	"github.com/pallabcodes/signalrank/internal/scoring"
)

// ComputeFunc produces a fresh score when the cache cannot serve one.
type ComputeFunc func(ctx context.Context) (*scoring.Score, error)

// Config controls cache behavior.
type Config struct {
	Freshness       time.Duration // age under which an entry may be served
	CoalesceTimeout time.Duration // max wait on another caller's in-flight compute
	Capacity        int           // max entries before LRU eviction
	CleanupInterval time.Duration // sweep period for expired entries
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{
		Freshness:       60 * time.Second,
		CoalesceTimeout: 2 * time.Second,
		Capacity:        10000,
		CleanupInterval: 5 * time.Minute,
	}
}

type entry struct {
	key        string
	score      *scoring.Score
	computedAt time.Time
	generation int64
	element    *list.Element
}

// Cache memoizes computed scores per (entity, profile). Entries move
// through fresh, stale, and absent: a fresh entry is served as-is, a
// stale or absent one triggers a synchronous recompute, and concurrent
// recomputes for the same key collapse into one via singleflight.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front is most recently used

	group   singleflight.Group
	config  Config
	metrics *monitoring.Metrics
	clock   func() time.Time

	hits      int64
	misses    int64
	staleHits int64
	evictions int64

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a score cache. metrics may be nil.
func New(config Config, metrics *monitoring.Metrics) *Cache {
	defaults := DefaultConfig()
	if config.Freshness <= 0 {
		config.Freshness = defaults.Freshness
	}
	if config.CoalesceTimeout <= 0 {
		config.CoalesceTimeout = defaults.CoalesceTimeout
	}
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	c := &Cache{
		entries: make(map[string]*entry),
		lru:     list.New(),
		config:  config,
		metrics: metrics,
		clock:   time.Now,
		done:    make(chan struct{}),
	}

	go c.cleanup()

	return c
}

func key(entityID, profileID string) string {
	return entityID + "|" + profileID
}

// GetOrCompute returns the score for (entity, profile). A cached entry
// is served when it is younger than the freshness window and was
// computed at or after the given generation. Otherwise compute runs,
// coalesced with any concurrent callers for the same key; a caller that
// waits longer than the coalescing window gives up on the shared result
// and computes directly. The bool return reports whether the score came
// from cache.
func (c *Cache) GetOrCompute(ctx context.Context, entityID, profileID string, generation int64, compute ComputeFunc) (*scoring.Score, bool, error) {
	k := key(entityID, profileID)

	if score, ok := c.lookup(k, generation); ok {
		c.recordHit()
		return score, true, nil
	}
	c.recordMiss()

	ch := c.group.DoChan(k, func() (interface{}, error) {
		score, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(k, score, generation)
		return score, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			if c.metrics != nil {
				c.metrics.IncrementCoalescedWait()
			}
		}
		return res.Val.(*scoring.Score), false, nil

	case <-ctx.Done():
		return nil, false, ctx.Err()

	case <-time.After(c.config.CoalesceTimeout):
		// The shared computation is stuck past the coalescing window.
		// Detach from it and compute directly so this caller still
		// gets a score; the slow flight finishes on its own.
		c.group.Forget(k)
		timeoutErr := apperrors.NewCoalescingTimeoutError(k)
		slog.Warn("Coalesced compute timed out, falling back to direct compute",
			"entity_id", entityID,
			"profile_id", profileID,
			"error", timeoutErr)
		if c.metrics != nil {
			c.metrics.IncrementCoalesceFallback()
		}

		score, err := compute(ctx)
		if err != nil {
			return nil, false, err
		}
		c.store(k, score, generation)
		return score, false, nil
	}
}

// lookup returns a cached score when it is fresh and not superseded by
// a newer generation.
func (c *Cache) lookup(k string, generation int64) (*scoring.Score, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[k]
	if !exists {
		return nil, false
	}

	if e.generation < generation {
		// Signals changed since this entry was computed.
		c.removeLocked(e)
		return nil, false
	}

	if c.clock().Sub(e.computedAt) > c.config.Freshness {
		c.staleHits++
		return nil, false
	}

	c.lru.MoveToFront(e.element)
	return e.score, true
}

func (c *Cache) store(k string, score *scoring.Score, generation int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, exists := c.entries[k]; exists {
		existing.score = score
		existing.computedAt = c.clock()
		existing.generation = generation
		c.lru.MoveToFront(existing.element)
		return
	}

	e := &entry{
		key:        k,
		score:      score,
		computedAt: c.clock(),
		generation: generation,
	}
	e.element = c.lru.PushFront(e)
	c.entries[k] = e

	for len(c.entries) > c.config.Capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
		c.evictions++
	}
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.lru.Remove(e.element)
}

// Invalidate drops the entry for one (entity, profile) pair.
func (c *Cache) Invalidate(entityID, profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.entries[key(entityID, profileID)]; exists {
		c.removeLocked(e)
	}
}

// InvalidateEntity drops all entries for an entity across profiles.
func (c *Cache) InvalidateEntity(entityID string) {
	c.invalidatePrefix(entityID + "|")
}

// InvalidateProfile drops all entries computed under a profile.
func (c *Cache) InvalidateProfile(profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if strings.HasSuffix(e.key, "|"+profileID) {
			c.removeLocked(e)
		}
	}
}

func (c *Cache) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if strings.HasPrefix(e.key, prefix) {
			c.removeLocked(e)
		}
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.lru.Init()
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	fresh := 0
	for _, e := range c.entries {
		if now.Sub(e.computedAt) <= c.config.Freshness {
			fresh++
		}
	}

	total := c.hits + c.misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"total_entries":            len(c.entries),
		"fresh_entries":            fresh,
		"stale_entries":            len(c.entries) - fresh,
		"hits":                     c.hits,
		"misses":                   c.misses,
		"stale_hits":               c.staleHits,
		"evictions":                c.evictions,
		"hit_rate_percent":         hitRate,
		"capacity":                 c.config.Capacity,
		"freshness_seconds":        c.config.Freshness.Seconds(),
		"coalesce_timeout_seconds": c.config.CoalesceTimeout.Seconds(),
	}
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// cleanup sweeps stale entries periodically so an idle cache does not
// pin memory for entities nobody asks about anymore.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := c.clock()
			removed := 0
			for _, e := range c.entries {
				if now.Sub(e.computedAt) > c.config.Freshness {
					c.removeLocked(e)
					removed++
				}
			}
			c.mu.Unlock()
			if removed > 0 {
				slog.Debug("Score cache cleanup", "removed", removed)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.IncrementCacheHit()
	}
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.IncrementCacheMiss()
	}
}
