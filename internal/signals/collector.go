package signals

import (
	"context"
	"sync"
)

// Collector is the read-only provider of raw per-entity facts. ok=false
// means the entity has no such fact, which is neutral, not an error; err
// is reserved for genuine I/O failure.
type Collector interface {
	FetchSignal(ctx context.Context, entityID, name string) (value float64, ok bool, err error)
}

// StaticCollector serves signals from an in-memory table. Used for tests
// and for embedding the engine without external storage.
type StaticCollector struct {
	mu      sync.RWMutex
	entries map[string]map[string]float64
}

// NewStaticCollector creates an empty in-memory collector.
func NewStaticCollector() *StaticCollector {
	return &StaticCollector{entries: make(map[string]map[string]float64)}
}

// Set records a signal value for an entity, replacing any previous value.
func (s *StaticCollector) Set(entityID, name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	facts, exists := s.entries[entityID]
	if !exists {
		facts = make(map[string]float64)
		s.entries[entityID] = facts
	}
	facts[name] = value
}

// Delete removes a signal from an entity.
func (s *StaticCollector) Delete(entityID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if facts, exists := s.entries[entityID]; exists {
		delete(facts, name)
	}
}

// ChainCollector consults collectors in order and returns the first
// recorded fact. A collector error stops the chain; absence moves on to
// the next source.
type ChainCollector struct {
	sources []Collector
}

// NewChainCollector creates a collector over an ordered source list.
func NewChainCollector(sources ...Collector) *ChainCollector {
	return &ChainCollector{sources: sources}
}

// FetchSignal implements Collector.
func (c *ChainCollector) FetchSignal(ctx context.Context, entityID, name string) (float64, bool, error) {
	for _, source := range c.sources {
		value, ok, err := source.FetchSignal(ctx, entityID, name)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return value, true, nil
		}
	}
	return 0, false, nil
}

// FetchSignal implements Collector.
func (s *StaticCollector) FetchSignal(ctx context.Context, entityID, name string) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	facts, exists := s.entries[entityID]
	if !exists {
		return 0, false, nil
	}
	value, exists := facts[name]
	return value, exists, nil
}
