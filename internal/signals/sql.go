package signals

import (
	"context"
	"fmt"
)

// Source is the read side of a signal store. The bool return is false
// when no fact exists for the entity and signal name.
type Source interface {
	GetSignal(ctx context.Context, entityID, name string) (float64, bool, error)
}

// StoreCollector adapts a persistent signal store to the Collector
// interface used by the scoring engine.
type StoreCollector struct {
	source Source
}

// NewStoreCollector creates a collector backed by a signal store.
func NewStoreCollector(source Source) *StoreCollector {
	return &StoreCollector{source: source}
}

// FetchSignal reads the latest raw value from the store.
func (c *StoreCollector) FetchSignal(ctx context.Context, entityID, name string) (float64, bool, error) {
	value, ok, err := c.source.GetSignal(ctx, entityID, name)
	if err != nil {
		return 0, false, fmt.Errorf("signal store read %s/%s: %w", entityID, name, err)
	}
	return value, ok, nil
}
