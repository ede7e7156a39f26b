package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticCollector(t *testing.T) {
	collector := NewStaticCollector()
	ctx := context.Background()

	t.Run("unknown entity has no facts", func(t *testing.T) {
		value, ok, err := collector.FetchSignal(ctx, "ghost", "interactions")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0.0, value)
	})

	t.Run("set then fetch", func(t *testing.T) {
		collector.Set("lead-1", "interactions", 12)
		value, ok, err := collector.FetchSignal(ctx, "lead-1", "interactions")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 12.0, value)
	})

	t.Run("set overwrites", func(t *testing.T) {
		collector.Set("lead-1", "interactions", 3)
		value, ok, err := collector.FetchSignal(ctx, "lead-1", "interactions")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3.0, value)
	})

	t.Run("delete removes the fact", func(t *testing.T) {
		collector.Set("lead-2", "opportunities", 2)
		collector.Delete("lead-2", "opportunities")
		_, ok, err := collector.FetchSignal(ctx, "lead-2", "opportunities")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("cancelled context surfaces the error", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := collector.FetchSignal(cancelled, "lead-1", "interactions")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// slowCollector blocks for a fixed delay before answering.
type slowCollector struct {
	delay time.Duration
	value float64
}

func (s *slowCollector) FetchSignal(ctx context.Context, entityID, name string) (float64, bool, error) {
	select {
	case <-time.After(s.delay):
		return s.value, true, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

// flakyCollector fails a fixed number of times before succeeding.
type flakyCollector struct {
	failures int
	calls    int
	value    float64
}

func (f *flakyCollector) FetchSignal(ctx context.Context, entityID, name string) (float64, bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, false, errors.New("upstream unavailable")
	}
	return f.value, true, nil
}

func TestTimeoutCollector(t *testing.T) {
	ctx := context.Background()

	t.Run("fast inner fetch passes through", func(t *testing.T) {
		inner := &slowCollector{delay: time.Millisecond, value: 7}
		tc := NewTimeoutCollector(inner, TimeoutConfig{PerSignal: 200 * time.Millisecond})

		value, ok, err := tc.FetchSignal(ctx, "lead-1", "interactions")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 7.0, value)
	})

	t.Run("slow inner fetch times out", func(t *testing.T) {
		inner := &slowCollector{delay: time.Second, value: 7}
		tc := NewTimeoutCollector(inner, TimeoutConfig{PerSignal: 10 * time.Millisecond})

		_, _, err := tc.FetchSignal(ctx, "lead-1", "interactions")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("retry recovers from one failure", func(t *testing.T) {
		inner := &flakyCollector{failures: 1, value: 4}
		tc := NewTimeoutCollector(inner, TimeoutConfig{
			PerSignal:  100 * time.Millisecond,
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
		})

		value, ok, err := tc.FetchSignal(ctx, "lead-1", "interactions")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 4.0, value)
		assert.Equal(t, 2, inner.calls)
	})

	t.Run("retries exhausted returns last error", func(t *testing.T) {
		inner := &flakyCollector{failures: 10}
		tc := NewTimeoutCollector(inner, TimeoutConfig{
			PerSignal:  100 * time.Millisecond,
			MaxRetries: 2,
			RetryDelay: time.Millisecond,
		})

		_, _, err := tc.FetchSignal(ctx, "lead-1", "interactions")
		require.Error(t, err)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("caller deadline stops retry loop", func(t *testing.T) {
		inner := &flakyCollector{failures: 10}
		tc := NewTimeoutCollector(inner, TimeoutConfig{
			PerSignal:  100 * time.Millisecond,
			MaxRetries: 5,
			RetryDelay: 50 * time.Millisecond,
		})

		deadlineCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, _, err := tc.FetchSignal(deadlineCtx, "lead-1", "interactions")
		require.Error(t, err)
		assert.Less(t, inner.calls, 6)
	})
}

type mapSource map[string]float64

func (m mapSource) GetSignal(ctx context.Context, entityID, name string) (float64, bool, error) {
	v, ok := m[entityID+"/"+name]
	return v, ok, nil
}

func TestStoreCollector(t *testing.T) {
	source := mapSource{"lead-1/interactions": 9}
	collector := NewStoreCollector(source)

	value, ok, err := collector.FetchSignal(context.Background(), "lead-1", "interactions")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 9.0, value)

	_, ok, err = collector.FetchSignal(context.Background(), "lead-1", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
