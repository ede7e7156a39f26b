package signals

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCollector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/entities/lead-1/signals/interactions":
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"value": 12}`))
		case "/entities/lead-1/signals/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/entities/lead-1/signals/broken":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("upstream failure"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	collector := NewHTTPCollector(srv.URL, "test-token")
	defer collector.Close()
	ctx := context.Background()

	t.Run("fetches a value", func(t *testing.T) {
		value, ok, err := collector.FetchSignal(ctx, "lead-1", "interactions")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 12.0, value)
	})

	t.Run("404 means no fact, not an error", func(t *testing.T) {
		_, ok, err := collector.FetchSignal(ctx, "lead-1", "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("server error surfaces", func(t *testing.T) {
		_, _, err := collector.FetchSignal(ctx, "lead-1", "broken")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	})

	t.Run("unreachable service surfaces", func(t *testing.T) {
		dead := NewHTTPCollector("http://127.0.0.1:1", "")
		_, _, err := dead.FetchSignal(ctx, "lead-1", "interactions")
		require.Error(t, err)
	})
}
