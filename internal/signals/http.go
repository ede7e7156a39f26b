package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPCollector fetches raw signals from an external signal service
// over HTTP. The service is expected to answer
// GET {base}/entities/{entity}/signals/{name} with {"value": <number>},
// and 404 when no fact exists.
type HTTPCollector struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPCollector creates a collector against the given base URL. An
// empty token disables the Authorization header.
func NewHTTPCollector(baseURL, token string) *HTTPCollector {
	return &HTTPCollector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

type signalPayload struct {
	Value float64 `json:"value"`
}

// FetchSignal implements Collector.
func (h *HTTPCollector) FetchSignal(ctx context.Context, entityID, name string) (float64, bool, error) {
	endpoint := fmt.Sprintf("%s/entities/%s/signals/%s",
		h.baseURL, url.PathEscape(entityID), url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to build signal request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("signal service request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// No fact recorded, neutral rather than an error.
		return 0, false, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, false, fmt.Errorf("signal service error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var payload signalPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, false, fmt.Errorf("failed to decode signal payload: %w", err)
	}

	return payload.Value, true, nil
}

// Close releases idle connections.
func (h *HTTPCollector) Close() {
	h.client.CloseIdleConnections()
}
