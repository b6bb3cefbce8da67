package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSource fetches location fixes from a device gateway over HTTP. The
// endpoint is expected to return a Location as JSON.
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSource creates an HTTP-backed location source.
func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Location fetches the current fix.
func (s *HTTPSource) Location(ctx context.Context) (*Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build location request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("location endpoint returned %d", resp.StatusCode)
	}

	var location Location
	if err := json.NewDecoder(resp.Body).Decode(&location); err != nil {
		return nil, fmt.Errorf("decode location: %w", err)
	}
	if location.Timestamp == 0 {
		location.Timestamp = time.Now().UnixMilli()
	}
	return &location, nil
}
