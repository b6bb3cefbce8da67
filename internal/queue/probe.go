package queue

import (
	"context"
	"net/http"
	"time"
)

// HTTPProbe decides offline status by probing a health URL, normally the
// audit server's health endpoint. Any transport failure counts as offline;
// a response with any status code counts as online, since even an error
// response proves the network path works.
type HTTPProbe struct {
	url    string
	client *http.Client
}

// NewHTTPProbe creates a probe against the given URL.
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Offline reports whether the probe URL is unreachable.
func (p *HTTPProbe) Offline(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return true
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return true
	}
	resp.Body.Close()
	return false
}
