// Package dispatch builds the per-event-type send functions the submission
// queue is constructed with. Each handler POSTs the event's params to the
// MDS audit server endpoint for that event type.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openmobilityfoundation/mds-audit-service/internal/config"
	"github.com/openmobilityfoundation/mds-audit-service/internal/queue"
)

// Event types with dedicated endpoints on the audit server.
const (
	TypeAuditStart = "audit_start"
	TypeAuditEnd   = "audit_end"
	TypeAuditIssue = "audit_issue"
	TypeTripStart  = "trip_start"
	TypeTripEnd    = "trip_end"
	TypeTelemetry  = "telemetry"
)

// Client posts queued events to the MDS audit server.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewClient creates an audit server client.
func NewClient(cfg config.AuditConfig, logger *zap.Logger) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// Handlers returns the event-type dispatch registry for the queue.
func (c *Client) Handlers() map[string]queue.Handler {
	return map[string]queue.Handler{
		TypeAuditStart: c.send,
		TypeAuditEnd:   c.send,
		TypeAuditIssue: c.send,
		TypeTripStart:  c.send,
		TypeTripEnd:    c.send,
		TypeTelemetry:  c.send,
	}
}

// eventURL returns the audit server URL for an event type.
func (c *Client) eventURL(event *queue.Event) (string, error) {
	tripID := event.Params.AuditTripID
	switch event.Type {
	case TypeAuditStart:
		return fmt.Sprintf("%s/trips/%s/start", c.endpoint, tripID), nil
	case TypeAuditEnd:
		return fmt.Sprintf("%s/trips/%s/end", c.endpoint, tripID), nil
	case TypeAuditIssue:
		return fmt.Sprintf("%s/trips/%s/event", c.endpoint, tripID), nil
	case TypeTripStart, TypeTripEnd:
		return fmt.Sprintf("%s/trips/%s/vehicle/event", c.endpoint, tripID), nil
	case TypeTelemetry:
		return fmt.Sprintf("%s/trips/%s/vehicle/telemetry", c.endpoint, tripID), nil
	default:
		return "", fmt.Errorf("no event url for event type %q", event.Type)
	}
}

// send POSTs the event params. A non-2xx response becomes a
// *queue.ServerError so the queue treats it as terminal; transport failures
// pass through untyped and send the queue offline.
func (c *Client) send(ctx context.Context, event *queue.Event, accessToken string) (json.RawMessage, error) {
	url, err := c.eventURL(event)
	if err != nil {
		return nil, &queue.ServerError{Status: http.StatusBadRequest, Body: err.Error()}
	}

	body, err := json.Marshal(event.Params)
	if err != nil {
		return nil, &queue.ServerError{Status: http.StatusBadRequest, Body: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		// Network failure, not a rejection.
		return nil, fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &queue.ServerError{Status: resp.StatusCode, Body: string(data)}
	}

	c.logger.Debug("event delivered",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.Duration("took", time.Since(start)))

	if len(data) == 0 || !json.Valid(data) {
		// Some endpoints answer with plain text; wrap it so the stored
		// result is always valid JSON.
		wrapped, _ := json.Marshal(string(data))
		return wrapped, nil
	}
	return data, nil
}
