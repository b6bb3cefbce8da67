package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmobilityfoundation/mds-audit-service/internal/config"
	"github.com/openmobilityfoundation/mds-audit-service/internal/queue"
	"github.com/openmobilityfoundation/mds-audit-service/internal/report"
)

func newTestClient(endpoint string) *Client {
	return NewClient(config.AuditConfig{
		Endpoint: endpoint,
		Timeout:  time.Second,
	}, zap.NewNop())
}

func TestEventURL(t *testing.T) {
	client := newTestClient("https://audit.example.com/api")
	event := func(eventType string) *queue.Event {
		return &queue.Event{
			Type:   eventType,
			Params: report.Params{AuditTripID: "trip-1"},
		}
	}

	cases := map[string]string{
		TypeAuditStart: "https://audit.example.com/api/trips/trip-1/start",
		TypeAuditEnd:   "https://audit.example.com/api/trips/trip-1/end",
		TypeAuditIssue: "https://audit.example.com/api/trips/trip-1/event",
		TypeTripStart:  "https://audit.example.com/api/trips/trip-1/vehicle/event",
		TypeTripEnd:    "https://audit.example.com/api/trips/trip-1/vehicle/event",
		TypeTelemetry:  "https://audit.example.com/api/trips/trip-1/vehicle/telemetry",
	}
	for eventType, want := range cases {
		url, err := client.eventURL(event(eventType))
		require.NoError(t, err, eventType)
		assert.Equal(t, want, url)
	}

	_, err := client.eventURL(event("mystery"))
	assert.Error(t, err)
}

func TestHandlersCoverAllEventTypes(t *testing.T) {
	handlers := newTestClient("").Handlers()
	for _, eventType := range []string{
		TypeAuditStart, TypeAuditEnd, TypeAuditIssue,
		TypeTripStart, TypeTripEnd, TypeTelemetry,
	} {
		assert.Contains(t, handlers, eventType)
	}
}

func TestSend(t *testing.T) {
	t.Run("posts params with the bearer token", func(t *testing.T) {
		var gotAuth string
		var gotBody report.Params
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"recorded":true}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		result, err := client.send(context.Background(), &queue.Event{
			Type:   TypeAuditStart,
			Params: report.Params{AuditTripID: "trip-1", Note: "starting"},
		}, "token-123")

		require.NoError(t, err)
		assert.Equal(t, "Bearer token-123", gotAuth)
		assert.Equal(t, "trip-1", gotBody.AuditTripID)
		assert.JSONEq(t, `{"recorded":true}`, string(result))
	})

	t.Run("non-2xx becomes a server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "trip already ended", http.StatusConflict)
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		_, err := client.send(context.Background(), &queue.Event{
			Type:   TypeTripEnd,
			Params: report.Params{AuditTripID: "trip-1"},
		}, "")

		require.Error(t, err)
		assert.True(t, queue.IsServerError(err))
	})

	t.Run("unreachable server is not a server error", func(t *testing.T) {
		client := newTestClient("http://127.0.0.1:1")
		_, err := client.send(context.Background(), &queue.Event{
			Type:   TypeTripStart,
			Params: report.Params{AuditTripID: "trip-1"},
		}, "")

		require.Error(t, err)
		assert.False(t, queue.IsServerError(err))
	})

	t.Run("plain text responses are wrapped as JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		result, err := client.send(context.Background(), &queue.Event{
			Type:   TypeTelemetry,
			Params: report.Params{AuditTripID: "trip-1"},
		}, "")

		require.NoError(t, err)
		assert.True(t, json.Valid(result))
		assert.Equal(t, `"OK"`, string(result))
	})
}
