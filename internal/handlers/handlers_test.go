package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmobilityfoundation/mds-audit-service/internal/config"
	"github.com/openmobilityfoundation/mds-audit-service/internal/providers"
	"github.com/openmobilityfoundation/mds-audit-service/internal/queue"
	"github.com/openmobilityfoundation/mds-audit-service/internal/report"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func okHandler(ctx context.Context, event *queue.Event, token string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *queue.Queue) {
	t.Helper()

	q := queue.New(queue.Options{
		Config: config.QueueConfig{
			OfflineCheckInterval: 20 * time.Millisecond,
			DispatchTimeout:      time.Second,
			TelemetryTimeout:     time.Second,
		},
		Handlers: map[string]queue.Handler{"audit_start": okHandler},
	})
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { q.Stop(context.Background()) })

	registry := providers.NewRegistry([]providers.Provider{
		{ID: "2411d395-04f2-47c9-ab66-d09e9e3c3251", Name: "JUMP"},
	})

	h := New(zap.NewNop(), report.NewBuilder(config.Thresholds{}, zap.NewNop()), nil, q, registry, nil)
	return h.Router(), q
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestEnqueueEvent(t *testing.T) {
	t.Run("accepts a valid event", func(t *testing.T) {
		router, _ := newTestRouter(t)

		body := bytes.NewBufferString(`{
			"type": "audit_start",
			"params": {"audit_trip_id": "trip-1"}
		}`)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/events", body))

		require.Equal(t, http.StatusAccepted, w.Code)

		var resp struct {
			EventID string `json:"event_id"`
			Status  string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.EventID)
		assert.Equal(t, "ready", resp.Status)
	})

	t.Run("rejects a missing type", func(t *testing.T) {
		router, _ := newTestRouter(t)

		body := bytes.NewBufferString(`{"params": {}}`)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/events", body))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListEvents(t *testing.T) {
	router, q := newTestRouter(t)

	_, err := q.Enqueue(context.Background(), queue.Event{Type: "audit_start"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count   int  `json:"count"`
		Offline bool `json:"offline"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.False(t, resp.Offline)
}

func TestListProviders(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "JUMP")
}

func TestBuildReportValidation(t *testing.T) {
	t.Run("rejects invalid JSON", func(t *testing.T) {
		router, _ := newTestRouter(t)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/reports",
			bytes.NewBufferString("not json")))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a missing audit_trip_id", func(t *testing.T) {
		router, _ := newTestRouter(t)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/reports",
			bytes.NewBufferString(`{"events": []}`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
