// Package handlers exposes the audit service over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openmobilityfoundation/mds-audit-service/internal/metrics"
	"github.com/openmobilityfoundation/mds-audit-service/internal/providers"
	"github.com/openmobilityfoundation/mds-audit-service/internal/queue"
	"github.com/openmobilityfoundation/mds-audit-service/internal/report"
	"github.com/openmobilityfoundation/mds-audit-service/internal/storage"
)

// Handlers bundles the HTTP endpoint implementations.
type Handlers struct {
	logger    *zap.Logger
	builder   *report.Builder
	reports   *storage.ReportStore
	queue     *queue.Queue
	providers *providers.Registry
	metrics   *metrics.Collector
}

// New creates the handler set.
func New(
	logger *zap.Logger,
	builder *report.Builder,
	reports *storage.ReportStore,
	q *queue.Queue,
	registry *providers.Registry,
	collector *metrics.Collector,
) *Handlers {
	return &Handlers{
		logger:    logger,
		builder:   builder,
		reports:   reports,
		queue:     q,
		providers: registry,
		metrics:   collector,
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handlers) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(h.observe())

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/reports", h.BuildReport)
		v1.GET("/reports", h.ListReports)
		v1.GET("/reports/:audit_trip_id", h.GetReport)
		v1.DELETE("/reports/:audit_trip_id", h.DeleteReport)

		v1.POST("/events", h.EnqueueEvent)
		v1.GET("/events", h.ListEvents)
		v1.GET("/events/stream", h.StreamEvents)

		v1.GET("/providers", h.ListProviders)
	}

	return router
}

// observe records request metrics.
func (h *Handlers) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if h.metrics == nil {
			return
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		h.metrics.RequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		h.metrics.RequestDuration.WithLabelValues(
			c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Health reports service liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"offline": h.queue != nil && h.queue.Offline(),
	})
}

// BuildReport accepts a raw audit trip payload, reconciles it, persists the
// result and returns the built report.
func (h *Handlers) BuildReport(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var raw report.RawReport
	if err := json.Unmarshal(payload, &raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report payload: " + err.Error()})
		return
	}
	if raw.AuditTripID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audit_trip_id is required"})
		return
	}

	start := time.Now()
	built, err := h.builder.Build(&raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.metrics != nil {
		h.metrics.ReportsBuilt.Inc()
		h.metrics.ReportBuildDuration.Observe(time.Since(start).Seconds())
	}

	reportJSON, err := json.Marshal(built)
	if err != nil {
		h.logger.Error("failed to marshal built report",
			zap.String("audit_trip_id", raw.AuditTripID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode report"})
		return
	}

	record := &storage.ReportRecord{
		AuditTripID: raw.AuditTripID,
		ProviderID:  raw.ProviderID,
		Payload:     payload,
		Report:      reportJSON,
	}
	if err := h.reports.Save(c.Request.Context(), record); err != nil {
		h.logger.Error("failed to persist report",
			zap.String("audit_trip_id", raw.AuditTripID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist report"})
		return
	}

	h.logger.Info("audit report built",
		zap.String("audit_trip_id", raw.AuditTripID),
		zap.String("provider", h.providers.Name(raw.ProviderID)),
		zap.Int("deltas", len(built.Deltas)))

	c.Data(http.StatusCreated, "application/json", reportJSON)
}

// ListReports returns stored reports, newest first.
func (h *Handlers) ListReports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("take", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))

	records, err := h.reports.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
		return
	}

	summaries := make([]gin.H, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, gin.H{
			"audit_trip_id": record.AuditTripID,
			"provider_id":   record.ProviderID,
			"provider_name": h.providers.Name(record.ProviderID),
			"created_at":    record.CreatedAt,
			"updated_at":    record.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"reports": summaries, "count": len(summaries)})
}

// GetReport returns one stored report.
func (h *Handlers) GetReport(c *gin.Context) {
	record, err := h.reports.Get(c.Request.Context(), c.Param("audit_trip_id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get report"})
		return
	}
	c.Data(http.StatusOK, "application/json", record.Report)
}

// DeleteReport removes a stored report.
func (h *Handlers) DeleteReport(c *gin.Context) {
	err := h.reports.Delete(c.Request.Context(), c.Param("audit_trip_id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to delete report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete report"})
		return
	}
	c.Status(http.StatusNoContent)
}

// enqueueRequest is the body of POST /events.
type enqueueRequest struct {
	Type            string                `json:"type" binding:"required"`
	Params          report.Params         `json:"params"`
	TelemetryPolicy queue.TelemetryPolicy `json:"telemetry_policy"`
}

// EnqueueEvent adds a locally logged event to the submission queue.
func (h *Handlers) EnqueueEvent(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.queue.Enqueue(c.Request.Context(), queue.Event{
		Type:            req.Type,
		Params:          req.Params,
		TelemetryPolicy: req.TelemetryPolicy,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"event_id": event.ID,
		"status":   event.Status,
	})
}

// ListEvents returns the queue contents for status display.
func (h *Handlers) ListEvents(c *gin.Context) {
	events := h.queue.Events()
	c.JSON(http.StatusOK, gin.H{
		"events":  events,
		"count":   len(events),
		"offline": h.queue.Offline(),
	})
}

// ListProviders returns the known provider registry.
func (h *Handlers) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.providers.All()})
}
