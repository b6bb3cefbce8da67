// Package telemetry acquires location fixes for queued events.
//
// Location backends do not guarantee that concurrent requests complete in
// call order, which breaks the submission queue's FIFO requirement: an event
// logged second could receive its fix first and historically ended up queued
// first. The Service therefore serializes acquisition through a single
// pending request: callers arriving within the cache window all wait on the
// same in-flight fix and observe it in the order they asked.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openmobilityfoundation/mds-audit-service/internal/report"
)

// Location is a raw fix from a Source. Optional fields are zero when the
// backend did not report them.
type Location struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Altitude  float64 `json:"altitude,omitempty"`
	Heading   float64 `json:"heading,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// Source produces location fixes. Implementations may be slow and may fail.
type Source interface {
	Location(ctx context.Context) (*Location, error)
}

// Service wraps a Source with the single-pending-request cache.
type Service struct {
	source   Source
	deviceID string
	cacheFor time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	lastCall time.Time
	pending  *pendingFix
}

type pendingFix struct {
	done      chan struct{}
	telemetry *report.Telemetry
	err       error
}

// NewService creates a telemetry service. source may be nil when the host
// has no location backend; every acquisition then fails, which the queue
// handles per event policy.
func NewService(source Source, deviceID string, cacheFor time.Duration, logger *zap.Logger) *Service {
	return &Service{
		source:   source,
		deviceID: deviceID,
		cacheFor: cacheFor,
		logger:   logger,
	}
}

// Telemetry returns the current location as an MDS telemetry object. Calls
// arriving within the cache window share the in-flight request and therefore
// resolve in call order.
func (s *Service) Telemetry(ctx context.Context) (*report.Telemetry, error) {
	if s.source == nil {
		return nil, fmt.Errorf("no location source configured")
	}

	s.mu.Lock()
	fix := s.pending
	if fix == nil || time.Since(s.lastCall) >= s.cacheFor {
		fix = &pendingFix{done: make(chan struct{})}
		s.pending = fix
		s.lastCall = time.Now()
		go s.acquire(fix)
	}
	s.mu.Unlock()

	select {
	case <-fix.done:
		return fix.telemetry, fix.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) acquire(fix *pendingFix) {
	// Deliberately not tied to any caller's context: later callers within
	// the cache window still need the result after the first caller gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	location, err := s.source.Location(ctx)
	if err != nil {
		s.logger.Warn("location acquisition failed", zap.Error(err))
		fix.err = fmt.Errorf("acquire location: %w", err)
	} else {
		fix.telemetry = s.toTelemetry(location)
	}
	close(fix.done)
}

// toTelemetry converts a raw fix to the MDS telemetry shape, carrying
// optional fields only when the backend reported them.
func (s *Service) toTelemetry(location *Location) *report.Telemetry {
	telemetry := &report.Telemetry{
		DeviceID:  s.deviceID,
		Timestamp: location.Timestamp,
		GPS: &report.GPS{
			Lat: location.Lat,
			Lng: location.Lng,
		},
	}
	if location.Altitude != 0 {
		telemetry.GPS.Altitude = location.Altitude
	}
	if location.Heading != 0 {
		telemetry.GPS.Heading = location.Heading
	}
	if location.Speed != 0 {
		telemetry.GPS.Speed = location.Speed
	}
	if location.Accuracy != 0 {
		telemetry.GPS.Accuracy = location.Accuracy
	}
	return telemetry
}
