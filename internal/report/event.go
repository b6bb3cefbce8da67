package report

import (
	"math"

	"github.com/openmobilityfoundation/mds-audit-service/internal/geo"
)

// Event domains: which side of the audit recorded the event.
const (
	DomainAudit    = "audit"
	DomainProvider = "provider"
)

// Event classes assigned by the normalizer.
const (
	TypeAudit     = "audit"
	TypeVehicle   = "vehicle"
	TypeTelemetry = "telemetry"
)

// Well-known event types.
const (
	EventTripStart = "trip_start"
	EventTripEnd   = "trip_end"
	EventTripEnter = "trip_enter"
	EventTripLeave = "trip_leave"
	EventTelemetry = "telemetry"
)

// GPS is a single location fix.
type GPS struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Altitude float64 `json:"altitude,omitempty"`
	Heading  float64 `json:"heading,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// Telemetry is a timestamped GPS sample as defined by MDS.
type Telemetry struct {
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	GPS       *GPS   `json:"gps,omitempty"`
}

// Params carries the payload an event was submitted with. Only present on
// locally logged events that went through the submission queue.
type Params struct {
	AuditTripID  string     `json:"audit_trip_id,omitempty"`
	AuditEventID string     `json:"audit_event_id,omitempty"`
	Telemetry    *Telemetry `json:"telemetry,omitempty"`
	Note         string     `json:"note,omitempty"`
}

// Event is a discrete occurrence on either side of the audit. Timestamps are
// milliseconds since epoch; zero means "not recorded". The normalizer fills
// Domain, Type and EventType; the report builder fills Top.
type Event struct {
	Domain         string `json:"domain,omitempty"`
	Type           string `json:"type,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	AuditEventType string `json:"audit_event_type,omitempty"`

	Timestamp          int64 `json:"timestamp"`
	Recorded           int64 `json:"recorded,omitempty"`
	TelemetryTimestamp int64 `json:"telemetry_timestamp,omitempty"`

	// Coordinates arrive in several shapes depending on the source; see
	// Coords for the extraction order.
	Lat    float64 `json:"lat,omitempty"`
	Lng    float64 `json:"lng,omitempty"`
	GPS    *GPS    `json:"gps,omitempty"`
	Params *Params `json:"params,omitempty"`

	Note string `json:"note,omitempty"`

	// Top is the event's percentage position in the trip window, assigned
	// by the report builder for timeline rendering. NaN when the window is
	// unknown or the event has no timestamp.
	Top Metric `json:"top"`
}

// Coords extracts the event's location as a geo.Point, checking the possible
// shapes in a fixed precedence order: direct lat/lng fields, then the gps
// object, then telemetry attached to the submission params. Returns nil when
// the event carries no usable coordinates.
func Coords(event *Event) *geo.Point {
	if event == nil {
		return nil
	}
	if event.Lat != 0 && event.Lng != 0 {
		return &geo.Point{Lat: event.Lat, Lng: event.Lng}
	}
	if event.GPS != nil {
		return &geo.Point{Lat: event.GPS.Lat, Lng: event.GPS.Lng}
	}
	if event.Params != nil && event.Params.Telemetry != nil && event.Params.Telemetry.GPS != nil {
		gps := event.Params.Telemetry.GPS
		return &geo.Point{Lat: gps.Lat, Lng: gps.Lng}
	}
	return nil
}

// ValidTimestamp reports whether ts holds a usable point in time.
func ValidTimestamp(ts int64) bool {
	return ts > 0
}

// TimeDelta returns the absolute difference between two timestamps in whole
// seconds. Returns NaN if either timestamp is unset.
func TimeDelta(ts1, ts2 int64) float64 {
	if !ValidTimestamp(ts1) || !ValidTimestamp(ts2) {
		return math.NaN()
	}
	delta := ts1 - ts2
	if delta < 0 {
		delta = -delta
	}
	return math.Floor(float64(delta) / 1000)
}

// EventDistance returns the distance in meters between two events. Returns
// NaN if there is no ruler or either event has no coordinates.
func EventDistance(ruler *geo.Ruler, event1, event2 *Event) float64 {
	if ruler == nil {
		return math.NaN()
	}
	coords1 := Coords(event1)
	coords2 := Coords(event2)
	if coords1 == nil || coords2 == nil {
		return math.NaN()
	}
	return ruler.Distance(coords1, coords2)
}

// TripDistance returns the total path length in meters through the events
// that carry coordinates, restricted to timestamps within [start, end] when
// both bounds are set. Returns NaN if no ruler or no usable events remain.
func TripDistance(ruler *geo.Ruler, events []*Event, start, end int64) float64 {
	if ruler == nil || events == nil {
		return math.NaN()
	}

	points := make([]*geo.Point, 0, len(events))
	for _, event := range events {
		coords := Coords(event)
		if coords == nil {
			continue
		}
		if ValidTimestamp(start) && ValidTimestamp(end) {
			if event.Timestamp < start || event.Timestamp > end {
				continue
			}
		}
		points = append(points, coords)
	}

	if len(points) == 0 {
		return math.NaN()
	}
	return ruler.LineDistance(points)
}
