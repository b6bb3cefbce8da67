package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAudit(t *testing.T) {
	t.Run("routes events into buckets by audit_event_type", func(t *testing.T) {
		side := normalizeAudit([]Event{
			{AuditEventType: "start", Timestamp: 1000},
			{AuditEventType: "telemetry", Timestamp: 2000},
			{AuditEventType: "trip_start", Timestamp: 1500},
			{AuditEventType: "note", Timestamp: 3000, Note: "blocked lane"},
			{AuditEventType: "end", Timestamp: 5000},
		})

		require.Len(t, side.AuditEvents, 3)
		assert.Equal(t, "audit_start", side.AuditEvents[0].EventType)
		assert.Equal(t, "audit_note", side.AuditEvents[1].EventType)
		assert.Equal(t, "audit_end", side.AuditEvents[2].EventType)

		require.Len(t, side.VehicleEvents, 1)
		assert.Equal(t, EventTripStart, side.VehicleEvents[0].EventType)

		require.Len(t, side.TelemetryEvents, 1)
		assert.Equal(t, EventTelemetry, side.TelemetryEvents[0].EventType)

		for _, event := range side.AuditEvents {
			assert.Equal(t, DomainAudit, event.Domain)
			assert.Equal(t, TypeAudit, event.Type)
		}
	})

	t.Run("vehicle event with coordinates doubles as telemetry", func(t *testing.T) {
		side := normalizeAudit([]Event{
			{AuditEventType: "trip_start", Timestamp: 1000, Lat: 34.05, Lng: -118.25},
			{AuditEventType: "trip_end", Timestamp: 5000},
		})

		require.Len(t, side.VehicleEvents, 2)
		require.Len(t, side.TelemetryEvents, 1)
		sample := side.TelemetryEvents[0]
		assert.Equal(t, TypeTelemetry, sample.Type)
		assert.Equal(t, EventTelemetry, sample.EventType)
		assert.Equal(t, int64(1000), sample.Timestamp)

		// The duplicate is a copy: the original keeps its vehicle tagging.
		assert.Equal(t, TypeVehicle, side.VehicleEvents[0].Type)
		assert.Equal(t, EventTripStart, side.VehicleEvents[0].EventType)
	})

	t.Run("event map keeps the last event per type", func(t *testing.T) {
		side := normalizeAudit([]Event{
			{AuditEventType: "trip_start", Timestamp: 1000},
			{AuditEventType: "trip_start", Timestamp: 1200},
		})

		require.NotNil(t, side.EventMap[EventTripStart])
		assert.Equal(t, int64(1200), side.EventMap[EventTripStart].Timestamp)
		assert.Equal(t, int64(1200), side.TripStart)
	})

	t.Run("sorts buckets by timestamp", func(t *testing.T) {
		side := normalizeAudit([]Event{
			{AuditEventType: "telemetry", Timestamp: 3000},
			{AuditEventType: "telemetry", Timestamp: 1000},
			{AuditEventType: "telemetry", Timestamp: 2000},
		})

		require.Len(t, side.TelemetryEvents, 3)
		assert.Equal(t, int64(1000), side.TelemetryEvents[0].Timestamp)
		assert.Equal(t, int64(2000), side.TelemetryEvents[1].Timestamp)
		assert.Equal(t, int64(3000), side.TelemetryEvents[2].Timestamp)
	})

	t.Run("extracts window markers", func(t *testing.T) {
		side := normalizeAudit([]Event{
			{AuditEventType: "start", Timestamp: 500},
			{AuditEventType: "trip_start", Timestamp: 1000},
			{AuditEventType: "trip_end", Timestamp: 4000},
			{AuditEventType: "end", Timestamp: 5000},
		})

		assert.Equal(t, int64(500), side.AuditStart)
		assert.Equal(t, int64(1000), side.TripStart)
		assert.Equal(t, int64(4000), side.TripEnd)
		assert.Equal(t, int64(5000), side.AuditEnd)
	})

	t.Run("does not modify the input slice", func(t *testing.T) {
		raw := []Event{{AuditEventType: "telemetry", Timestamp: 1000}}
		normalizeAudit(raw)
		assert.Empty(t, raw[0].Domain)
		assert.Empty(t, raw[0].Type)
	})
}

func TestNormalizeProvider(t *testing.T) {
	t.Run("nil provider yields empty collections", func(t *testing.T) {
		side := normalizeProvider(nil)

		require.NotNil(t, side)
		assert.Empty(t, side.VehicleEvents)
		assert.Empty(t, side.TelemetryEvents)
		assert.NotNil(t, side.EventMap)
		assert.Zero(t, side.TripStart)
		assert.Zero(t, side.TripEnd)
	})

	t.Run("tags events with the provider domain", func(t *testing.T) {
		side := normalizeProvider(&RawProvider{
			Events:    []Event{{EventType: EventTripStart, Timestamp: 1000}},
			Telemetry: []Event{{Timestamp: 1000}},
		})

		require.Len(t, side.VehicleEvents, 1)
		assert.Equal(t, DomainProvider, side.VehicleEvents[0].Domain)
		require.Len(t, side.TelemetryEvents, 1)
		assert.Equal(t, DomainProvider, side.TelemetryEvents[0].Domain)
	})

	t.Run("enriches vehicle events with telemetry GPS", func(t *testing.T) {
		side := normalizeProvider(&RawProvider{
			Events: []Event{
				{EventType: EventTripStart, Timestamp: 1000, TelemetryTimestamp: 990},
				{EventType: EventTripEnd, Timestamp: 5000},
			},
			Telemetry: []Event{
				{Timestamp: 990, GPS: &GPS{Lat: 34.05, Lng: -118.25}},
				{Timestamp: 5000, GPS: &GPS{Lat: 34.06, Lng: -118.26}},
			},
		})

		start := side.EventMap[EventTripStart]
		require.NotNil(t, start)
		// telemetry_timestamp lookup takes precedence over timestamp.
		require.NotNil(t, start.GPS)
		assert.Equal(t, 34.05, start.GPS.Lat)

		end := side.EventMap[EventTripEnd]
		require.NotNil(t, end)
		require.NotNil(t, end.GPS)
		assert.Equal(t, 34.06, end.GPS.Lat)
	})

	t.Run("leaves events without a matching sample untouched", func(t *testing.T) {
		side := normalizeProvider(&RawProvider{
			Events: []Event{{EventType: EventTripStart, Timestamp: 1000}},
		})

		require.Len(t, side.VehicleEvents, 1)
		assert.Nil(t, side.VehicleEvents[0].GPS)
	})

	t.Run("extracts the trip window", func(t *testing.T) {
		side := normalizeProvider(&RawProvider{
			Events: []Event{
				{EventType: EventTripStart, Timestamp: 1100},
				{EventType: EventTripEnd, Timestamp: 4900},
			},
		})

		assert.Equal(t, int64(1100), side.TripStart)
		assert.Equal(t, int64(4900), side.TripEnd)
	})
}
