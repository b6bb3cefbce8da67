package report

import (
	"encoding/json"
	"sort"
)

// RawProvider is the provider sub-object of a raw audit trip payload.
type RawProvider struct {
	Device    map[string]any `json:"device"`
	Events    []Event        `json:"events"`
	Telemetry []Event        `json:"telemetry"`
}

// RawReport is a raw audit trip payload as returned by the MDS audit server.
// Trip-level metadata other than the id is passed through untouched.
type RawReport struct {
	AuditTripID string          `json:"audit_trip_id"`
	ProviderID  string          `json:"provider_id,omitempty"`
	Events      []Event         `json:"events"`
	Provider    *RawProvider    `json:"provider"`
	Trip        json.RawMessage `json:"trip,omitempty"`
}

// Side holds the normalized event collections for one side of the audit.
type Side struct {
	// Device metadata, provider side only.
	Device map[string]any `json:"device,omitempty"`

	AuditEvents     []*Event `json:"audit_events"`
	VehicleEvents   []*Event `json:"vehicle_events"`
	TelemetryEvents []*Event `json:"telemetry_events"`

	// EventMap keys audit + vehicle events by their (generated) event_type.
	// If more than one event shares a type this holds the last one in input
	// order; that is deliberate.
	EventMap map[string]*Event `json:"-"`

	AuditStart int64 `json:"audit_start,omitempty"`
	TripStart  int64 `json:"trip_start,omitempty"`
	TripEnd    int64 `json:"trip_end,omitempty"`
	AuditEnd   int64 `json:"audit_end,omitempty"`
}

// normalizeAudit splits the raw audit-side events into audit meta, vehicle
// and telemetry buckets according to audit_event_type. The raw slice is not
// modified; every event is copied before it is tagged.
func normalizeAudit(rawEvents []Event) *Side {
	side := &Side{
		AuditEvents:     []*Event{},
		VehicleEvents:   []*Event{},
		TelemetryEvents: []*Event{},
		EventMap:        map[string]*Event{},
	}

	for i := range rawEvents {
		event := rawEvents[i] // copy
		event.Domain = DomainAudit

		switch event.AuditEventType {
		case "telemetry":
			event.Type = TypeTelemetry
			event.EventType = EventTelemetry
			side.TelemetryEvents = append(side.TelemetryEvents, &event)

		case "start", "end", "issue", "note":
			event.Type = TypeAudit
			event.EventType = "audit_" + event.AuditEventType
			side.AuditEvents = append(side.AuditEvents, &event)

		default:
			event.Type = TypeVehicle
			event.EventType = event.AuditEventType
			side.VehicleEvents = append(side.VehicleEvents, &event)
			// A vehicle event with a location doubles as a telemetry
			// sample for timeline comparison.
			if Coords(&event) != nil {
				sample := event
				sample.Type = TypeTelemetry
				sample.EventType = EventTelemetry
				side.TelemetryEvents = append(side.TelemetryEvents, &sample)
			}
		}
	}

	sortByTimestamp(side.AuditEvents)
	sortByTimestamp(side.VehicleEvents)
	sortByTimestamp(side.TelemetryEvents)

	// Key audit + vehicle events by event_type, last one wins.
	for _, event := range side.AuditEvents {
		side.EventMap[event.EventType] = event
	}
	for _, event := range side.VehicleEvents {
		side.EventMap[event.EventType] = event
	}

	side.AuditStart = eventTimestamp(side.EventMap["audit_start"])
	side.TripStart = eventTimestamp(side.EventMap[EventTripStart])
	side.TripEnd = eventTimestamp(side.EventMap[EventTripEnd])
	side.AuditEnd = eventTimestamp(side.EventMap["audit_end"])

	return side
}

// normalizeProvider tags provider events with their domain and enriches
// vehicle events with GPS data looked up from the raw telemetry list by
// telemetry_timestamp (preferred) or timestamp. A nil raw provider yields
// empty collections rather than failing; reports must render without
// provider data.
func normalizeProvider(raw *RawProvider) *Side {
	side := &Side{
		Device:          map[string]any{},
		AuditEvents:     []*Event{},
		VehicleEvents:   []*Event{},
		TelemetryEvents: []*Event{},
		EventMap:        map[string]*Event{},
	}
	if raw == nil {
		return side
	}
	if raw.Device != nil {
		side.Device = raw.Device
	}

	// Telemetry lookup by exact timestamp, last one wins.
	telemetryMap := make(map[int64]*Event, len(raw.Telemetry))
	for i := range raw.Telemetry {
		event := raw.Telemetry[i] // copy
		event.Domain = DomainProvider
		side.TelemetryEvents = append(side.TelemetryEvents, &event)
		telemetryMap[event.Timestamp] = &event
	}

	for i := range raw.Events {
		event := raw.Events[i] // copy
		event.Domain = DomainProvider
		telemetry := telemetryMap[event.TelemetryTimestamp]
		if telemetry == nil {
			telemetry = telemetryMap[event.Timestamp]
		}
		if telemetry != nil && telemetry.GPS != nil {
			gps := *telemetry.GPS
			event.GPS = &gps
		}
		side.VehicleEvents = append(side.VehicleEvents, &event)
	}

	sortByTimestamp(side.VehicleEvents)
	sortByTimestamp(side.TelemetryEvents)

	for _, event := range side.VehicleEvents {
		side.EventMap[event.EventType] = event
	}

	side.TripStart = eventTimestamp(side.EventMap[EventTripStart])
	side.TripEnd = eventTimestamp(side.EventMap[EventTripEnd])

	return side
}

// sortByTimestamp sorts events ascending by timestamp. The sort is stable so
// ties preserve input order, keeping normalization deterministic.
func sortByTimestamp(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
}

func eventTimestamp(event *Event) int64 {
	if event == nil {
		return 0
	}
	return event.Timestamp
}
