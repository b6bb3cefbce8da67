package report

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/openmobilityfoundation/mds-audit-service/internal/config"
	"github.com/openmobilityfoundation/mds-audit-service/internal/geo"
)

// MatchedPair is an audit event and a provider event considered to represent
// the same logical occurrence, with the accuracy metrics computed between
// them. Accuracy fields are NaN unless both sides are present.
type MatchedPair struct {
	Type     string `json:"type"`
	Audit    *Event `json:"audit,omitempty"`
	Provider *Event `json:"provider,omitempty"`

	// Timestamp is only set for telemetry matches, where it is the ceiling
	// of the mean of the two sample timestamps and is used purely for
	// timeline placement.
	Timestamp int64 `json:"timestamp,omitempty"`

	TimeAccuracy     Metric `json:"time_accuracy"`     // seconds
	RecordedAccuracy Metric `json:"recorded_accuracy"` // seconds
	TimeDelay        Metric `json:"time_delay"`        // seconds
	LocationAccuracy Metric `json:"location_accuracy"` // meters

	Thresholds config.ThresholdBucket `json:"thresholds"`
	Top        Metric                 `json:"top"`
}

// Exceeded returns the names of the metrics that are over their threshold.
// NaN metrics never exceed; an incomplete pair fails nothing.
func (p *MatchedPair) Exceeded() []string {
	var exceeded []string
	if float64(p.TimeAccuracy) > p.Thresholds.TimeAccuracy {
		exceeded = append(exceeded, "time_accuracy")
	}
	if float64(p.TimeDelay) > p.Thresholds.TimeDelay {
		exceeded = append(exceeded, "time_delay")
	}
	if float64(p.LocationAccuracy) > p.Thresholds.LocationAccuracy {
		exceeded = append(exceeded, "location_accuracy")
	}
	return exceeded
}

// SideTotals are the whole-trip totals for one side of the audit.
type SideTotals struct {
	Distance Metric `json:"distance"` // meters
	Time     Metric `json:"time"`     // seconds
}

// Totals compares whole-trip totals between the two sides.
type Totals struct {
	Audit      SideTotals              `json:"audit"`
	Provider   SideTotals              `json:"provider"`
	Deltas     SideTotals              `json:"deltas"`
	Thresholds config.TotalsThresholds `json:"thresholds"`
}

// AuditReport is the reconciled view of one audited trip: both sides
// normalized, temporally aligned, and evaluated against the configured
// thresholds. It is constructed once from a raw payload and read-only
// afterwards.
type AuditReport struct {
	AuditTripID string `json:"audit_trip_id"`
	ProviderID  string `json:"provider_id,omitempty"`

	Audit    *Side `json:"audit"`
	Provider *Side `json:"provider"`

	// Trip window bounds in milliseconds; zero when no side produced a
	// valid timestamp.
	Start    int64  `json:"start,omitempty"`
	End      int64  `json:"end,omitempty"`
	Duration Metric `json:"duration"` // milliseconds, NaN without a window

	// AllEvents merges audit meta, audit vehicle and provider vehicle
	// events chronologically for the flat table view.
	AllEvents []*Event `json:"all_events"`

	// Deltas are the telemetry matches between the two sides.
	Deltas []*MatchedPair `json:"deltas,omitempty"`

	// EventMap holds the evaluated trip_start and trip_end pairs.
	EventMap map[string]*MatchedPair `json:"event_map"`

	Totals Totals `json:"totals"`
}

// Builder turns raw audit trip payloads into AuditReports. It is stateless
// and safe for concurrent use on independent payloads.
type Builder struct {
	thresholds config.Thresholds
	logger     *zap.Logger
}

// NewBuilder creates a report builder with the given thresholds.
func NewBuilder(thresholds config.Thresholds, logger *zap.Logger) *Builder {
	return &Builder{
		thresholds: thresholds,
		logger:     logger,
	}
}

// Build normalizes the raw payload and produces the reconciled report.
// Malformed timestamps and missing coordinates degrade to NaN fields rather
// than failing; the only error is a nil payload.
func (b *Builder) Build(raw *RawReport) (*AuditReport, error) {
	if raw == nil {
		return nil, fmt.Errorf("build report: nil payload")
	}

	r := &AuditReport{
		AuditTripID: raw.AuditTripID,
		ProviderID:  raw.ProviderID,
		Audit:       normalizeAudit(raw.Events),
		Provider:    normalizeProvider(raw.Provider),
	}

	// Logical audit window: earliest defined start marker to latest defined
	// end marker across both sides.
	r.Start = minTimestamp(r.Audit.AuditStart, r.Audit.TripStart, r.Provider.TripStart)
	r.End = maxTimestamp(r.Audit.AuditEnd, r.Audit.TripEnd, r.Provider.TripEnd)
	if ValidTimestamp(r.Start) && ValidTimestamp(r.End) {
		r.Duration = Metric(r.End - r.Start)
	} else {
		r.Duration = NaN()
	}

	// Position every event in the trip window for the event graph.
	for _, bucket := range [][]*Event{
		r.Audit.AuditEvents,
		r.Audit.VehicleEvents,
		r.Audit.TelemetryEvents,
		r.Provider.VehicleEvents,
		r.Provider.TelemetryEvents,
	} {
		for _, event := range bucket {
			event.Top = r.top(event.Timestamp)
		}
	}

	// All significant events sorted together for the events table.
	r.AllEvents = make([]*Event, 0,
		len(r.Audit.AuditEvents)+len(r.Audit.VehicleEvents)+len(r.Provider.VehicleEvents))
	r.AllEvents = append(r.AllEvents, r.Audit.AuditEvents...)
	r.AllEvents = append(r.AllEvents, r.Audit.VehicleEvents...)
	r.AllEvents = append(r.AllEvents, r.Provider.VehicleEvents...)
	sortByTimestamp(r.AllEvents)

	// Anchor a ruler at the trip_start latitude, preferring the provider's
	// fix. Without one, every distance degrades to NaN.
	var ruler *geo.Ruler
	anchor := Coords(r.Provider.EventMap[EventTripStart])
	if anchor == nil {
		anchor = Coords(r.Audit.EventMap[EventTripStart])
	}
	if anchor != nil {
		ruler = geo.NewRuler(anchor.Lat)
	} else if b.logger != nil {
		b.logger.Debug("no trip_start location, distances will not be computed",
			zap.String("audit_trip_id", r.AuditTripID))
	}

	r.Deltas = b.matchTelemetry(r, ruler)

	r.EventMap = map[string]*MatchedPair{
		EventTripStart: b.evaluateVehicleEvent(r, ruler, EventTripStart),
		EventTripEnd:   b.evaluateVehicleEvent(r, ruler, EventTripEnd),
	}

	r.Totals = Totals{
		Audit: SideTotals{
			Distance: Metric(TripDistance(ruler, r.Audit.TelemetryEvents, r.Start, r.End)),
			Time:     Metric(TimeDelta(r.Audit.TripStart, r.Audit.TripEnd)),
		},
		Provider: SideTotals{
			Distance: Metric(TripDistance(ruler, r.Provider.TelemetryEvents, r.Start, r.End)),
			Time:     Metric(TimeDelta(r.Provider.TripStart, r.Provider.TripEnd)),
		},
		Thresholds: b.thresholds.Totals,
	}
	r.Totals.Deltas.Distance = Metric(math.Abs(float64(r.Totals.Audit.Distance - r.Totals.Provider.Distance)))
	r.Totals.Deltas.Time = Metric(math.Abs(float64(r.Totals.Audit.Time - r.Totals.Provider.Time)))

	return r, nil
}

// matchTelemetry aligns the two telemetry streams and evaluates each match.
// Without a ruler (no trip_start fix) or with either stream empty there is
// nothing meaningful to compare, so it returns nil.
func (b *Builder) matchTelemetry(r *AuditReport, ruler *geo.Ruler) []*MatchedPair {
	if ruler == nil {
		return nil
	}
	audit := r.Audit.TelemetryEvents
	provider := r.Provider.TelemetryEvents
	if len(audit) == 0 || len(provider) == 0 {
		return nil
	}

	edges := mergeEdges(audit, provider)
	matchDelta := int64(b.thresholds.Telemetry.MatchTime * 1000)
	matched := matchEdges(edges, matchDelta)

	deltas := make([]*MatchedPair, 0, len(matched))
	for _, pair := range matched {
		event1, event2 := pair[0], pair[1]
		match := &MatchedPair{
			Type: EventTelemetry,
			// Display at the average of the two times, rounded up.
			Timestamp: (event1.Timestamp + event2.Timestamp + 1) / 2,
		}
		if event1.Domain == DomainAudit {
			match.Audit, match.Provider = event1, event2
		} else {
			match.Audit, match.Provider = event2, event1
		}
		b.addCalculations(r, ruler, match, EventTelemetry)
		deltas = append(deltas, match)
	}
	return deltas
}

// evaluateVehicleEvent pairs the audit and provider events of the same type
// and computes the accuracy metrics between them. Either side may be absent.
func (b *Builder) evaluateVehicleEvent(r *AuditReport, ruler *geo.Ruler, eventType string) *MatchedPair {
	pair := &MatchedPair{
		Type:     eventType,
		Audit:    r.Audit.EventMap[eventType],
		Provider: r.Provider.EventMap[eventType],
	}
	b.addCalculations(r, ruler, pair, eventType)
	return pair
}

// addCalculations fills the accuracy metrics and the applicable threshold
// bucket on a pair. Metrics are only computed when both sides are present;
// otherwise they stay NaN, never zero.
func (b *Builder) addCalculations(r *AuditReport, ruler *geo.Ruler, pair *MatchedPair, eventType string) {
	pair.TimeAccuracy = NaN()
	pair.RecordedAccuracy = NaN()
	pair.TimeDelay = NaN()
	pair.LocationAccuracy = NaN()

	if pair.Audit != nil && pair.Provider != nil {
		pair.TimeAccuracy = Metric(TimeDelta(pair.Audit.Timestamp, pair.Provider.Timestamp))
		pair.RecordedAccuracy = Metric(TimeDelta(pair.Audit.Recorded, pair.Provider.Recorded))
		pair.TimeDelay = Metric(TimeDelta(pair.Provider.Timestamp, pair.Provider.Recorded))
		pair.LocationAccuracy = Metric(EventDistance(ruler, pair.Audit, pair.Provider))
	}

	pair.Top = r.top(pair.Timestamp)
	pair.Thresholds = b.SelectBucket(eventType)
}

// SelectBucket returns the threshold bucket applicable to an event type.
func (b *Builder) SelectBucket(eventType string) config.ThresholdBucket {
	switch eventType {
	case EventTripStart, EventTripEnd:
		return b.thresholds.StartEnd
	case EventTripEnter, EventTripLeave:
		return b.thresholds.EnterLeave
	default:
		return b.thresholds.Other
	}
}

// top returns the percentage position of a timestamp in the trip window, or
// NaN when the window or the timestamp is undefined.
func (r *AuditReport) top(timestamp int64) Metric {
	if !ValidTimestamp(timestamp) || !ValidTimestamp(r.Start) || !ValidTimestamp(r.End) {
		return NaN()
	}
	return Metric(geo.Percent(float64(timestamp), float64(r.Start), float64(r.End)))
}

func minTimestamp(timestamps ...int64) int64 {
	var min int64
	for _, ts := range timestamps {
		if !ValidTimestamp(ts) {
			continue
		}
		if min == 0 || ts < min {
			min = ts
		}
	}
	return min
}

func maxTimestamp(timestamps ...int64) int64 {
	var max int64
	for _, ts := range timestamps {
		if !ValidTimestamp(ts) {
			continue
		}
		if ts > max {
			max = ts
		}
	}
	return max
}
