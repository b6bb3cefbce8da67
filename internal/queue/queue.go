// Package queue delivers locally logged audit events to the audit server.
//
// Events are dispatched strictly in FIFO order with at most one event in
// flight: the server must acknowledge earlier events (audit_start in
// particular) before later ones are meaningful, so dispatch is deliberately
// serialized at the cost of throughput. Network failures flip the queue into
// offline mode, where a timer polls connectivity and dispatch resumes from
// the queue head once the network is back.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmobilityfoundation/mds-audit-service/internal/config"
	"github.com/openmobilityfoundation/mds-audit-service/internal/metrics"
	"github.com/openmobilityfoundation/mds-audit-service/internal/report"
)

// Status is the lifecycle state of a queued event.
type Status string

const (
	StatusTelemetry Status = "telemetry" // logged and awaiting telemetry data
	StatusReady     Status = "ready"     // ready to send
	StatusInFlight  Status = "in_flight" // in flight to server
	StatusSubmitted Status = "submitted" // accepted by server, check Result
	StatusSkipped   Status = "skipped"   // never sent, check Error
	StatusError     Status = "error"     // rejected by server, check Error
)

// TelemetryPolicy controls whether an event needs a location fix before it
// can be sent.
type TelemetryPolicy string

const (
	PolicyNone     TelemetryPolicy = "none"     // don't send telemetry data at all
	PolicyOptional TelemetryPolicy = "optional" // on telemetry failure, send without location
	PolicyRequired TelemetryPolicy = "required" // on telemetry failure, don't send the event
)

// Event is an entry in the submission queue.
type Event struct {
	ID              string          `json:"event_id"`
	Type            string          `json:"type"`
	Params          report.Params   `json:"params"`
	TelemetryPolicy TelemetryPolicy `json:"telemetry_policy,omitempty"`
	Status          Status          `json:"status"`
	Error           string          `json:"error,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	EnqueuedAt      time.Time       `json:"enqueued_at"`
}

// Handler sends one event to its endpoint. Return a *ServerError for a
// definitive rejection; any other error is treated as a network failure.
type Handler func(ctx context.Context, event *Event, accessToken string) (json.RawMessage, error)

// TelemetrySource acquires a location fix for an event.
type TelemetrySource interface {
	Telemetry(ctx context.Context) (*report.Telemetry, error)
}

// Probe answers whether the host currently appears to be offline.
type Probe interface {
	Offline(ctx context.Context) bool
}

// SnapshotStore persists pending events across restarts. Implementations are
// invoked by the queue but owned by the host.
type SnapshotStore interface {
	Save(ctx context.Context, events []*Event) error
	Load(ctx context.Context) ([]*Event, error)
}

// Options wires a Queue's collaborators. Handlers is the per-event-type
// dispatch registry; everything else is optional.
type Options struct {
	Config    config.QueueConfig
	Logger    *zap.Logger
	Handlers  map[string]Handler
	Telemetry TelemetrySource
	Probe     Probe
	Snapshots SnapshotStore
	Metrics   *metrics.Collector
	// Token supplies the bearer token handed to handlers on each dispatch.
	Token func() string
}

// Queue is the event submission queue.
type Queue struct {
	cfg       config.QueueConfig
	logger    *zap.Logger
	handlers  map[string]Handler
	telemetry TelemetrySource
	probe     Probe
	snapshots SnapshotStore
	metrics   *metrics.Collector
	token     func() string

	mu          sync.Mutex
	pending     []*Event
	history     []*Event
	inFlight    string
	offline     bool
	offlineStop chan struct{}
	closed      bool
	watchers    map[chan Event]struct{}
}

// New creates a Queue. It does not start dispatching until Start is called.
func New(opts Options) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handlers := opts.Handlers
	if handlers == nil {
		handlers = map[string]Handler{}
	}
	token := opts.Token
	if token == nil {
		token = func() string { return "" }
	}
	return &Queue{
		cfg:       opts.Config,
		logger:    logger,
		handlers:  handlers,
		telemetry: opts.Telemetry,
		probe:     opts.Probe,
		snapshots: opts.Snapshots,
		metrics:   opts.Metrics,
		token:     token,
		watchers:  map[chan Event]struct{}{},
	}
}

// Start restores any persisted queue contents and begins dispatching. An
// event that was in flight when the process died is reset to ready so it is
// tried again; we assume we start out online unless the probe says otherwise.
func (q *Queue) Start(ctx context.Context) error {
	if q.snapshots != nil {
		events, err := q.snapshots.Load(ctx)
		if err != nil {
			return fmt.Errorf("load queue snapshot: %w", err)
		}
		q.mu.Lock()
		for _, event := range events {
			if event.Status == StatusInFlight {
				event.Status = StatusReady
			}
			q.pending = append(q.pending, event)
		}
		q.updateDepthLocked()
		q.mu.Unlock()
		if len(events) > 0 {
			q.logger.Info("restored queued events", zap.Int("count", len(events)))
		}
	}

	if q.probe != nil && q.probe.Offline(ctx) {
		q.mu.Lock()
		q.enterOfflineLocked()
		q.mu.Unlock()
		return nil
	}

	q.mu.Lock()
	q.dispatchNextLocked()
	q.mu.Unlock()
	return nil
}

// Stop halts the offline timer and persists the pending queue.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.offlineStop != nil {
		close(q.offlineStop)
		q.offlineStop = nil
	}
	for watcher := range q.watchers {
		close(watcher)
	}
	q.watchers = map[chan Event]struct{}{}
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	if q.snapshots != nil {
		if err := q.snapshots.Save(ctx, snapshot); err != nil {
			return fmt.Errorf("save queue snapshot: %w", err)
		}
	}
	return nil
}

// Enqueue adds an event to the back of the queue. The event's queue position
// is fixed here, before any telemetry acquisition, so delivery order always
// matches logging order no matter how out-of-order the location fixes
// resolve. The returned copy reflects the event's initial status.
func (q *Queue) Enqueue(ctx context.Context, event Event) (Event, error) {
	if event.Type == "" {
		return Event{}, fmt.Errorf("enqueue: event type is required")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.TelemetryPolicy == "" {
		event.TelemetryPolicy = PolicyNone
	}
	event.EnqueuedAt = time.Now().UTC()
	event.Error = ""
	event.Result = nil

	needsTelemetry := event.TelemetryPolicy != PolicyNone && event.Params.Telemetry == nil
	if needsTelemetry {
		event.Status = StatusTelemetry
	} else {
		event.Status = StatusReady
	}

	queued := event // the queue owns this copy

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Event{}, fmt.Errorf("enqueue: queue is stopped")
	}
	q.pending = append(q.pending, &queued)
	q.updateDepthLocked()
	q.notifyLocked(&queued)
	if q.metrics != nil {
		q.metrics.EventsEnqueued.WithLabelValues(queued.Type).Inc()
	}
	if !needsTelemetry {
		q.dispatchNextLocked()
	}
	q.mu.Unlock()

	if needsTelemetry {
		go q.acquireTelemetry(queued.ID)
	}
	return event, nil
}

// acquireTelemetry resolves the location fix for an event waiting in
// StatusTelemetry and promotes it to ready, or skips it when telemetry was
// required and unavailable.
func (q *Queue) acquireTelemetry(eventID string) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.TelemetryTimeout)
	defer cancel()

	var fix *report.Telemetry
	err := fmt.Errorf("no telemetry source configured")
	if q.telemetry != nil {
		fix, err = q.telemetry.Telemetry(ctx)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	event := q.findLocked(eventID)
	if event == nil || event.Status != StatusTelemetry {
		return
	}

	if err != nil {
		q.logger.Warn("error getting telemetry for event",
			zap.String("event_id", eventID),
			zap.String("type", event.Type),
			zap.Error(err))
		if event.TelemetryPolicy == PolicyRequired {
			event.Status = StatusSkipped
			event.Error = err.Error()
			q.removeLocked(eventID)
			q.history = append(q.history, event)
			q.notifyLocked(event)
			if q.metrics != nil {
				q.metrics.EventsDispatched.WithLabelValues("skipped").Inc()
			}
			q.dispatchNextLocked()
			return
		}
		// Optional telemetry: send the event without a location.
	} else {
		event.Params.Telemetry = fix
	}

	event.Status = StatusReady
	q.notifyLocked(event)
	q.dispatchNextLocked()
}

// dispatchNextLocked sends the head of the queue if the queue is idle,
// online, and the head is ready. Events behind a head that is still waiting
// for telemetry stay put: FIFO order beats readiness.
func (q *Queue) dispatchNextLocked() {
	for {
		if q.closed || q.offline || q.inFlight != "" || len(q.pending) == 0 {
			return
		}
		head := q.pending[0]
		if head.Status != StatusReady {
			return
		}

		handler, ok := q.handlers[head.Type]
		if !ok {
			// Programmer error: an event type nothing knows how to send.
			// Recorded on the event, not thrown; the queue moves on.
			head.Status = StatusError
			head.Error = fmt.Sprintf("no handler registered for event type %q", head.Type)
			q.logger.Error("no handler registered for event type",
				zap.String("event_id", head.ID),
				zap.String("type", head.Type))
			q.removeLocked(head.ID)
			q.history = append(q.history, head)
			q.notifyLocked(head)
			if q.metrics != nil {
				q.metrics.EventsDispatched.WithLabelValues("error").Inc()
			}
			continue
		}

		head.Status = StatusInFlight
		q.inFlight = head.ID
		q.notifyLocked(head)
		go q.dispatch(handler, head)
		return
	}
}

// dispatch runs one handler call and settles the event. It runs outside the
// lock; the transport cannot be cancelled once started, so a result that
// arrives after the queue already went offline is ignored — the event will
// be sent again once online, and the duplicate-submission risk is accepted.
func (q *Queue) dispatch(handler Handler, event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.DispatchTimeout)
	defer cancel()

	result, err := handler(ctx, event, q.token())

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight != event.ID {
		q.logger.Warn("dropping stale dispatch result",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return
	}
	q.inFlight = ""

	switch {
	case err == nil:
		event.Status = StatusSubmitted
		event.Result = result
		q.removeLocked(event.ID)
		q.history = append(q.history, event)
		q.notifyLocked(event)
		if q.metrics != nil {
			q.metrics.EventsDispatched.WithLabelValues("submitted").Inc()
		}
		q.logger.Info("event submitted",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type))
		q.saveSnapshotLocked()
		q.dispatchNextLocked()

	case IsServerError(err):
		// The server saw it and said no. Record and move on; this might
		// wreck the audit (especially if audit_start fails), which is why
		// the error is surfaced for manual action instead of retried.
		event.Status = StatusError
		event.Error = err.Error()
		q.removeLocked(event.ID)
		q.history = append(q.history, event)
		q.notifyLocked(event)
		if q.metrics != nil {
			q.metrics.EventsDispatched.WithLabelValues("error").Inc()
		}
		q.logger.Error("event rejected by server",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type),
			zap.Error(err))
		q.saveSnapshotLocked()
		q.dispatchNextLocked()

	default:
		// Network failure: the event stays at the head of the queue and
		// will be retried once we're back online.
		event.Status = StatusReady
		q.notifyLocked(event)
		if q.metrics != nil {
			q.metrics.EventsDispatched.WithLabelValues("network_error").Inc()
		}
		q.logger.Warn("network error dispatching event, entering offline mode",
			zap.String("event_id", event.ID),
			zap.Error(err))
		q.enterOfflineLocked()
	}
}

// enterOfflineLocked flips the queue offline and starts the connectivity
// poll timer.
func (q *Queue) enterOfflineLocked() {
	if q.offline {
		return
	}
	q.offline = true
	if q.metrics != nil {
		q.metrics.OfflineEntered.Inc()
	}
	q.logger.Info("queue entering offline mode")

	if q.offlineStop != nil {
		close(q.offlineStop)
	}
	stop := make(chan struct{})
	q.offlineStop = stop
	go q.offlineLoop(stop)
}

// offlineLoop polls connectivity until the probe reports online, then
// resumes dispatch from the queue head.
func (q *Queue) offlineLoop(stop chan struct{}) {
	ticker := time.NewTicker(q.cfg.OfflineCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), q.cfg.OfflineCheckInterval)
			offline := q.probe != nil && q.probe.Offline(ctx)
			cancel()
			if offline {
				q.logger.Debug("still offline")
				continue
			}

			q.mu.Lock()
			if q.offlineStop == stop {
				q.offline = false
				q.offlineStop = nil
				q.logger.Info("queue back online")
				q.dispatchNextLocked()
			}
			q.mu.Unlock()
			return
		}
	}
}

// Events returns a snapshot of the queue: pending events in dispatch order
// followed by settled ones, all as copies.
func (q *Queue) Events() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := make([]Event, 0, len(q.pending)+len(q.history))
	for _, event := range q.pending {
		events = append(events, *event)
	}
	for _, event := range q.history {
		events = append(events, *event)
	}
	return events
}

// Offline reports whether the queue currently believes it is offline.
func (q *Queue) Offline() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.offline
}

// Subscribe returns a channel receiving a copy of every event status change,
// and a cancel function. Slow subscribers miss updates rather than blocking
// the queue.
func (q *Queue) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	q.mu.Lock()
	q.watchers[ch] = struct{}{}
	q.mu.Unlock()

	cancel := func() {
		q.mu.Lock()
		if _, ok := q.watchers[ch]; ok {
			delete(q.watchers, ch)
			close(ch)
		}
		q.mu.Unlock()
	}
	return ch, cancel
}

func (q *Queue) notifyLocked(event *Event) {
	for watcher := range q.watchers {
		select {
		case watcher <- *event:
		default:
		}
	}
}

func (q *Queue) findLocked(eventID string) *Event {
	for _, event := range q.pending {
		if event.ID == eventID {
			return event
		}
	}
	return nil
}

func (q *Queue) removeLocked(eventID string) {
	for i, event := range q.pending {
		if event.ID == eventID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.updateDepthLocked()
}

func (q *Queue) updateDepthLocked() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
	}
}

func (q *Queue) snapshotLocked() []*Event {
	snapshot := make([]*Event, 0, len(q.pending))
	for _, event := range q.pending {
		clone := *event
		if clone.Status == StatusInFlight {
			clone.Status = StatusReady
		}
		snapshot = append(snapshot, &clone)
	}
	return snapshot
}

// saveSnapshotLocked persists the pending queue in the background; snapshot
// failures are logged, not fatal.
func (q *Queue) saveSnapshotLocked() {
	if q.snapshots == nil {
		return
	}
	snapshot := q.snapshotLocked()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.snapshots.Save(ctx, snapshot); err != nil {
			q.logger.Warn("failed to save queue snapshot", zap.Error(err))
		}
	}()
}
