package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holon-run/mission/pkg/gateway"
	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/holon-run/mission/pkg/logs/redact"
	"github.com/holon-run/mission/pkg/telemetry"
)

const (
	defaultRetryDelay    = time.Second
	defaultDrainInterval = 50 * time.Millisecond
)

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	Sender    gateway.Sender
	Endpoints gateway.Endpoints
	// Journal, when set, receives every envelope the Gateway accepted.
	Journal *Journal
	// Redactor scrubs Gateway error bodies before they are logged.
	Redactor *redact.Redactor
	// RetryDelay is the minimum gap Drain leaves after a failed pass before
	// starting another. Report always starts a pass immediately.
	RetryDelay time.Duration
	// DrainInterval is how often Drain re-checks the queue.
	DrainInterval time.Duration
	Now           func() time.Time
}

// Reporter is an ordered FIFO of outbound events. One delivery pass runs at a
// time; a failed event stays at the head so later events never overtake it.
// Delivery is at-least-once: an event whose response was lost is resent.
type Reporter struct {
	sender    gateway.Sender
	endpoints gateway.Endpoints
	journal   *Journal
	redactor  *redact.Redactor
	now       func() time.Time

	retryDelay    time.Duration
	drainInterval time.Duration

	mu          sync.Mutex
	queue       []Envelope
	flushing    bool
	lastFailure time.Time
	deltaSeq    map[string]int64
}

// NewReporter creates a Reporter for the mission addressed by cfg.Endpoints.
func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if cfg.Endpoints.MissionID() == "" {
		return nil, fmt.Errorf("endpoints are required")
	}
	r := &Reporter{
		sender:        cfg.Sender,
		endpoints:     cfg.Endpoints,
		journal:       cfg.Journal,
		redactor:      cfg.Redactor,
		now:           cfg.Now,
		retryDelay:    cfg.RetryDelay,
		drainInterval: cfg.DrainInterval,
		deltaSeq:      make(map[string]int64),
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.retryDelay <= 0 {
		r.retryDelay = defaultRetryDelay
	}
	if r.drainInterval <= 0 {
		r.drainInterval = defaultDrainInterval
	}
	return r, nil
}

// Report stamps ev, appends it to the queue and starts a delivery pass if none
// is running. It never blocks on the network.
func (r *Reporter) Report(ev Event) {
	if ev == nil {
		return
	}

	r.mu.Lock()
	if d, ok := ev.(MessageDelta); ok && d.Seq == 0 {
		r.deltaSeq[d.MessageID]++
		d.Seq = r.deltaSeq[d.MessageID]
		ev = d
	}
	r.queue = append(r.queue, Envelope{
		ID:        uuid.NewString(),
		Type:      ev.EventType(),
		MissionID: r.endpoints.MissionID(),
		Timestamp: r.now().UTC(),
		Data:      ev,
	})
	start := r.startPassLocked()
	r.mu.Unlock()

	telemetry.RecordEventQueued(context.Background())
	if start {
		go r.flush()
	}
}

// Pending returns the number of undelivered events.
func (r *Reporter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Drain blocks until the queue is empty and no delivery pass is in flight.
// Between checks it restarts a pass once RetryDelay has elapsed since the last
// failure, so a failed head is retried without a new Report. It returns
// ctx.Err() if ctx ends first; the undelivered events remain queued.
func (r *Reporter) Drain(ctx context.Context) error {
	ticker := time.NewTicker(r.drainInterval)
	defer ticker.Stop()

	for {
		r.mu.Lock()
		if len(r.queue) == 0 && !r.flushing {
			r.mu.Unlock()
			return nil
		}
		start := false
		if !r.flushing && r.now().Sub(r.lastFailure) >= r.retryDelay {
			start = r.startPassLocked()
		}
		pending := len(r.queue)
		r.mu.Unlock()

		if start {
			go r.flush()
		}

		select {
		case <-ctx.Done():
			holonlog.Warn("event drain interrupted", "mission_id", r.endpoints.MissionID(), "pending", pending, "error", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// startPassLocked marks a pass as running. Callers hold r.mu.
func (r *Reporter) startPassLocked() bool {
	if r.flushing || len(r.queue) == 0 {
		return false
	}
	r.flushing = true
	return true
}

// flush delivers queued events one at a time in order. The head is removed
// only after the Gateway accepts it; on failure the pass stops and the head
// stays in place.
func (r *Reporter) flush() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.flushing = false
			r.mu.Unlock()
			return
		}
		head := r.queue[0]
		r.mu.Unlock()

		if err := r.deliver(head); err != nil {
			r.mu.Lock()
			r.flushing = false
			r.lastFailure = r.now()
			r.mu.Unlock()

			telemetry.RecordEventRetried(context.Background(), string(head.Type))
			holonlog.Warn("event delivery failed; will retry",
				"mission_id", head.MissionID,
				"event_id", head.ID,
				"event_type", head.Type,
				"error", r.redactor.String(err.Error()),
			)
			return
		}

		r.mu.Lock()
		r.queue[0] = Envelope{}
		r.queue = r.queue[1:]
		r.mu.Unlock()

		telemetry.RecordEventDelivered(context.Background(), string(head.Type))
		if r.journal != nil {
			if err := r.journal.Write(head); err != nil {
				holonlog.Warn("failed to journal event", "event_id", head.ID, "error", err)
			}
		}
	}
}

func (r *Reporter) deliver(env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		// An unencodable event can never succeed; keeping it would wedge the queue.
		holonlog.Error("dropping unencodable event", "event_id", env.ID, "event_type", env.Type, "error", err)
		return nil
	}

	resp, err := r.sender.Send(context.Background(), http.MethodPost, r.endpoints.Events(), body)
	if err != nil {
		return err
	}
	defer gateway.Drain(resp)
	return gateway.CheckResponse(resp)
}
