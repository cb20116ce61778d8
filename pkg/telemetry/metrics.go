package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce sync.Once
	initMetricsErr  error

	eventsDelivered metric.Int64Counter
	eventsRetried   metric.Int64Counter
	eventQueueDepth metric.Int64UpDownCounter
	queueFetches    metric.Int64Counter
	queueAcks       metric.Int64Counter
	aborts          metric.Int64Counter
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Instruments created before a real MeterProvider is installed delegate to it once set.
func InitMetrics() error {
	initMetricsOnce.Do(func() {
		m := Meter()
		var err error
		if eventsDelivered, err = m.Int64Counter("mission_events_delivered_total", metric.WithDescription("Events accepted by the gateway")); err != nil {
			initMetricsErr = err
			return
		}
		if eventsRetried, err = m.Int64Counter("mission_events_retried_total", metric.WithDescription("Event deliveries that failed and were requeued")); err != nil {
			initMetricsErr = err
			return
		}
		if eventQueueDepth, err = m.Int64UpDownCounter("mission_event_queue_depth", metric.WithDescription("Events waiting for delivery")); err != nil {
			initMetricsErr = err
			return
		}
		if queueFetches, err = m.Int64Counter("mission_queue_fetches_total", metric.WithDescription("Pending message fetches by outcome")); err != nil {
			initMetricsErr = err
			return
		}
		if queueAcks, err = m.Int64Counter("mission_queue_acks_total", metric.WithDescription("Message acknowledgments by status and outcome")); err != nil {
			initMetricsErr = err
			return
		}
		if aborts, err = m.Int64Counter("mission_aborts_total", metric.WithDescription("Cancellations by source")); err != nil {
			initMetricsErr = err
			return
		}
	})
	return initMetricsErr
}

// RecordEventQueued adjusts the queue depth when an event is enqueued.
func RecordEventQueued(ctx context.Context) {
	if eventQueueDepth != nil {
		eventQueueDepth.Add(ctx, 1)
	}
}

// RecordEventDelivered records a successful delivery.
func RecordEventDelivered(ctx context.Context, eventType string) {
	if eventsDelivered != nil {
		eventsDelivered.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(eventType)))
	}
	if eventQueueDepth != nil {
		eventQueueDepth.Add(ctx, -1)
	}
}

// RecordEventRetried records a failed delivery that was put back on the queue.
func RecordEventRetried(ctx context.Context, eventType string) {
	if eventsRetried != nil {
		eventsRetried.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(eventType)))
	}
}

// RecordQueueFetch records a pending-message fetch ("ok", "empty", "error").
func RecordQueueFetch(ctx context.Context, outcome string) {
	if queueFetches != nil {
		queueFetches.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
	}
}

// RecordQueueAck records an acknowledgment attempt.
func RecordQueueAck(ctx context.Context, status string, ok bool) {
	if queueAcks == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	queueAcks.Add(ctx, 1, metric.WithAttributes(AttrAckStatus.String(status), AttrOutcome.String(outcome)))
}

// RecordAbort records a cancellation and where it came from.
func RecordAbort(ctx context.Context, source string) {
	if aborts != nil {
		aborts.Add(ctx, 1, metric.WithAttributes(AttrSource.String(source)))
	}
}
