// Package coordinator drives a mission: it pulls queued messages, feeds them
// to the agent session, forwards the resulting events and acknowledges each
// message.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holon-run/mission/pkg/events"
	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/holon-run/mission/pkg/mission"
	"github.com/holon-run/mission/pkg/queue"
	"github.com/holon-run/mission/pkg/session"
	"github.com/holon-run/mission/pkg/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultDrainTimeout = 30 * time.Second

// Queue is the subset of queue.Client the coordinator uses.
type Queue interface {
	FetchPendingMessages(ctx context.Context) []queue.Message
	MarkDelivered(ctx context.Context, id string) bool
	MarkProcessed(ctx context.Context, id string) bool
}

// Reporter is the subset of events.Reporter the coordinator uses.
type Reporter interface {
	Report(ev events.Event)
	Drain(ctx context.Context) error
}

// Publisher runs once after a mission completes without abort, typically to
// open a pull request. The returned events are reported as-is.
type Publisher interface {
	Publish(ctx context.Context, m *mission.Context) ([]events.Event, error)
}

// Config wires a Coordinator.
type Config struct {
	Queue    Queue
	Session  session.Session
	Reporter Reporter
	Mission  *mission.Context
	// Canceller is shared with the abort watcher. Required.
	Canceller *Canceller
	// Prompt is the mission's initial task, prepended to the first batch.
	Prompt string
	// Publisher is optional.
	Publisher Publisher
	// DrainTimeout bounds the final event drain.
	DrainTimeout time.Duration
}

// Coordinator runs the per-mission state machine:
// fetch-initial → run-initial-prompt → poll-loop → idle.
type Coordinator struct {
	queue        Queue
	session      session.Session
	reporter     Reporter
	mission      *mission.Context
	canceller    *Canceller
	prompt       string
	publisher    Publisher
	drainTimeout time.Duration

	// handled holds ids already run in this process; the Gateway may
	// redeliver them if a processed ack was lost.
	handled map[string]struct{}
}

// New validates cfg.
func New(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case cfg.Session == nil:
		return nil, fmt.Errorf("session is required")
	case cfg.Reporter == nil:
		return nil, fmt.Errorf("reporter is required")
	case cfg.Mission == nil:
		return nil, fmt.Errorf("mission context is required")
	case cfg.Canceller == nil:
		return nil, fmt.Errorf("canceller is required")
	}
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	return &Coordinator{
		queue:        cfg.Queue,
		session:      cfg.Session,
		reporter:     cfg.Reporter,
		mission:      cfg.Mission,
		canceller:    cfg.Canceller,
		prompt:       cfg.Prompt,
		publisher:    cfg.Publisher,
		drainTimeout: drain,
		handled:      make(map[string]struct{}),
	}, nil
}

// Run drives the mission until the queue is empty, the mission is aborted
// (ErrAborted) or the session fails. Reported events are always drained
// before Run returns.
func (c *Coordinator) Run(parent context.Context) (err error) {
	ctx, span := telemetry.Tracer().Start(parent, "mission.run",
		trace.WithAttributes(telemetry.AttrMission.String(c.mission.ID)))
	defer func() {
		if err != nil && !errors.Is(err, ErrAborted) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer c.drain()

	runCtx := c.canceller.Context()
	holonlog.Info("mission started", "mission_id", c.mission.ID)

	if err := c.runInitial(ctx, runCtx); err != nil {
		return c.finish(err)
	}
	if err := c.pollLoop(ctx, runCtx); err != nil {
		return c.finish(err)
	}
	if c.canceller.Aborted() {
		return c.finish(ErrAborted)
	}

	if c.publisher != nil {
		c.publish(ctx)
	}
	holonlog.Info("mission idle", "mission_id", c.mission.ID)
	return nil
}

// runInitial combines the mission prompt with everything already queued
// into one prompt.
func (c *Coordinator) runInitial(ctx, runCtx context.Context) error {
	msgs := c.queue.FetchPendingMessages(ctx)
	for _, m := range msgs {
		if m.Behavior == queue.BehaviorAbort {
			c.abortFromQueue(ctx, m)
			return nil
		}
	}
	if c.canceller.Aborted() {
		return nil
	}

	text := queue.CombinePrompt(c.prompt, msgs)
	if text == "" {
		holonlog.Info("no initial prompt or pending messages", "mission_id", c.mission.ID)
		return nil
	}

	for _, m := range msgs {
		c.credit(m)
		c.queue.MarkDelivered(ctx, m.ID)
	}
	if err := c.runPrompt(runCtx, text, queue.BehaviorFollowUp); err != nil {
		return err
	}
	if c.canceller.Aborted() {
		return nil
	}
	for _, m := range msgs {
		c.handled[m.ID] = struct{}{}
		c.queue.MarkProcessed(ctx, m.ID)
	}
	return nil
}

// pollLoop handles new batches until the queue is empty or the mission is
// aborted. Within a batch messages run in fetch order; processed acks are
// sent once the whole batch has run.
//
// The queue is only polled between prompts, so a steer message never
// interrupts a running prompt. It runs after the current one like followUp;
// the session sees the difference only through MISSION_PROMPT_BEHAVIOR.
func (c *Coordinator) pollLoop(ctx, runCtx context.Context) error {
	for !c.canceller.Aborted() {
		msgs := c.queue.FetchPendingMessages(ctx)
		if len(msgs) == 0 {
			return nil
		}
		msgs = c.unhandled(ctx, msgs)
		if len(msgs) == 0 {
			return nil
		}
		holonlog.Info("processing queued messages", "mission_id", c.mission.ID, "count", len(msgs))

		var completed []string
		var runErr error
		for _, m := range msgs {
			if c.canceller.Aborted() {
				break
			}
			if m.Behavior == queue.BehaviorAbort {
				c.abortFromQueue(ctx, m)
				break
			}
			c.credit(m)

			c.queue.MarkDelivered(ctx, m.ID)
			text := queue.CombinePrompt("", []queue.Message{m})
			if err := c.runPrompt(runCtx, text, m.Behavior); err != nil {
				runErr = err
				break
			}
			if c.canceller.Aborted() {
				break
			}
			completed = append(completed, m.ID)
		}

		for _, id := range completed {
			c.handled[id] = struct{}{}
			c.queue.MarkProcessed(ctx, id)
		}
		if runErr != nil {
			return runErr
		}
	}
	return nil
}

// unhandled drops redelivered messages, retrying their processed ack.
func (c *Coordinator) unhandled(ctx context.Context, msgs []queue.Message) []queue.Message {
	fresh := msgs[:0:0]
	for _, m := range msgs {
		if _, ok := c.handled[m.ID]; ok {
			holonlog.Debug("skipping redelivered message", "message_id", m.ID)
			c.queue.MarkProcessed(ctx, m.ID)
			continue
		}
		fresh = append(fresh, m)
	}
	return fresh
}

// runPrompt forwards every session event to the reporter. Cancellation by
// abort is not an error here; callers check the canceller.
func (c *Coordinator) runPrompt(ctx context.Context, text string, behavior queue.Behavior) error {
	ctx, span := telemetry.Tracer().Start(ctx, "mission.prompt",
		trace.WithAttributes(telemetry.AttrBehavior.String(string(behavior))))
	defer span.End()

	for ev, err := range c.session.Prompt(ctx, text, behavior) {
		if err != nil {
			if c.canceller.Aborted() {
				return nil
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("session prompt failed: %w", err)
		}
		c.reporter.Report(ev)
	}
	return nil
}

// abortFromQueue treats an abort message as processed by the cancellation it
// causes.
func (c *Coordinator) abortFromQueue(ctx context.Context, m queue.Message) {
	holonlog.Warn("abort requested via queue", "mission_id", c.mission.ID, "message_id", m.ID, "sender", m.Sender())
	c.queue.MarkDelivered(ctx, m.ID)
	c.canceller.Cancel(SourceQueue)
	c.queue.MarkProcessed(ctx, m.ID)
}

func (c *Coordinator) credit(m queue.Message) {
	c.mission.AddContributor(mission.Person{ID: m.SenderID, Name: m.SenderName, Email: m.SenderEmail})
}

// finish reports the terminal condition before the deferred drain runs.
func (c *Coordinator) finish(err error) error {
	if errors.Is(err, ErrAborted) {
		src, _ := c.canceller.Source()
		holonlog.Warn("mission aborted", "mission_id", c.mission.ID, "source", src)
		c.reporter.Report(events.AgentEnd{Reason: "aborted"})
		return err
	}
	holonlog.Error("mission failed", "mission_id", c.mission.ID, "error", err)
	c.reporter.Report(events.AgentError{Message: err.Error(), Fatal: true})
	return err
}

func (c *Coordinator) publish(ctx context.Context) {
	evs, err := c.publisher.Publish(ctx, c.mission)
	if err != nil {
		holonlog.Warn("publish failed", "mission_id", c.mission.ID, "error", err)
		c.reporter.Report(events.AgentError{Message: fmt.Sprintf("publish failed: %v", err)})
		return
	}
	for _, ev := range evs {
		c.reporter.Report(ev)
	}
}

func (c *Coordinator) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), c.drainTimeout)
	defer cancel()
	if err := c.reporter.Drain(ctx); err != nil {
		holonlog.Warn("events not fully delivered", "mission_id", c.mission.ID, "error", err)
	}
}
