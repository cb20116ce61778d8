package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/holon-run/mission/pkg/gateway"
	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/holon-run/mission/pkg/logs/redact"
	"github.com/holon-run/mission/pkg/telemetry"
	"golang.org/x/time/rate"
)

const maxQueueBody = 4 << 20

// ClientConfig configures a Client.
type ClientConfig struct {
	Sender    gateway.Sender
	Endpoints gateway.Endpoints
	// MinInterval spaces out consecutive fetches. Zero disables the limit.
	MinInterval time.Duration
	Redactor    *redact.Redactor
}

// Client polls the Gateway for pending messages. Every failure degrades to an
// empty result or a false acknowledgment; nothing is raised to the caller.
type Client struct {
	sender    gateway.Sender
	endpoints gateway.Endpoints
	limiter   *rate.Limiter
	redactor  *redact.Redactor
}

// NewClient creates a queue client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if cfg.Endpoints.MissionID() == "" {
		return nil, fmt.Errorf("endpoints are required")
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Client{
		sender:    cfg.Sender,
		endpoints: cfg.Endpoints,
		limiter:   rate.NewLimiter(limit, 1),
		redactor:  cfg.Redactor,
	}, nil
}

type fetchResponse struct {
	Messages []Message `json:"messages"`
}

// FetchPendingMessages returns the messages the Gateway has queued for this
// mission, in Gateway order. Transport errors, non-2xx responses and
// malformed bodies all yield an empty slice.
func (c *Client) FetchPendingMessages(ctx context.Context) []Message {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil
	}

	resp, err := c.sender.Send(ctx, http.MethodGet, c.endpoints.Queue(), []byte(c.endpoints.MissionID()))
	if err != nil {
		telemetry.RecordQueueFetch(ctx, "error")
		holonlog.Warn("queue fetch failed", "mission_id", c.endpoints.MissionID(), "error", c.redactor.String(err.Error()))
		return nil
	}
	defer gateway.Drain(resp)

	if err := gateway.CheckResponse(resp); err != nil {
		telemetry.RecordQueueFetch(ctx, "error")
		holonlog.Warn("queue fetch rejected", "mission_id", c.endpoints.MissionID(), "error", c.redactor.String(err.Error()))
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxQueueBody))
	if err != nil {
		telemetry.RecordQueueFetch(ctx, "error")
		holonlog.Warn("queue fetch read failed", "mission_id", c.endpoints.MissionID(), "error", err)
		return nil
	}
	var body fetchResponse
	if err := json.Unmarshal(data, &body); err != nil {
		telemetry.RecordQueueFetch(ctx, "error")
		holonlog.Warn("queue fetch returned malformed body", "mission_id", c.endpoints.MissionID(), "error", err)
		return nil
	}

	msgs := make([]Message, 0, len(body.Messages))
	for _, m := range body.Messages {
		if m.ID == "" {
			holonlog.Warn("skipping queued message without id", "mission_id", c.endpoints.MissionID())
			continue
		}
		if !m.Behavior.Valid() {
			holonlog.Warn("unknown message behavior; treating as followUp", "message_id", m.ID, "behavior", m.Behavior)
			m.Behavior = BehaviorFollowUp
		}
		msgs = append(msgs, m)
	}

	outcome := "ok"
	if len(msgs) == 0 {
		outcome = "empty"
	}
	telemetry.RecordQueueFetch(ctx, outcome)
	return msgs
}

// MarkDelivered tells the Gateway the message was handed to the session.
func (c *Client) MarkDelivered(ctx context.Context, id string) bool {
	return c.ack(ctx, id, AckDelivered)
}

// MarkProcessed tells the Gateway the session finished acting on the message.
func (c *Client) MarkProcessed(ctx context.Context, id string) bool {
	return c.ack(ctx, id, AckProcessed)
}

func (c *Client) ack(ctx context.Context, id string, status AckStatus) bool {
	body, err := json.Marshal(map[string]AckStatus{"status": status})
	if err != nil {
		return false
	}

	ok := false
	defer func() { telemetry.RecordQueueAck(ctx, string(status), ok) }()

	resp, err := c.sender.Send(ctx, http.MethodPost, c.endpoints.QueueMessage(id), body)
	if err != nil {
		holonlog.Warn("queue ack failed", "message_id", id, "status", status, "error", c.redactor.String(err.Error()))
		return false
	}
	defer gateway.Drain(resp)

	if err := gateway.CheckResponse(resp); err != nil {
		holonlog.Warn("queue ack rejected", "message_id", id, "status", status, "error", c.redactor.String(err.Error()))
		return false
	}
	ok = true
	return true
}
