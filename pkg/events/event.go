// Package events defines the mission event stream and delivers it to the Gateway.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the wire discriminator of an event.
type Type string

const (
	TypeAgentStart       Type = "agent:start"
	TypeAgentEnd         Type = "agent:end"
	TypeAgentError       Type = "agent:error"
	TypeMessageStart     Type = "message:start"
	TypeMessageDelta     Type = "message:delta"
	TypeMessageEnd       Type = "message:end"
	TypeToolStart        Type = "tool:start"
	TypeToolUpdate       Type = "tool:update"
	TypeToolEnd          Type = "tool:end"
	TypeSystemCompaction Type = "system:compaction"
	TypePRCreated        Type = "pr:created"
	TypePRStatus         Type = "pr:status"
)

// Event is one of the concrete event structs in this package. The set is closed.
type Event interface {
	EventType() Type
	isEvent()
}

// AgentStart marks the beginning of a prompt run.
type AgentStart struct {
	Prompt   string `json:"prompt,omitempty"`
	Behavior string `json:"behavior,omitempty"`
}

// AgentEnd marks the session becoming idle.
type AgentEnd struct {
	Reason string `json:"reason,omitempty"`
}

// AgentError reports a session failure.
type AgentError struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// MessageStart opens an assistant message.
type MessageStart struct {
	MessageID string `json:"messageId"`
	Role      string `json:"role,omitempty"`
}

// MessageDelta carries a text fragment. Seq increases by one per MessageID
// starting at 1, letting the Gateway merge redelivered deltas idempotently.
type MessageDelta struct {
	MessageID string `json:"messageId"`
	Seq       int64  `json:"seq"`
	Delta     string `json:"delta"`
}

// MessageEnd closes an assistant message.
type MessageEnd struct {
	MessageID  string `json:"messageId"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stopReason,omitempty"`
}

// ToolStart reports a tool invocation.
type ToolStart struct {
	ToolCallID string          `json:"toolCallId"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// ToolUpdate reports partial tool output.
type ToolUpdate struct {
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name,omitempty"`
	Output     string `json:"output"`
}

// ToolEnd reports a finished tool invocation.
type ToolEnd struct {
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name,omitempty"`
	Result     string `json:"result,omitempty"`
	IsError    bool   `json:"isError,omitempty"`
}

// SystemCompaction reports that the session compacted its context.
type SystemCompaction struct {
	Reason       string `json:"reason,omitempty"`
	TokensBefore int    `json:"tokensBefore,omitempty"`
	TokensAfter  int    `json:"tokensAfter,omitempty"`
}

// PRCreated reports a newly opened pull request.
type PRCreated struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Head   string `json:"head,omitempty"`
	Base   string `json:"base,omitempty"`
}

// PRStatus reports the state of an existing pull request.
type PRStatus struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	State  string `json:"state"`
}

func (AgentStart) EventType() Type       { return TypeAgentStart }
func (AgentEnd) EventType() Type         { return TypeAgentEnd }
func (AgentError) EventType() Type       { return TypeAgentError }
func (MessageStart) EventType() Type     { return TypeMessageStart }
func (MessageDelta) EventType() Type     { return TypeMessageDelta }
func (MessageEnd) EventType() Type       { return TypeMessageEnd }
func (ToolStart) EventType() Type        { return TypeToolStart }
func (ToolUpdate) EventType() Type       { return TypeToolUpdate }
func (ToolEnd) EventType() Type          { return TypeToolEnd }
func (SystemCompaction) EventType() Type { return TypeSystemCompaction }
func (PRCreated) EventType() Type        { return TypePRCreated }
func (PRStatus) EventType() Type         { return TypePRStatus }

func (AgentStart) isEvent()       {}
func (AgentEnd) isEvent()         {}
func (AgentError) isEvent()       {}
func (MessageStart) isEvent()     {}
func (MessageDelta) isEvent()     {}
func (MessageEnd) isEvent()       {}
func (ToolStart) isEvent()        {}
func (ToolUpdate) isEvent()       {}
func (ToolEnd) isEvent()          {}
func (SystemCompaction) isEvent() {}
func (PRCreated) isEvent()        {}
func (PRStatus) isEvent()         {}

// Envelope is the wire form of an event as POSTed to the Gateway.
// ID, MissionID and Timestamp are assigned when the event is enqueued.
type Envelope struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	MissionID string    `json:"missionId"`
	Timestamp time.Time `json:"timestamp"`
	Data      Event     `json:"data"`
}

// UnmarshalJSON decodes Data into the concrete struct named by Type.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Type      Type            `json:"type"`
		MissionID string          `json:"missionId"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	data, err := Decode(raw.Type, raw.Data)
	if err != nil {
		return err
	}
	*e = Envelope{ID: raw.ID, Type: raw.Type, MissionID: raw.MissionID, Timestamp: raw.Timestamp, Data: data}
	return nil
}

// Decode builds the concrete event for typ from its JSON payload. An empty
// payload yields the zero value of the struct.
func Decode(typ Type, data json.RawMessage) (Event, error) {
	var ev Event
	switch typ {
	case TypeAgentStart:
		ev = &AgentStart{}
	case TypeAgentEnd:
		ev = &AgentEnd{}
	case TypeAgentError:
		ev = &AgentError{}
	case TypeMessageStart:
		ev = &MessageStart{}
	case TypeMessageDelta:
		ev = &MessageDelta{}
	case TypeMessageEnd:
		ev = &MessageEnd{}
	case TypeToolStart:
		ev = &ToolStart{}
	case TypeToolUpdate:
		ev = &ToolUpdate{}
	case TypeToolEnd:
		ev = &ToolEnd{}
	case TypeSystemCompaction:
		ev = &SystemCompaction{}
	case TypePRCreated:
		ev = &PRCreated{}
	case TypePRStatus:
		ev = &PRStatus{}
	default:
		return nil, fmt.Errorf("unknown event type %q", typ)
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", typ, err)
		}
	}
	return deref(ev), nil
}

// DecodeLine decodes one NDJSON line of the form {"type": ..., "data": {...}}.
func DecodeLine(line []byte) (Event, error) {
	var raw struct {
		Type Type            `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("invalid event line: %w", err)
	}
	return Decode(raw.Type, raw.Data)
}

// deref returns the value form so callers can type-switch on plain structs.
func deref(ev Event) Event {
	switch v := ev.(type) {
	case *AgentStart:
		return *v
	case *AgentEnd:
		return *v
	case *AgentError:
		return *v
	case *MessageStart:
		return *v
	case *MessageDelta:
		return *v
	case *MessageEnd:
		return *v
	case *ToolStart:
		return *v
	case *ToolUpdate:
		return *v
	case *ToolEnd:
		return *v
	case *SystemCompaction:
		return *v
	case *PRCreated:
		return *v
	case *PRStatus:
		return *v
	}
	return ev
}
