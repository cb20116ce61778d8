// Package queue pulls work items for a mission from the Gateway and
// acknowledges them.
package queue

import (
	"fmt"
	"strings"
	"time"
)

// Behavior dictates how a message interacts with in-flight work.
type Behavior string

const (
	// BehaviorSteer interrupts the current generation and substitutes new direction.
	BehaviorSteer Behavior = "steer"
	// BehaviorFollowUp runs after the current unit of work completes.
	BehaviorFollowUp Behavior = "followUp"
	// BehaviorAbort cancels the mission's in-flight work.
	BehaviorAbort Behavior = "abort"
)

// Valid reports whether b is one of the known behaviors.
func (b Behavior) Valid() bool {
	switch b {
	case BehaviorSteer, BehaviorFollowUp, BehaviorAbort:
		return true
	}
	return false
}

// AckStatus is an acknowledgment state visible to the Gateway.
type AckStatus string

const (
	AckDelivered AckStatus = "delivered"
	AckProcessed AckStatus = "processed"
)

// Message is a work item queued by the Gateway.
type Message struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Behavior   Behavior `json:"behavior"`
	SenderID   string   `json:"senderId"`
	SenderName string   `json:"senderName"`
	// SenderEmail is optional; senders without one cannot be credited as
	// commit co-authors.
	SenderEmail string    `json:"senderEmail,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Sender returns a display name for the author of m.
func (m Message) Sender() string {
	switch {
	case strings.TrimSpace(m.SenderName) != "":
		return strings.TrimSpace(m.SenderName)
	case strings.TrimSpace(m.SenderID) != "":
		return strings.TrimSpace(m.SenderID)
	default:
		return "unknown"
	}
}

// CombinePrompt joins messages into a single prompt, keeping each sender's
// identity attached to their text.
func CombinePrompt(preamble string, msgs []Message) string {
	var b strings.Builder
	if p := strings.TrimSpace(preamble); p != "" {
		b.WriteString(p)
	}
	for _, m := range msgs {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s]: %s", m.Sender(), strings.TrimSpace(m.Text))
	}
	return b.String()
}
