// Package session is the boundary between the coordinator and the agent
// runtime that actually drives the model.
package session

import (
	"context"
	"iter"

	"github.com/holon-run/mission/pkg/events"
	"github.com/holon-run/mission/pkg/queue"
)

// Session runs prompts against an agent runtime. Prompt returns the events
// produced while handling text; the sequence ends when the runtime is idle
// again. Cancelling ctx must stop the in-flight generation. A non-nil error
// in the sequence is terminal for that prompt.
type Session interface {
	Prompt(ctx context.Context, text string, behavior queue.Behavior) iter.Seq2[events.Event, error]
}
