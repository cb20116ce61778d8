package coordinator

import (
	"context"
	"errors"
	"sync"

	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/holon-run/mission/pkg/telemetry"
)

// ErrAborted is the cancellation cause once a mission is aborted.
var ErrAborted = errors.New("mission aborted")

// Source names what triggered an abort.
type Source string

const (
	SourceSignal Source = "signal"
	SourceQueue  Source = "queue"
)

// Canceller merges the abort signal file and queue abort messages into one
// cancellation. The first trigger wins; later ones are ignored.
type Canceller struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	source Source
}

// NewCanceller derives the mission context from parent.
func NewCanceller(parent context.Context) *Canceller {
	ctx, cancel := context.WithCancelCause(parent)
	return &Canceller{ctx: ctx, cancel: cancel}
}

// Context is cancelled with ErrAborted when the mission is aborted.
func (c *Canceller) Context() context.Context {
	return c.ctx
}

// Cancel aborts the mission on behalf of src. It reports whether this call
// was the one that took effect; only that call is counted as an abort.
func (c *Canceller) Cancel(src Source) bool {
	c.mu.Lock()
	if c.source != "" {
		first := c.source
		c.mu.Unlock()
		holonlog.Debug("abort already triggered", "source", src, "first", first)
		return false
	}
	c.source = src
	c.mu.Unlock()

	c.cancel(ErrAborted)
	telemetry.RecordAbort(context.Background(), string(src))
	return true
}

// Aborted reports whether Cancel took effect.
func (c *Canceller) Aborted() bool {
	_, ok := c.Source()
	return ok
}

// Source returns the winning trigger.
func (c *Canceller) Source() (Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source, c.source != ""
}

// Release frees the context's resources without marking an abort.
func (c *Canceller) Release() {
	c.cancel(context.Canceled)
}
