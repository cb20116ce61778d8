// Package setupwait polls the setup status document until setup finishes or
// a deadline passes.
package setupwait

import (
	"context"
	"errors"
	"fmt"
	"time"

	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/holon-run/mission/pkg/status"
)

// DefaultPollInterval is the gap between status reads.
const DefaultPollInterval = 500 * time.Millisecond

var (
	// ErrTimeout means no terminal status was observed before the deadline.
	ErrTimeout = errors.New("timed out waiting for setup")
	// ErrSetupFailed wraps the error carried by a failed status.
	ErrSetupFailed = errors.New("setup failed")
)

// Outcome is one of the three terminal results of a wait.
type Outcome int

const (
	OutcomeReady Outcome = iota
	OutcomeFailed
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeFailed:
		return "failed"
	default:
		return "timeout"
	}
}

// ExitCode maps the outcome to the process exit status: 0 ready, 1 failed,
// 2 timeout.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeReady:
		return 0
	case OutcomeFailed:
		return 1
	default:
		return 2
	}
}

// Result is what Wait observed.
type Result struct {
	Outcome Outcome
	// Status is the last document read; nil if none was ever seen.
	Status *status.SetupStatus
	// Err is nil on success, wraps ErrSetupFailed or ErrTimeout otherwise.
	Err error
}

// Options tunes Wait.
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// Wait polls store until the status is ready or failed, or until the
// timeout (or ctx) ends. An absent or malformed document counts as running.
func Wait(ctx context.Context, store *status.Store, opts Options) Result {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last     *status.SetupStatus
		lastStep string
		seen     bool
	)
	for {
		st, err := store.Read()
		if err != nil {
			holonlog.Debug("setup status read failed", "path", store.Path(), "error", err)
		}
		if st != nil {
			last = st
			switch st.Status {
			case status.StateReady:
				holonlog.Info("setup ready", "services", len(st.Services))
				return Result{Outcome: OutcomeReady, Status: st}
			case status.StateFailed:
				msg := st.Error
				if msg == "" {
					msg = "no error reported"
				}
				return Result{Outcome: OutcomeFailed, Status: st, Err: fmt.Errorf("%w: %s", ErrSetupFailed, msg)}
			}
			if !seen || st.Step != lastStep {
				seen = true
				lastStep = st.Step
				if st.Step != "" {
					holonlog.Progress("setup in progress", "step", st.Step)
				}
			}
		}

		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeTimeout, Status: last, Err: fmt.Errorf("%w after %s", ErrTimeout, opts.Timeout)}
		case <-ticker.C:
		}
	}
}
