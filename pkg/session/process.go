package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/holon-run/mission/pkg/events"
	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/holon-run/mission/pkg/queue"
)

// EnvPromptBehavior carries the message behavior to the agent command.
const EnvPromptBehavior = "MISSION_PROMPT_BEHAVIOR"

// waitDelay bounds how long Wait lingers on pipes held open by orphaned
// children after the agent is killed.
const waitDelay = 5 * time.Second

// endGrace is how long the agent may keep running after agent:end before its
// process group is killed.
const endGrace = 2 * time.Second

// ProcessConfig configures a Process session.
type ProcessConfig struct {
	// Command is the agent executable and its arguments.
	Command []string
	// Dir is the working directory, usually the mission workspace.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// Stderr receives the agent's stderr. Defaults to os.Stderr.
	Stderr io.Writer
}

// Process runs the agent command once per prompt. The prompt is written to
// stdin and events are read from stdout, one JSON object per line.
type Process struct {
	command []string
	dir     string
	env     []string
	stderr  io.Writer
}

// NewProcess validates cfg and returns a Process session.
func NewProcess(cfg ProcessConfig) (*Process, error) {
	if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
		return nil, fmt.Errorf("agent command is required")
	}
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Process{
		command: append([]string(nil), cfg.Command...),
		dir:     cfg.Dir,
		env:     append([]string(nil), cfg.Env...),
		stderr:  stderr,
	}, nil
}

// Prompt starts the agent command and yields its events. Lines that are not
// events are logged and skipped. The sequence ends after agent:end or when
// stdout closes; a non-zero exit is yielded as an error.
//
// The agent runs in its own process group. Cancelling ctx, or the consumer
// stopping early, kills the whole group and closes stdout, so children that
// inherited the pipe cannot keep the prompt alive. Whatever is left of the
// group once the prompt is over is killed as well.
func (p *Process) Prompt(ctx context.Context, text string, behavior queue.Behavior) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		stdout, stdoutW, err := os.Pipe()
		if err != nil {
			yield(nil, fmt.Errorf("failed to create agent stdout pipe: %w", err))
			return
		}
		defer stdout.Close()

		cmd := exec.CommandContext(runCtx, p.command[0], p.command[1:]...)
		cmd.Dir = p.dir
		cmd.Env = append(append(os.Environ(), p.env...), EnvPromptBehavior+"="+string(behavior))
		cmd.Stdin = strings.NewReader(text)
		cmd.Stdout = stdoutW
		cmd.Stderr = p.stderr
		cmd.WaitDelay = waitDelay
		setProcessGroup(cmd)
		cmd.Cancel = func() error {
			return killProcessGroup(cmd.Process.Pid)
		}

		err = cmd.Start()
		// The child holds its own copy of the write end.
		_ = stdoutW.Close()
		if err != nil {
			yield(nil, fmt.Errorf("failed to start agent command: %w", err))
			return
		}
		pid := cmd.Process.Pid
		defer func() { _ = killProcessGroup(pid) }()
		holonlog.Debug("agent command started", "pid", pid, "behavior", behavior)

		// Unblocks the scanner when the prompt is cancelled.
		stopClose := context.AfterFunc(runCtx, func() { _ = stdout.Close() })
		defer stopClose()

		scanner := bufio.NewScanner(stdout)
		// Tool output can make a single event line large.
		scanner.Buffer(make([]byte, 0, 128*1024), 10*1024*1024)

		ended := false
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			ev, err := events.DecodeLine([]byte(line))
			if err != nil {
				holonlog.Debug("ignoring agent output line", "error", err)
				continue
			}
			if !yield(ev, nil) {
				cancel()
				_ = cmd.Wait()
				return
			}
			if ev.EventType() == events.TypeAgentEnd {
				ended = true
				break
			}
		}
		scanErr := scanner.Err()
		if ended {
			// Keep the pipe readable so late writes do not SIGPIPE the agent;
			// the deferred Close ends this once the group is gone.
			go func() { _, _ = io.Copy(io.Discard, stdout) }()
		} else if scanErr != nil {
			cancel()
		}

		waitErr := waitAgent(cmd, cancel, ended)
		switch {
		case ctx.Err() != nil:
			yield(nil, ctx.Err())
		case scanErr != nil:
			yield(nil, fmt.Errorf("failed to read agent output: %w", scanErr))
		case waitErr != nil:
			yield(nil, fmt.Errorf("agent command failed: %w", waitErr))
		}
	}
}

// waitAgent waits for the agent to exit. After agent:end it allows endGrace
// before killing the group; an exit forced that way is not an error.
func waitAgent(cmd *exec.Cmd, cancel context.CancelFunc, ended bool) error {
	if !ended {
		return cmd.Wait()
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(endGrace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		holonlog.Debug("agent still running after agent:end, killing", "pid", cmd.Process.Pid)
		cancel()
		<-done
		return nil
	}
}
