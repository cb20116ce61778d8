// Package provision implements the setup process: it brings up the
// workspace's dependencies and publishes progress through the status file.
package provision

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"time"

	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/holon-run/mission/pkg/status"
	"golang.org/x/sync/errgroup"
)

// Installer provisions one dependency.
type Installer interface {
	Name() string
	Install(ctx context.Context) (status.ServiceInstance, map[string]string, error)
}

// DevServer describes an optional long-running development server.
type DevServer struct {
	Command []string
	Port    int
	Dir     string
	// ReadyTimeout defaults to one minute.
	ReadyTimeout time.Duration
}

// Runner drives the status document from running to ready or failed.
type Runner struct {
	writer     *status.Writer
	installers []Installer
	dev        *DevServer
}

// NewRunner returns a Runner writing through w.
func NewRunner(w *status.Writer, installers []Installer, dev *DevServer) *Runner {
	return &Runner{writer: w, installers: installers, dev: dev}
}

// Run installs every dependency concurrently, then starts the dev server.
// Any failure is recorded as the terminal failed status and returned.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.run(ctx); err != nil {
		holonlog.Error("setup failed", "error", err)
		if ferr := r.writer.Fail(err); ferr != nil {
			holonlog.Warn("could not record setup failure", "error", ferr)
		}
		return err
	}
	if err := r.writer.Ready(); err != nil {
		return err
	}
	holonlog.Info("setup ready", "services", len(r.installers))
	return nil
}

func (r *Runner) run(ctx context.Context) error {
	if err := r.writer.Step("starting setup"); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range r.installers {
		g.Go(func() error {
			if err := r.writer.Step("installing " + inst.Name()); err != nil {
				return err
			}
			svc, env, err := inst.Install(gctx)
			if err != nil {
				return fmt.Errorf("install %s: %w", inst.Name(), err)
			}
			holonlog.Info("service ready", "service", svc.Name, "port", svc.Port)
			return r.writer.AddService(svc, env)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if r.dev == nil || len(r.dev.Command) == 0 {
		return nil
	}
	if err := r.writer.Step("starting dev server"); err != nil {
		return err
	}
	pid, err := startDevServer(ctx, r.dev, r.writer.Current().Env)
	if err != nil {
		return err
	}
	return r.writer.SetDevServer(r.dev.Port, pid)
}

// startDevServer launches the command detached from ctx so it outlives the
// setup process, then waits for its port.
func startDevServer(ctx context.Context, dev *DevServer, env map[string]string) (int, error) {
	cmd := exec.Command(dev.Command[0], dev.Command[1:]...)
	cmd.Dir = dev.Dir
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+env[k])
	}
	cmd.Env = append(cmd.Env, "PORT="+strconv.Itoa(dev.Port))

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start dev server: %w", err)
	}
	pid := cmd.Process.Pid
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	timeout := dev.ReadyTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-exited:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(dev.Port))
	if err := waitForPort(waitCtx, addr, timeout); err != nil {
		_ = cmd.Process.Kill()
		return 0, fmt.Errorf("dev server did not listen on %d: %w", dev.Port, err)
	}
	holonlog.Info("dev server listening", "port", dev.Port, "pid", pid)
	return pid, nil
}
