package preflight

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	holonlog "github.com/holon-run/mission/pkg/log"
)

const checkTimeout = 5 * time.Second

// CheckLevel represents the severity level of a preflight check
type CheckLevel int

const (
	// LevelError indicates a critical failure that prevents execution
	LevelError CheckLevel = iota
	// LevelWarn indicates a problem that does not block execution
	LevelWarn
	// LevelInfo indicates informational output
	LevelInfo
)

// CheckResult represents the result of a single preflight check
type CheckResult struct {
	Name    string
	Level   CheckLevel
	Message string
	Error   error
}

// Check represents a single preflight check
type Check interface {
	Name() string
	Run(ctx context.Context) CheckResult
}

// Pinger is satisfied by the Docker client wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs a collection of preflight checks
type Checker struct {
	checks  []Check
	skipped bool
	quiet   bool
}

// Config selects which checks run. Zero-valued fields disable their check.
type Config struct {
	Skip  bool
	Quiet bool
	// Docker is pinged when services need containers.
	Docker Pinger
	// Workspace must exist and be a directory.
	Workspace string
	// StatusDir must be creatable and writable.
	StatusDir string
	// AgentCommand's executable must resolve on PATH.
	AgentCommand []string
	// GatewayURL is probed best-effort; failures only warn.
	GatewayURL string
	// GitHubRepo without GitHubToken warns that publishing will fail.
	GitHubRepo  string
	GitHubToken string
}

// NewChecker creates a new preflight checker with the given configuration
func NewChecker(cfg Config) *Checker {
	c := &Checker{skipped: cfg.Skip, quiet: cfg.Quiet}
	if cfg.Workspace != "" {
		c.checks = append(c.checks, &WorkspaceCheck{Path: cfg.Workspace})
	}
	if cfg.StatusDir != "" {
		c.checks = append(c.checks, &StatusDirCheck{Path: cfg.StatusDir})
	}
	if cfg.Docker != nil {
		c.checks = append(c.checks, &DockerCheck{Client: cfg.Docker})
	}
	if len(cfg.AgentCommand) > 0 {
		c.checks = append(c.checks, &AgentCommandCheck{Command: cfg.AgentCommand})
	}
	if cfg.GatewayURL != "" {
		c.checks = append(c.checks, &GatewayCheck{URL: cfg.GatewayURL})
	}
	if cfg.GitHubRepo != "" {
		c.checks = append(c.checks, &GitHubTokenCheck{Repo: cfg.GitHubRepo, Token: cfg.GitHubToken})
	}
	return c
}

// Checks returns the registered checks in run order.
func (c *Checker) Checks() []Check {
	return c.checks
}

// Run executes all registered checks and returns an error if any critical checks fail
func (c *Checker) Run(ctx context.Context) error {
	if c.skipped {
		holonlog.Info("preflight checks skipped")
		return nil
	}

	holonlog.Progress("running preflight checks")

	var failures []string
	warnings := 0
	for _, check := range c.checks {
		result := check.Run(ctx)
		switch result.Level {
		case LevelError:
			holonlog.Error("preflight check failed", "check", result.Name, "message", result.Message)
			msg := fmt.Sprintf("%s: %s", result.Name, result.Message)
			if result.Error != nil {
				msg = fmt.Sprintf("%s (%v)", msg, result.Error)
			}
			failures = append(failures, msg)
		case LevelWarn:
			holonlog.Warn("preflight check warning", "check", result.Name, "message", result.Message)
			warnings++
		case LevelInfo:
			if !c.quiet {
				holonlog.Info("preflight check", "check", result.Name, "message", result.Message)
			}
		}
	}

	if warnings > 0 {
		holonlog.Info("preflight warnings", "count", warnings)
	}
	if len(failures) > 0 {
		return fmt.Errorf("preflight checks failed:\n  - %s", strings.Join(failures, "\n  - "))
	}

	holonlog.Progress("preflight checks passed")
	return nil
}

// WorkspaceCheck checks that the workspace directory exists
type WorkspaceCheck struct {
	Path string
}

func (c *WorkspaceCheck) Name() string {
	return "workspace"
}

func (c *WorkspaceCheck) Run(ctx context.Context) CheckResult {
	info, err := os.Stat(c.Path)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("workspace not accessible: %s", c.Path),
			Error:   err,
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("workspace is not a directory: %s", c.Path),
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("workspace is accessible: %s", c.Path),
	}
}

// StatusDirCheck checks that setup status can be written
type StatusDirCheck struct {
	Path string
}

func (c *StatusDirCheck) Name() string {
	return "status-dir"
}

func (c *StatusDirCheck) Run(ctx context.Context) CheckResult {
	if err := os.MkdirAll(c.Path, 0o755); err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("cannot create status directory: %s", c.Path),
			Error:   err,
		}
	}
	probe := filepath.Join(c.Path, fmt.Sprintf(".mission-write-test-%d", os.Getpid()))
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("status directory is not writable: %s", c.Path),
			Error:   err,
		}
	}
	_ = os.Remove(probe)
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("status directory is writable: %s", c.Path),
	}
}

// DockerCheck checks that the Docker daemon is reachable
type DockerCheck struct {
	Client Pinger
}

func (c *DockerCheck) Name() string {
	return "docker"
}

func (c *DockerCheck) Run(ctx context.Context) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.Client.Ping(checkCtx); err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "docker daemon is not running or not accessible",
			Error:   err,
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: "docker daemon is reachable",
	}
}

// AgentCommandCheck checks that the agent executable can be found
type AgentCommandCheck struct {
	Command []string
}

func (c *AgentCommandCheck) Name() string {
	return "agent-command"
}

func (c *AgentCommandCheck) Run(ctx context.Context) CheckResult {
	path, err := exec.LookPath(c.Command[0])
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("agent command not found: %s", c.Command[0]),
			Error:   err,
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("agent command resolved to %s", path),
	}
}

// GatewayCheck performs a best-effort reachability probe of the Gateway.
// Any HTTP response counts as reachable; only transport errors warn.
type GatewayCheck struct {
	URL string
}

func (c *GatewayCheck) Name() string {
	return "gateway"
}

func (c *GatewayCheck) Run(ctx context.Context) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, c.URL, nil)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: "failed to create gateway check request",
			Error:   err,
		}
	}
	resp, err := (&http.Client{Timeout: checkTimeout}).Do(req)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: "gateway may be unreachable (events will be retried)",
			Error:   err,
		}
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		holonlog.Debug("failed to drain response body", "error", err)
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("gateway answered with HTTP %d", resp.StatusCode),
	}
}

// GitHubTokenCheck warns when a repository is configured without a token
type GitHubTokenCheck struct {
	Repo  string
	Token string
}

func (c *GitHubTokenCheck) Name() string {
	return "github-token"
}

func (c *GitHubTokenCheck) Run(ctx context.Context) CheckResult {
	if strings.TrimSpace(c.Token) == "" {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: fmt.Sprintf("no GitHub token for %s; set GH_TOKEN or GITHUB_TOKEN to publish a pull request", c.Repo),
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: "GitHub token is configured",
	}
}
