package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(ctx context.Context) error {
	return p.err
}

func TestWorkspaceCheck(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want CheckLevel
	}{
		{"directory", dir, LevelInfo},
		{"missing", filepath.Join(dir, "nope"), LevelError},
		{"file", file, LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := (&WorkspaceCheck{Path: tt.path}).Run(context.Background())
			if result.Level != tt.want {
				t.Errorf("level = %d, want %d (%s)", result.Level, tt.want, result.Message)
			}
			if result.Name != "workspace" {
				t.Errorf("name = %q", result.Name)
			}
		})
	}
}

func TestStatusDirCheck(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws", ".mission")
	result := (&StatusDirCheck{Path: dir}).Run(context.Background())
	if result.Level != LevelInfo {
		t.Fatalf("level = %d, want info (%s: %v)", result.Level, result.Message, result.Error)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}
}

func TestStatusDirCheckParentIsFile(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(parent, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	result := (&StatusDirCheck{Path: filepath.Join(parent, ".mission")}).Run(context.Background())
	if result.Level != LevelError {
		t.Errorf("level = %d, want error", result.Level)
	}
}

func TestDockerCheck(t *testing.T) {
	ok := (&DockerCheck{Client: fakePinger{}}).Run(context.Background())
	if ok.Level != LevelInfo {
		t.Errorf("reachable daemon: level = %d", ok.Level)
	}
	down := (&DockerCheck{Client: fakePinger{err: errors.New("connection refused")}}).Run(context.Background())
	if down.Level != LevelError || down.Error == nil {
		t.Errorf("unreachable daemon: %+v", down)
	}
}

func TestAgentCommandCheck(t *testing.T) {
	found := (&AgentCommandCheck{Command: []string{"sh", "-c", "true"}}).Run(context.Background())
	if found.Level != LevelInfo {
		t.Errorf("sh: level = %d (%v)", found.Level, found.Error)
	}
	missing := (&AgentCommandCheck{Command: []string{"definitely-not-an-agent-binary"}}).Run(context.Background())
	if missing.Level != LevelError {
		t.Errorf("missing binary: level = %d", missing.Level)
	}
}

func TestGatewayCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	result := (&GatewayCheck{URL: srv.URL}).Run(context.Background())
	if result.Level != LevelInfo {
		t.Errorf("any HTTP answer should pass, got level %d (%s)", result.Level, result.Message)
	}

	srv.Close()
	result = (&GatewayCheck{URL: srv.URL}).Run(context.Background())
	if result.Level != LevelWarn {
		t.Errorf("closed server: level = %d, want warn", result.Level)
	}
}

func TestGitHubTokenCheck(t *testing.T) {
	if r := (&GitHubTokenCheck{Repo: "acme/app"}).Run(context.Background()); r.Level != LevelWarn {
		t.Errorf("missing token: level = %d", r.Level)
	}
	if r := (&GitHubTokenCheck{Repo: "acme/app", Token: "t"}).Run(context.Background()); r.Level != LevelInfo {
		t.Errorf("token set: level = %d", r.Level)
	}
}

func TestNewCheckerSelectsChecks(t *testing.T) {
	c := NewChecker(Config{
		Workspace:    "/ws",
		StatusDir:    "/ws/.mission",
		Docker:       fakePinger{},
		AgentCommand: []string{"agent"},
		GitHubRepo:   "acme/app",
	})
	var names []string
	for _, check := range c.Checks() {
		names = append(names, check.Name())
	}
	want := "workspace,status-dir,docker,agent-command,github-token"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("checks = %s, want %s", got, want)
	}

	if n := len(NewChecker(Config{}).Checks()); n != 0 {
		t.Errorf("empty config registered %d checks", n)
	}
}

func TestCheckerRun(t *testing.T) {
	dir := t.TempDir()

	t.Run("passes with warnings", func(t *testing.T) {
		c := NewChecker(Config{Workspace: dir, GitHubRepo: "acme/app", Quiet: true})
		if err := c.Run(context.Background()); err != nil {
			t.Fatalf("Run() = %v", err)
		}
	})

	t.Run("collects errors", func(t *testing.T) {
		c := NewChecker(Config{
			Workspace: filepath.Join(dir, "missing"),
			Docker:    fakePinger{err: errors.New("down")},
		})
		err := c.Run(context.Background())
		if err == nil {
			t.Fatal("expected error")
		}
		for _, want := range []string{"workspace:", "docker:", "down"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("error %q missing %q", err, want)
			}
		}
	})

	t.Run("skipped", func(t *testing.T) {
		c := NewChecker(Config{Skip: true, Workspace: filepath.Join(dir, "missing")})
		if err := c.Run(context.Background()); err != nil {
			t.Errorf("skipped checker returned %v", err)
		}
	})
}
