package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testMissionID = "3f2b8c1e-6d0a-4e57-9b1c-2a7d4f9e8c01"

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{LookupEnv: envMap(nil)})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workspace != DefaultWorkspace {
		t.Errorf("Workspace = %q", cfg.Workspace)
	}
	if cfg.AbortFile != DefaultAbortFile {
		t.Errorf("AbortFile = %q", cfg.AbortFile)
	}
	if cfg.AbortPoll != time.Second {
		t.Errorf("AbortPoll = %v", cfg.AbortPoll)
	}
	if cfg.GitHub.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q", cfg.GitHub.BaseBranch)
	}
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mission.yaml")
	content := `gateway_url: http://from-file
workspace: /srv/ws
queue_min_interval: 2s
services: [postgres]
creator:
  name: File Person
`
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(LoadOptions{
		File: file,
		LookupEnv: envMap(map[string]string{
			EnvGatewayURL:   "https://gw.example",
			EnvServices:     "postgres, redis",
			EnvAgentCommand: "agent --mode json",
			"GH_TOKEN":      "gh-token",
		}),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GatewayURL != "https://gw.example" {
		t.Errorf("env should override file, got %q", cfg.GatewayURL)
	}
	if cfg.Workspace != "/srv/ws" {
		t.Errorf("Workspace = %q", cfg.Workspace)
	}
	if cfg.QueueMinInterval != 2*time.Second {
		t.Errorf("QueueMinInterval = %v", cfg.QueueMinInterval)
	}
	if len(cfg.Services) != 2 || cfg.Services[1] != "redis" {
		t.Errorf("Services = %v", cfg.Services)
	}
	if len(cfg.AgentCommand) != 3 || cfg.AgentCommand[0] != "agent" {
		t.Errorf("AgentCommand = %v", cfg.AgentCommand)
	}
	if cfg.Creator.Name != "File Person" {
		t.Errorf("Creator.Name = %q", cfg.Creator.Name)
	}
	if cfg.GitHub.Token != "gh-token" {
		t.Errorf("GitHub.Token = %q", cfg.GitHub.Token)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("MISSION_TEST_DOTENV_ONLY=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("MISSION_TEST_DOTENV_ONLY") })

	if _, err := Load(LoadOptions{DotEnv: []string{envFile, filepath.Join(dir, "missing.env")}}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := os.Getenv("MISSION_TEST_DOTENV_ONLY"); got != "from-dotenv" {
		t.Errorf("dotenv value = %q", got)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	_, err := Load(LoadOptions{LookupEnv: envMap(map[string]string{EnvQueueMinInterval: "soon"})})
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.GatewayURL = "https://gw.example"
	valid.Secret = "secret"
	valid.MissionID = testMissionID

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		notConf bool
	}{
		{"valid", func(*Config) {}, false, false},
		{"missing secret", func(c *Config) { c.Secret = "" }, true, true},
		{"missing everything", func(c *Config) { c.GatewayURL, c.Secret, c.MissionID = "", "", "" }, true, true},
		{"bad scheme", func(c *Config) { c.GatewayURL = "ftp://gw" }, true, false},
		{"not a url", func(c *Config) { c.GatewayURL = "gw.example" }, true, false},
		{"bad mission id", func(c *Config) { c.MissionID = "mission-1" }, true, false},
		{"bad repo", func(c *Config) { c.GitHub.Repo = "just-a-name" }, true, false},
		{"good repo", func(c *Config) { c.GitHub.Repo = "acme/app" }, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrNotConfigured) != tt.notConf {
				t.Errorf("errors.Is(ErrNotConfigured) = %v, want %v", errors.Is(err, ErrNotConfigured), tt.notConf)
			}
		})
	}
}

func TestStatusPath(t *testing.T) {
	got := StatusPath("/workspace")
	want := filepath.Join("/workspace", ".mission", "setup-status.json")
	if got != want {
		t.Errorf("StatusPath() = %q, want %q", got, want)
	}
}

func TestGitHubEnabled(t *testing.T) {
	if (GitHub{Token: "t", Repo: "a/b"}).Enabled() {
		t.Error("Enabled() without branch should be false")
	}
	if !(GitHub{Token: "t", Repo: "a/b", Branch: "mission/x"}).Enabled() {
		t.Error("Enabled() should be true")
	}
}
