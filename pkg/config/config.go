// Package config resolves the mission configuration shared by the setup and
// agent processes.
//
// Sources are applied in increasing priority: built-in defaults, an optional
// YAML file, an optional dotenv file, then the process environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultWorkspace is where the sandbox mounts the mission workspace.
	DefaultWorkspace = "/workspace"
	// DefaultAbortFile lives outside the workspace so the agent cannot create it by accident.
	DefaultAbortFile = "/tmp/mission-abort"
	// StatusDirName is the workspace-relative directory holding mission bookkeeping files.
	StatusDirName = ".mission"
	// StatusFileName is the setup status document inside StatusDirName.
	StatusFileName = "setup-status.json"

	DefaultQueueMinInterval = 250 * time.Millisecond
	DefaultAbortPoll        = time.Second
	DefaultSetupTimeout     = 60 * time.Second
)

// Environment keys.
const (
	EnvGatewayURL       = "MISSION_GATEWAY_URL"
	EnvSecret           = "MISSION_SECRET"
	EnvMissionID        = "MISSION_ID"
	EnvWorkspace        = "MISSION_WORKSPACE"
	EnvAbortFile        = "MISSION_ABORT_FILE"
	EnvStateDir         = "MISSION_STATE_DIR"
	EnvAgentCommand     = "MISSION_AGENT_COMMAND"
	EnvPrompt           = "MISSION_PROMPT"
	EnvCreatorID        = "MISSION_CREATOR_ID"
	EnvCreatorName      = "MISSION_CREATOR_NAME"
	EnvCreatorEmail     = "MISSION_CREATOR_EMAIL"
	EnvQueueMinInterval = "MISSION_QUEUE_MIN_INTERVAL"
	EnvRepo             = "MISSION_REPO"
	EnvBranch           = "MISSION_BRANCH"
	EnvBaseBranch       = "MISSION_BASE_BRANCH"
	EnvServices         = "MISSION_SERVICES"
	EnvDevCommand       = "MISSION_DEV_COMMAND"
	EnvDevPort          = "MISSION_DEV_PORT"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
)

// ErrNotConfigured is returned by Validate when the Gateway connection is incomplete.
var ErrNotConfigured = errors.New("mission not configured")

// Creator identifies the person who started the mission.
type Creator struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// GitHub holds optional pull-request publishing settings.
type GitHub struct {
	Token      string `yaml:"-"`
	Repo       string `yaml:"repo"` // owner/repo
	Branch     string `yaml:"branch"`
	BaseBranch string `yaml:"base_branch"`
}

// Enabled reports whether enough is configured to open a pull request.
func (g GitHub) Enabled() bool {
	return g.Token != "" && g.Repo != "" && g.Branch != ""
}

// Config is the resolved mission configuration.
type Config struct {
	GatewayURL string `yaml:"gateway_url"`
	Secret     string `yaml:"-"`
	MissionID  string `yaml:"mission_id"`

	Workspace string `yaml:"workspace"`
	AbortFile string `yaml:"abort_file"`
	StateDir  string `yaml:"state_dir"`

	AgentCommand []string `yaml:"agent_command"`
	Prompt       string   `yaml:"prompt"`
	Creator      Creator  `yaml:"creator"`

	QueueMinInterval time.Duration `yaml:"queue_min_interval"`
	AbortPoll        time.Duration `yaml:"abort_poll"`

	// Services lists the dependencies the setup process provisions (e.g. postgres, redis).
	Services   []string `yaml:"services"`
	DevCommand []string `yaml:"dev_command"`
	DevPort    int      `yaml:"dev_port"`

	GitHub GitHub `yaml:"github"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// LoadOptions selects optional file sources.
type LoadOptions struct {
	// File is a YAML config file; missing files are an error when set explicitly.
	File string
	// DotEnv files are loaded into the process environment without overriding
	// variables that are already set. Missing files are skipped.
	DotEnv []string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Workspace:        DefaultWorkspace,
		AbortFile:        DefaultAbortFile,
		QueueMinInterval: DefaultQueueMinInterval,
		AbortPoll:        DefaultAbortPoll,
		GitHub:           GitHub{BaseBranch: "main"},
		LogLevel:         "progress",
		LogFormat:        "console",
	}
}

// Load resolves the configuration from all sources.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", opts.File, err)
		}
	}

	for _, path := range opts.DotEnv {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.Fields(v)
		}
	}

	str(EnvGatewayURL, &c.GatewayURL)
	str(EnvSecret, &c.Secret)
	str(EnvMissionID, &c.MissionID)
	str(EnvWorkspace, &c.Workspace)
	str(EnvAbortFile, &c.AbortFile)
	str(EnvStateDir, &c.StateDir)
	list(EnvAgentCommand, &c.AgentCommand)
	str(EnvPrompt, &c.Prompt)
	str(EnvCreatorID, &c.Creator.ID)
	str(EnvCreatorName, &c.Creator.Name)
	str(EnvCreatorEmail, &c.Creator.Email)
	list(EnvDevCommand, &c.DevCommand)
	str(EnvRepo, &c.GitHub.Repo)
	str(EnvBranch, &c.GitHub.Branch)
	str(EnvBaseBranch, &c.GitHub.BaseBranch)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvLogFormat, &c.LogFormat)

	if v, ok := lookup(EnvServices); ok && strings.TrimSpace(v) != "" {
		c.Services = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Services = append(c.Services, s)
			}
		}
	}

	// Support both GITHUB_TOKEN and GH_TOKEN, preferring GITHUB_TOKEN.
	str("GH_TOKEN", &c.GitHub.Token)
	str("GITHUB_TOKEN", &c.GitHub.Token)

	if v, ok := lookup(EnvQueueMinInterval); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvQueueMinInterval, err)
		}
		c.QueueMinInterval = d
	}
	if v, ok := lookup(EnvDevPort); ok && strings.TrimSpace(v) != "" {
		var port int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &port); err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s: %q", EnvDevPort, v)
		}
		c.DevPort = port
	}
	return nil
}

// Validate checks the fields every signed Gateway call needs.
func (c Config) Validate() error {
	var missing []string
	if c.GatewayURL == "" {
		missing = append(missing, EnvGatewayURL)
	}
	if c.Secret == "" {
		missing = append(missing, EnvSecret)
	}
	if c.MissionID == "" {
		missing = append(missing, EnvMissionID)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}

	u, err := url.Parse(c.GatewayURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid %s %q", EnvGatewayURL, c.GatewayURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s scheme %q", EnvGatewayURL, u.Scheme)
	}
	if _, err := uuid.Parse(c.MissionID); err != nil {
		return fmt.Errorf("invalid %s %q: %w", EnvMissionID, c.MissionID, err)
	}
	if c.GitHub.Repo != "" {
		if parts := strings.Split(c.GitHub.Repo, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid %s format %q (expected owner/repo)", EnvRepo, c.GitHub.Repo)
		}
	}
	return nil
}

// StatusPath returns the setup status document path for a workspace.
func StatusPath(workspace string) string {
	return filepath.Join(workspace, StatusDirName, StatusFileName)
}

// StatusPath returns the setup status document path for the configured workspace.
func (c Config) StatusPath() string {
	return StatusPath(c.Workspace)
}

// WorkspaceFromEnv returns MISSION_WORKSPACE or the default.
func WorkspaceFromEnv() string {
	if v := strings.TrimSpace(os.Getenv(EnvWorkspace)); v != "" {
		return v
	}
	return DefaultWorkspace
}
