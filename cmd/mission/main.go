package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/holon-run/mission/pkg/config"
	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/spf13/cobra"
)

var (
	logLevel   string
	logFormat  string
	configFile string
	envFiles   []string
)

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "mission",
	Short: "Coordinate a mission between the setup process, the agent and the Gateway",
	Long: `mission runs inside a mission sandbox.

  mission setup   provisions the workspace's services and publishes progress
  mission wait    blocks until setup is ready (exit 0), failed (1) or timed out (2)
  mission run     runs the agent against the Gateway's message queue`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, progress, minimal, warn, error (default: $LOG_LEVEL or progress)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (default: $LOG_FORMAT or console)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load (missing files are skipped)")
}

func initLogger() error {
	level := firstNonEmpty(logLevel, os.Getenv(config.EnvLogLevel), string(holonlog.LevelProgress))
	parsed, ok := holonlog.ParseLevel(strings.ToLower(level))
	if !ok {
		return fmt.Errorf("invalid log level %q", level)
	}
	format := firstNonEmpty(logFormat, os.Getenv(config.EnvLogFormat), holonlog.FormatConsole)
	if format != holonlog.FormatConsole && format != holonlog.FormatJSON {
		return fmt.Errorf("invalid log format %q", format)
	}
	return holonlog.Init(holonlog.Config{Level: parsed, Format: format})
}

func loadConfig() (config.Config, error) {
	return config.Load(config.LoadOptions{File: configFile, DotEnv: envFiles})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// execute runs the CLI and returns the process exit code.
func execute() int {
	defer func() { _ = holonlog.Sync() }()

	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return 1
}

func main() {
	os.Exit(execute())
}

// applyConfigLogging re-initializes the logger from cfg when no flag was
// given, so LOG_LEVEL and LOG_FORMAT from a dotenv or YAML file take effect.
func applyConfigLogging(cfg config.Config) error {
	if logLevel == "" && cfg.LogLevel != "" {
		logLevel = cfg.LogLevel
	}
	if logFormat == "" && cfg.LogFormat != "" {
		logFormat = cfg.LogFormat
	}
	return initLogger()
}
