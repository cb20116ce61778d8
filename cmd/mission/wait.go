package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/holon-run/mission/pkg/config"
	"github.com/holon-run/mission/pkg/logs/redact"
	"github.com/holon-run/mission/pkg/setupwait"
	"github.com/holon-run/mission/pkg/status"
	"github.com/spf13/cobra"
)

var (
	waitTimeout      int
	waitPollInterval time.Duration
)

var waitCmd = &cobra.Command{
	Use:   "wait [workspace]",
	Short: "Wait for workspace setup to finish",
	Long: `Poll the workspace's setup status until setup is ready or failed.

Exit codes:
  0  setup is ready
  1  setup failed
  2  timed out waiting

The workspace defaults to $MISSION_WORKSPACE, or /workspace.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace := config.WorkspaceFromEnv()
		if len(args) == 1 {
			workspace = args[0]
		}
		if waitTimeout <= 0 {
			return fmt.Errorf("--timeout must be positive")
		}

		store := status.NewStore(config.StatusPath(workspace))
		timeout := time.Duration(waitTimeout) * time.Second
		res := setupwait.Wait(cmd.Context(), store, setupwait.Options{
			Timeout:      timeout,
			PollInterval: waitPollInterval,
		})

		out := cmd.OutOrStdout()
		r := redact.FromEnv()
		switch res.Outcome {
		case setupwait.OutcomeReady:
			fmt.Fprintln(out, "setup ready")
			printServices(cmd, r, res.Status)
			return nil
		case setupwait.OutcomeFailed:
			return &exitError{code: res.Outcome.ExitCode(), err: fmt.Errorf("%s", r.String(res.Err.Error()))}
		default:
			return &exitError{code: res.Outcome.ExitCode(), err: fmt.Errorf("timed out after %s waiting for %s", timeout, store.Path())}
		}
	},
}

func printServices(cmd *cobra.Command, r *redact.Redactor, st *status.SetupStatus) {
	out := cmd.OutOrStdout()
	for _, svc := range st.Services {
		fmt.Fprintf(out, "  %s: %s\n", svc.Name, r.URL(svc.URL))
	}
	if st.DevServer != nil {
		fmt.Fprintf(out, "  dev server: port %d (pid %d)\n", st.DevServer.Port, st.DevServer.PID)
	}
	env := r.Env(st.Env)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s=%s\n", k, env[k])
	}
}

func init() {
	waitCmd.Flags().IntVar(&waitTimeout, "timeout", int(config.DefaultSetupTimeout/time.Second), "Seconds to wait before giving up")
	waitCmd.Flags().DurationVar(&waitPollInterval, "poll-interval", setupwait.DefaultPollInterval, "How often to read the status file")
	rootCmd.AddCommand(waitCmd)
}
