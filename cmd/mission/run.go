package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/holon-run/mission/pkg/abort"
	"github.com/holon-run/mission/pkg/config"
	"github.com/holon-run/mission/pkg/coordinator"
	"github.com/holon-run/mission/pkg/events"
	"github.com/holon-run/mission/pkg/gateway"
	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/holon-run/mission/pkg/logs/redact"
	"github.com/holon-run/mission/pkg/mission"
	"github.com/holon-run/mission/pkg/preflight"
	"github.com/holon-run/mission/pkg/pullrequest"
	"github.com/holon-run/mission/pkg/queue"
	"github.com/holon-run/mission/pkg/session"
	"github.com/holon-run/mission/pkg/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runWorkspace     string
	runPrompt        string
	runDrainTimeout  time.Duration
	runDraftPR       bool
	runSkipPreflight bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent against the mission's Gateway queue",
	Long: `Fetch pending messages from the Gateway, run them through the agent
command and report every event back. Runs until the queue is empty, the
mission is aborted (abort file or abort message), or the agent fails.

Queued events are always drained before exit, bounded by --drain-timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyConfigLogging(cfg); err != nil {
			return err
		}
		if runWorkspace != "" {
			cfg.Workspace = runWorkspace
		}
		if runPrompt != "" {
			cfg.Prompt = runPrompt
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if len(cfg.AgentCommand) == 0 {
			return fmt.Errorf("%w: missing %s", config.ErrNotConfigured, config.EnvAgentCommand)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		checker := preflight.NewChecker(preflight.Config{
			Skip:         runSkipPreflight,
			Workspace:    cfg.Workspace,
			AgentCommand: cfg.AgentCommand,
			GatewayURL:   cfg.GatewayURL,
			GitHubRepo:   cfg.GitHub.Repo,
			GitHubToken:  cfg.GitHub.Token,
		})
		if err := checker.Run(ctx); err != nil {
			return err
		}

		shutdown, err := telemetry.InitTracing(ctx, "mission")
		if err != nil {
			holonlog.Warn("tracing disabled", "error", err)
		} else {
			defer func() { _ = shutdown(cmd.Context()) }()
		}
		shutdownMetrics, err := telemetry.InitMeterProvider(ctx, "mission", 0)
		if err != nil {
			holonlog.Warn("metrics export disabled", "error", err)
		} else {
			defer func() { _ = shutdownMetrics(cmd.Context()) }()
		}
		if err := telemetry.InitMetrics(); err != nil {
			holonlog.Warn("metrics disabled", "error", err)
		}

		redactor := redact.FromEnv(cfg.Secret, cfg.GitHub.Token)
		transport, err := gateway.NewTransport(gateway.TransportConfig{Secret: cfg.Secret})
		if err != nil {
			return err
		}
		endpoints, err := gateway.NewEndpoints(cfg.GatewayURL, cfg.MissionID)
		if err != nil {
			return err
		}

		var journal *events.Journal
		if cfg.StateDir != "" {
			journal, err = events.OpenJournal(filepath.Join(cfg.StateDir, "events.ndjson"))
			if err != nil {
				holonlog.Warn("event journal disabled", "error", err)
			} else {
				defer journal.Close()
			}
		}

		reporter, err := events.NewReporter(events.ReporterConfig{
			Sender:    transport,
			Endpoints: endpoints,
			Journal:   journal,
			Redactor:  redactor,
		})
		if err != nil {
			return err
		}
		queueClient, err := queue.NewClient(queue.ClientConfig{
			Sender:      transport,
			Endpoints:   endpoints,
			MinInterval: cfg.QueueMinInterval,
			Redactor:    redactor,
		})
		if err != nil {
			return err
		}
		sess, err := session.NewProcess(session.ProcessConfig{
			Command: cfg.AgentCommand,
			Dir:     cfg.Workspace,
			Env:     []string{config.EnvMissionID + "=" + cfg.MissionID, config.EnvWorkspace + "=" + cfg.Workspace},
		})
		if err != nil {
			return err
		}

		missionCtx := mission.New(cfg.MissionID, mission.Person(cfg.Creator))
		publisher, err := buildPublisher(cmd, cfg)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		canceller := coordinator.NewCanceller(gctx)
		defer canceller.Release()

		coord, err := coordinator.New(coordinator.Config{
			Queue:        queueClient,
			Session:      sess,
			Reporter:     reporter,
			Mission:      missionCtx,
			Canceller:    canceller,
			Prompt:       cfg.Prompt,
			Publisher:    publisher,
			DrainTimeout: runDrainTimeout,
		})
		if err != nil {
			return err
		}

		watcher := abort.NewWatcher(abort.Config{Path: cfg.AbortFile, PollInterval: cfg.AbortPoll})
		runDone := make(chan struct{})
		g.Go(func() error {
			if err := watcher.Start(gctx, func() { canceller.Cancel(coordinator.SourceSignal) }); err != nil {
				return err
			}
			<-runDone
			watcher.Stop()
			return nil
		})
		g.Go(func() error {
			defer close(runDone)
			return coord.Run(gctx)
		})

		err = g.Wait()
		if errors.Is(err, coordinator.ErrAborted) {
			src, _ := canceller.Source()
			holonlog.Progress("mission aborted", "source", src)
			return nil
		}
		return err
	},
}

// buildPublisher returns nil (and no error) when GitHub is not configured.
func buildPublisher(cmd *cobra.Command, cfg config.Config) (coordinator.Publisher, error) {
	if !cfg.GitHub.Enabled() {
		return nil, nil
	}
	creator, err := pullrequest.NewCreator(pullrequest.NewGitHubClient(cmd.Context(), cfg.GitHub.Token), cfg.GitHub.Repo)
	if err != nil {
		return nil, err
	}
	publisher, err := pullrequest.NewPublisher(pullrequest.PublisherConfig{
		Creator: creator,
		Head:    cfg.GitHub.Branch,
		Base:    cfg.GitHub.BaseBranch,
		Draft:   runDraftPR,
	})
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

func init() {
	runCmd.Flags().StringVarP(&runWorkspace, "workspace", "w", "", "Workspace directory (default: $MISSION_WORKSPACE or /workspace)")
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "Initial task prompt (default: $MISSION_PROMPT)")
	runCmd.Flags().DurationVar(&runDrainTimeout, "drain-timeout", 30*time.Second, "Maximum time to spend delivering queued events on exit")
	runCmd.Flags().BoolVar(&runDraftPR, "draft", false, "Open the pull request as a draft")
	runCmd.Flags().BoolVar(&runSkipPreflight, "skip-preflight", false, "Skip environment checks before starting the agent")
	rootCmd.AddCommand(runCmd)
}
