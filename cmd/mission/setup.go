package main

import (
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/holon-run/mission/pkg/config"
	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/holon-run/mission/pkg/preflight"
	"github.com/holon-run/mission/pkg/provision"
	"github.com/holon-run/mission/pkg/status"
	"github.com/spf13/cobra"
)

const defaultDevPort = 3000

var (
	setupWorkspace     string
	setupSkipPreflight bool
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Provision the workspace's services and report readiness",
	Long: `Start the services listed in MISSION_SERVICES (postgres, redis) as
containers, optionally start MISSION_DEV_COMMAND, and record progress in
<workspace>/.mission/setup-status.json for "mission wait" to observe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyConfigLogging(cfg); err != nil {
			return err
		}
		if setupWorkspace != "" {
			cfg.Workspace = setupWorkspace
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		writer := status.NewWriter(status.NewStore(cfg.StatusPath()))
		installers, docker, closeDocker, err := buildInstallers(cfg)
		if err != nil {
			_ = writer.Fail(err)
			return err
		}
		defer closeDocker()

		checker := preflight.NewChecker(preflight.Config{
			Skip:      setupSkipPreflight,
			Docker:    docker,
			Workspace: cfg.Workspace,
			StatusDir: filepath.Dir(cfg.StatusPath()),
		})
		if err := checker.Run(ctx); err != nil {
			_ = writer.Fail(err)
			return err
		}

		var dev *provision.DevServer
		if len(cfg.DevCommand) > 0 {
			port := cfg.DevPort
			if port == 0 {
				port = defaultDevPort
			}
			dev = &provision.DevServer{Command: cfg.DevCommand, Port: port, Dir: cfg.Workspace}
		}

		holonlog.Progress("starting setup", "workspace", cfg.Workspace, "services", cfg.Services)
		return provision.NewRunner(writer, installers, dev).Run(ctx)
	},
}

// buildInstallers resolves service names before touching Docker so a typo
// fails fast. The returned pinger is nil when no containers are needed.
func buildInstallers(cfg config.Config) ([]provision.Installer, preflight.Pinger, func(), error) {
	noop := func() {}
	if len(cfg.Services) == 0 {
		return nil, nil, noop, nil
	}
	specs := make([]provision.ServiceSpec, 0, len(cfg.Services))
	for _, name := range cfg.Services {
		spec, err := provision.LookupService(name)
		if err != nil {
			return nil, nil, noop, err
		}
		specs = append(specs, spec)
	}

	docker, err := provision.NewDocker()
	if err != nil {
		return nil, nil, noop, err
	}
	prefix := cfg.MissionID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	installers := make([]provision.Installer, 0, len(specs))
	for _, spec := range specs {
		installers = append(installers, provision.NewDockerInstaller(docker, spec, prefix))
	}
	return installers, docker, func() {
		if err := docker.Close(); err != nil {
			holonlog.Debug("docker client close failed", "error", err)
		}
	}, nil
}

func init() {
	setupCmd.Flags().StringVarP(&setupWorkspace, "workspace", "w", "", "Workspace directory (default: $MISSION_WORKSPACE or /workspace)")
	setupCmd.Flags().BoolVar(&setupSkipPreflight, "skip-preflight", false, "Skip workspace and Docker checks")
	rootCmd.AddCommand(setupCmd)
}
