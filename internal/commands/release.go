// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/relctl/release-controller/internal/client/objectstore"
	"github.com/relctl/release-controller/internal/client/status"
	"github.com/relctl/release-controller/internal/client/workflow"
	"github.com/relctl/release-controller/internal/config"
	"github.com/relctl/release-controller/internal/controller"
	"github.com/relctl/release-controller/internal/controller/metrics"
	"github.com/relctl/release-controller/internal/log"
	"github.com/relctl/release-controller/internal/release"
	"github.com/relctl/release-controller/internal/store"
)

// exitCodeError carries a controller exit code through cobra's RunE
// plumbing so main can os.Exit with it.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return "release failed"
}

func (e *exitCodeError) Unwrap() error { return e.err }

// ExitCode extracts the process exit code from a command error.
func ExitCode(err error) int {
	if err == nil {
		return controller.ExitSuccess
	}
	if ec, ok := err.(*exitCodeError); ok {
		return ec.code
	}
	// Anything cobra surfaces unwrapped is a flag or argument problem.
	return controller.ExitUsage
}

func newReleaseCommand(logger *slog.Logger) *cobra.Command {
	var (
		configPath       string
		forceRebuild     string
		onlyPackages     []string
		forceReleaseType string
		dryRun           bool
		statusChannel    string
		metricsAddr      string
	)

	cmd := &cobra.Command{
		Use:   "release <tag>",
		Short: "Run the two-phase release pipeline for a tag",
		Long: `Release dispatches every configured package's build workflow, hands the
collected artifacts to its publish workflow, and persists resumable state
after every tick. Re-running the same tag resumes where the previous run
stopped.

Exit codes:
  0  all packages succeeded
  1  at least one package failed
  2  usage or configuration error
  3  the release lock is held by another controller
  4  unexpected internal failure`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag := args[0]
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return &exitCodeError{code: controller.ExitUsage, err: err}
			}

			var (
				st        *store.Store
				clients   release.Clients
				statusCli status.Client
			)
			storeLog := log.WithComponent(logger, "store")
			if dryRun {
				// Dry runs rewire every client to a recording no-op: no
				// dispatches, no status posts, and no persisted state.
				st = store.New(objectstore.NewNoOpClient("dry-run"), storeLog)
				clients = release.Clients{Workflow: workflow.NewNoOpClient()}
				statusCli = status.NewNoOpClient()
			} else {
				d, err := buildDeps(ctx, logger)
				if err != nil {
					return &exitCodeError{code: controller.ExitUsage, err: err}
				}
				st = store.New(d.ObjectStore, storeLog)
				clients = release.Clients{Workflow: d.Workflow}
				statusCli = d.Status
			}

			collector, err := metrics.NewCollector()
			if err != nil {
				return &exitCodeError{code: controller.ExitInternal, err: err}
			}
			if metricsAddr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", collector.Handler())
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						logger.Warn("metrics endpoint stopped", log.String("addr", metricsAddr), log.Error(err))
					}
				}()
			}

			ctrl := &controller.Controller{
				Config:  cfg,
				Store:   st,
				Clients: clients,
				Status:  statusCli,
				Metrics: collector,
				Log:     logger,
			}

			code, err := ctrl.Run(ctx, controller.Options{
				Tag:              tag,
				OnlyPackages:     onlyPackages,
				ForceRebuild:     forceRebuild,
				ForceReleaseType: forceReleaseType,
				DryRun:           dryRun,
				StatusChannel:    statusChannel,
			})
			if code != controller.ExitSuccess {
				return &exitCodeError{code: code, err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the packages configuration file")
	cmd.Flags().StringVar(&forceRebuild, "force-rebuild", "", "Reset state before running: 'all' or a package name")
	cmd.Flags().StringSliceVar(&onlyPackages, "only-packages", nil, "Restrict the run to the named packages")
	cmd.Flags().StringVar(&forceReleaseType, "force-release-type", "", "Override release type derivation (rc|ga|maintenance|milestone)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Record intents without dispatching or persisting")
	cmd.Flags().StringVar(&statusChannel, "status-channel", os.Getenv("RELCTL_STATUS_CHANNEL"), "Status-sink channel for the pinned progress message")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func defaultConfigPath() string {
	if p := os.Getenv("RELCTL_CONFIG"); p != "" {
		return p
	}
	return "packages.yaml"
}
