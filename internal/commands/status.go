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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/relctl/release-controller/internal/config"
	"github.com/relctl/release-controller/internal/controller"
	"github.com/relctl/release-controller/internal/log"
	"github.com/relctl/release-controller/internal/release"
	"github.com/relctl/release-controller/internal/store"
)

func newStatusCommand(logger *slog.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status <tag>",
		Short: "Render a release's persisted state read-only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return &exitCodeError{code: controller.ExitUsage, err: err}
			}

			d, err := buildDeps(ctx, logger)
			if err != nil {
				return &exitCodeError{code: controller.ExitUsage, err: err}
			}

			ctrl := &controller.Controller{
				Config:  cfg,
				Store:   store.New(d.ObjectStore, log.WithComponent(logger, "store")),
				Clients: release.Clients{Workflow: d.Workflow},
				Status:  d.Status,
				Log:     logger,
			}

			body, err := ctrl.RenderStatus(ctx, args[0])
			if err != nil {
				return &exitCodeError{code: controller.ExitInternal, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the packages configuration file")
	return cmd
}
