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

// Package commands assembles the release controller's CLI: the release
// subcommand that drives a tag through the two-phase pipeline, and the
// status subcommand that renders persisted state read-only.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/relctl/release-controller/internal/log"
)

// NewRootCommand builds the relctl command tree. version is injected from
// main via ldflags.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "relctl",
		Short: "Orchestrate multi-package releases",
		Long: `relctl drives a fleet of downstream package repositories through a
two-phase release pipeline (build, then publish) by dispatching workflows
in each package repository, exchanging artifacts between phases, and
persisting resumable release state in object storage.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	root.AddCommand(newReleaseCommand(logger))
	root.AddCommand(newStatusCommand(logger))
	return root
}
