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

// Package release assembles the release tree: the domain-specific leaf
// library (DispatchIfNeeded, MonitorRun, CollectArtifacts, FinalizePackage)
// and the per-package pipelines that the behavior tree runtime in
// internal/tree ticks to quiescence.
package release

import (
	"time"

	"github.com/relctl/release-controller/internal/client/workflow"
	"github.com/relctl/release-controller/internal/config"
	"github.com/relctl/release-controller/internal/state"
	"github.com/relctl/release-controller/internal/tree"
)

// Clients bundles the client adapters the release tree dispatches work
// through. Only the workflow client is needed here: the object store and
// status sink are driven by internal/store and internal/render as tick
// hooks, not by tree nodes.
type Clients struct {
	Workflow workflow.Client
}

// Now is overridable in tests so DispatchedAt/backoff math is deterministic.
var Now = time.Now

// Build assembles the full release tree for rel against cfg, returning the
// root node. rel must already have every configured package's PackageState
// present (callers use EnsurePackages first).
func Build(cfg *config.Config, rel *state.Release, clients Clients, opts Options) tree.Node {
	branches := make([]tree.Node, 0, len(cfg.Packages))
	for _, pkgCfg := range cfg.Packages {
		branches = append(branches, packageBranch(pkgCfg, rel, clients, opts))
	}
	return tree.NewParallel("release_"+rel.Tag, tree.AllSuccess, branches...)
}

// Options carries the per-run policy knobs resolved by the controller from
// CLI flags: only_packages, force_release_type is applied before Build runs
// (it changes rel.ReleaseType, not the tree shape), dry_run rewires Clients
// to no-op adapters before Build is called.
type Options struct {
	DryRun bool

	// PollInitial and PollMax pace MonitorRun's get_run backoff schedule.
	// Zero values take the production defaults (10s doubling to 2m); tests
	// shrink them so a scripted run completes in milliseconds.
	PollInitial time.Duration
	PollMax     time.Duration
}

// pollInitial returns the configured or default initial poll interval.
func (o Options) pollInitial() time.Duration {
	if o.PollInitial > 0 {
		return o.PollInitial
	}
	return 10 * time.Second
}

// pollMax returns the configured or default poll interval cap.
func (o Options) pollMax() time.Duration {
	if o.PollMax > 0 {
		return o.PollMax
	}
	return 2 * time.Minute
}

// EnsurePackages creates a PackageState (from configuration) for every
// configured package not yet present in rel, and applies the enabled/
// disabled selection from onlyPackages (empty means every package is
// enabled).
func EnsurePackages(cfg *config.Config, rel *state.Release, onlyPackages []string) {
	selecting := len(onlyPackages) > 0
	selected := make(map[string]bool, len(onlyPackages))
	for _, name := range onlyPackages {
		selected[name] = true
	}

	for _, pkgCfg := range cfg.Packages {
		pkgState := rel.Package(pkgCfg.Name, func() *state.PackageState {
			return state.NewPackageState(
				pkgCfg.Build.Workflow, pkgCfg.Build.RefTemplate, nil,
				pkgCfg.Publish.Workflow, pkgCfg.Publish.RefTemplate, nil,
			)
		})
		// Recomputed every run: an unrestricted run re-enables packages a
		// prior --only-packages run disabled.
		enabled := !selecting || selected[pkgCfg.Name]
		if pkgState.Enabled != enabled {
			pkgState.Enabled = enabled
			rel.MarkDirty()
		}
	}
}
