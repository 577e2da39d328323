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

package release

import (
	"context"

	"github.com/relctl/release-controller/internal/config"
	"github.com/relctl/release-controller/internal/log"
	"github.com/relctl/release-controller/internal/state"
	"github.com/relctl/release-controller/internal/tree"
	conductorerrors "github.com/relctl/release-controller/pkg/errors"
)

// phaseRetries is the per-phase Retry budget for transient infrastructure
// and business failures, beyond the first attempt.
const phaseRetries = 2

// packageBranch builds one package's pipeline: an optional wait on its
// depends_on edge, the build phase, the artifact handoff, the publish
// phase, and finalization. A disabled package settles Success immediately
// with its result marked skipped.
func packageBranch(pkgCfg config.Package, rel *state.Release, clients Clients, opts Options) tree.Node {
	name := pkgCfg.Name
	pkg := rel.Packages[name]

	stages := make([]tree.Node, 0, 5)
	if pkgCfg.DependsOn != "" {
		stages = append(stages, newWaitFor(name+"_wait_"+pkgCfg.DependsOn, rel, pkgCfg.DependsOn))
	}
	stages = append(stages,
		phaseSubtree(name, "build", rel, pkg, pkgCfg, pkgCfg.Build, pkg.Build, clients, opts),
		newCollectArtifacts(name+"_artifacts", rel, name, pkgCfg.Repo, pkg, pkgCfg.Build.ArtifactsWhitelist, clients, opts),
		phaseSubtree(name, "publish", rel, pkg, pkgCfg, pkgCfg.Publish, pkg.Publish, clients, opts),
		finalizePackage(name+"_finalize", rel, pkg),
	)

	pipeline := &resultRecorder{
		name:  name + "_result",
		rel:   rel,
		pkg:   pkg,
		child: tree.NewMemSequence(name+"_pipeline", stages...),
	}

	return tree.NewFallback(name,
		tree.NewSequence(name+"_skip",
			tree.NewCondition(name+"_disabled", func() bool { return !pkg.Enabled }),
			markSkipped(name+"_mark_skipped", rel, pkg),
		),
		tree.NewGuard(name+"_enabled", func() bool { return pkg.Enabled }, pipeline),
	)
}

// phaseSubtree builds the standard phase pipeline: short-circuit when the
// phase already succeeded (the resume and force-rebuild-scoping path),
// otherwise dispatch, monitor under the configured timeout, and map the
// outcome — all under a Retry that re-attempts transient and business
// failures but never configuration errors.
func phaseSubtree(pkgName, phaseName string, rel *state.Release, pkg *state.PackageState, pkgCfg config.Package, cfgPhase config.Phase, phase *state.PhaseState, clients Clients, opts Options) tree.Node {
	prefix := pkgName + "_" + phaseName
	if cfgPhase.Timeout <= 0 {
		cfgPhase.Timeout = config.DefaultTimeout
	}

	attempt := tree.NewMemSequence(prefix+"_attempt",
		beginAttempt(prefix+"_begin", rel, phase),
		dispatchIfNeeded(prefix+"_dispatch", rel, pkg, pkgCfg, cfgPhase, phase, phaseName, clients),
		tree.NewTimeout(prefix+"_timeout", cfgPhase.Timeout,
			newMonitorRun(prefix+"_monitor", rel, pkgCfg.Repo, phase, clients, opts)),
		collectOutcome(prefix+"_outcome", rel, pkgName, phaseName, phase),
	)

	subtree := tree.NewFallback(prefix,
		tree.NewCondition(prefix+"_already_succeeded", func() bool {
			return phase.Status == state.PhaseSucceeded
		}),
		attempt,
	)

	return tree.NewRetry(prefix+"_retry", phaseRetries, tree.RetryOnFailure, subtree)
}

// beginAttempt clears a previously failed attempt's run handle so the
// dispatch leaf generates a fresh correlation uuid. PhaseState.Reset
// increments the attempt counter, the only sanctioned route back to
// not_started.
func beginAttempt(name string, rel *state.Release, phase *state.PhaseState) tree.Node {
	return tree.NewInstantFunc(name, func(ctx context.Context) error {
		switch phase.Status {
		case state.PhaseFailed, state.PhaseCancelled, state.PhaseTimedOut:
			phase.Reset()
			rel.MarkDirty()
		}
		return nil
	})
}

// collectOutcome maps the monitored run's conclusion onto the phase:
// success becomes succeeded and the subtree settles Success; any other
// conclusion marks the phase accordingly and surfaces the run URL in a
// business failure the Retry decorator may re-attempt.
func collectOutcome(name string, rel *state.Release, pkgName, phaseName string, phase *state.PhaseState) tree.Node {
	return tree.NewInstantFunc(name, func(ctx context.Context) error {
		run := phase.Run
		if run == nil {
			return &conductorerrors.InvariantError{
				Invariant: "monitored phase has a run handle",
				Detail:    pkgName + "/" + phaseName,
			}
		}

		switch run.Conclusion {
		case "success":
			phase.Status = state.PhaseSucceeded
			rel.MarkDirty()
			return nil
		case "cancelled":
			phase.Status = state.PhaseCancelled
		case "timed_out":
			phase.Status = state.PhaseTimedOut
		default:
			phase.Status = state.PhaseFailed
		}
		rel.MarkDirty()

		return &conductorerrors.BusinessFailureError{
			Package: pkgName,
			Phase:   phaseName,
			Reason:  "run " + run.URL + " concluded " + run.Conclusion,
		}
	})
}

// finalizePackage records the package's terminal success.
func finalizePackage(name string, rel *state.Release, pkg *state.PackageState) tree.Node {
	return tree.NewInstantFunc(name, func(ctx context.Context) error {
		if pkg.Result != state.ResultSuccess {
			pkg.Result = state.ResultSuccess
			rel.MarkDirty()
		}
		return nil
	})
}

// markSkipped records that a disabled package sat this release out.
func markSkipped(name string, rel *state.Release, pkg *state.PackageState) tree.Node {
	return tree.NewInstantFunc(name, func(ctx context.Context) error {
		if pkg.Result != state.ResultSkipped {
			pkg.Result = state.ResultSkipped
			rel.MarkDirty()
		}
		return nil
	})
}

// resultRecorder marks the package failed when its pipeline settles
// Failure, so the persisted document reflects the terminal outcome even
// though no later pipeline stage runs.
type resultRecorder struct {
	name   string
	rel    *state.Release
	pkg    *state.PackageState
	child  tree.Node
	status tree.Status
}

func (r *resultRecorder) Name() string            { return r.name }
func (r *resultRecorder) LastStatus() tree.Status { return r.status }

// Tick implements tree.Node.
func (r *resultRecorder) Tick(ctx *tree.TickCtx) tree.Status {
	r.status = r.child.Tick(ctx)
	if r.status == tree.Failure && r.pkg.Result == state.ResultPending {
		r.pkg.Result = state.ResultFailed
		r.rel.MarkDirty()
	}
	return r.status
}

// Reset implements tree.Node.
func (r *resultRecorder) Reset() { r.status = tree.Invalid; r.child.Reset() }

// Cancel implements tree.Node.
func (r *resultRecorder) Cancel() { r.child.Cancel() }

// NonRetryable propagates the pipeline's classification.
func (r *resultRecorder) NonRetryable() bool {
	type nonRetryableNode interface{ NonRetryable() bool }
	if nr, ok := r.child.(nonRetryableNode); ok && r.child.LastStatus() == tree.Failure {
		return nr.NonRetryable()
	}
	return false
}

// waitFor parks a branch until the package it depends on has published,
// failing if that package can no longer succeed. Progress arrives via the
// other branch's ticks, so this leaf never schedules work of its own.
type waitFor struct {
	name   string
	rel    *state.Release
	dep    string
	status tree.Status
}

func newWaitFor(name string, rel *state.Release, dep string) *waitFor {
	return &waitFor{name: name, rel: rel, dep: dep}
}

func (w *waitFor) Name() string            { return w.name }
func (w *waitFor) LastStatus() tree.Status { return w.status }

// Tick implements tree.Node.
func (w *waitFor) Tick(ctx *tree.TickCtx) tree.Status {
	dep, ok := w.rel.Packages[w.dep]
	switch {
	case !ok:
		ctx.Log.Error("dependency missing from release state", log.String(log.NodeKey, w.name), log.String("dependency", w.dep))
		w.status = tree.Failure
	case dep.Publish.Status == state.PhaseSucceeded:
		w.status = tree.Success
	case dep.Result == state.ResultFailed || dep.Result == state.ResultSkipped || !dep.Enabled:
		w.status = tree.Failure
	default:
		w.status = tree.Running
	}
	return w.status
}

// Reset implements tree.Node.
func (w *waitFor) Reset() { w.status = tree.Invalid }

// Cancel implements tree.Node.
func (w *waitFor) Cancel() {}

var (
	_ tree.Node = (*resultRecorder)(nil)
	_ tree.Node = (*waitFor)(nil)
)
