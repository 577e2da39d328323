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
	"sync"

	"github.com/relctl/release-controller/internal/client/workflow"
	"github.com/relctl/release-controller/internal/log"
	"github.com/relctl/release-controller/internal/state"
	"github.com/relctl/release-controller/internal/tree"
	"github.com/relctl/release-controller/internal/util"
	conductorerrors "github.com/relctl/release-controller/pkg/errors"
)

// collectArtifacts is the handoff leaf between a package's phases: once
// the build run has succeeded it lists that run's artifacts, filters them
// through the configured whitelist, and records them on the package
// stamped with the build run's id. Re-invocation is idempotent — a package
// that already carries artifacts for the current build run settles
// Success without a client call, which is also the resume path.
type collectArtifacts struct {
	name      string
	rel       *state.Release
	pkgName   string
	repo      string
	pkg       *state.PackageState
	whitelist []string
	clients   Clients
	dryRun    bool

	status tree.Status

	mu        sync.Mutex
	inFlight  bool
	done      bool
	listed    []workflow.Artifact
	callErr   error
	cancelled bool
	cancel    context.CancelFunc
	nonRetry  bool
}

func newCollectArtifacts(name string, rel *state.Release, pkgName, repo string, pkg *state.PackageState, whitelist []string, clients Clients, opts Options) *collectArtifacts {
	return &collectArtifacts{
		name:      name,
		rel:       rel,
		pkgName:   pkgName,
		repo:      repo,
		pkg:       pkg,
		whitelist: whitelist,
		clients:   clients,
		dryRun:    opts.DryRun,
	}
}

func (c *collectArtifacts) Name() string            { return c.name }
func (c *collectArtifacts) LastStatus() tree.Status { return c.status }

// Tick implements tree.Node.
func (c *collectArtifacts) Tick(ctx *tree.TickCtx) tree.Status {
	c.mu.Lock()
	cancelled := c.cancelled
	inFlight := c.inFlight
	completed := c.done
	c.mu.Unlock()

	if cancelled {
		c.status = tree.Failure
		return c.status
	}

	if c.pkg.Build.Status != state.PhaseSucceeded || c.pkg.Build.Run == nil {
		// The sequence ordering should make this unreachable; treat it as
		// a bug rather than listing artifacts of an unfinished run.
		ctx.Log.Error("artifact collection before build success", log.String(log.NodeKey, c.name))
		c.status = tree.Failure
		return c.status
	}

	if c.collected() {
		c.status = tree.Success
		return c.status
	}

	if c.dryRun {
		// A dry run produces no real build output; synthesize the
		// whitelisted refs so downstream artifact_url templates resolve.
		c.synthesize()
		c.status = tree.Success
		return c.status
	}

	if completed {
		c.status = c.apply(ctx)
		return c.status
	}
	if !inFlight {
		c.launch(ctx)
	}
	c.status = tree.Running
	return c.status
}

// collected reports whether artifacts from the current build run are
// already recorded, per invariant 3: every ArtifactRef's source_run_id
// must match the build run that produced it.
func (c *collectArtifacts) collected() bool {
	if len(c.pkg.Artifacts) == 0 {
		return false
	}
	for _, ref := range c.pkg.Artifacts {
		if ref.SourceRunID != c.pkg.Build.Run.ID {
			return false
		}
	}
	return true
}

func (c *collectArtifacts) synthesize() {
	runID := c.pkg.Build.Run.ID
	refs := make(map[string]*state.ArtifactRef, len(c.whitelist))
	for _, name := range c.whitelist {
		refs[name] = &state.ArtifactRef{
			Name:        name,
			SourceRunID: runID,
			DownloadURL: "dryrun://artifact/" + name,
		}
	}
	c.pkg.Artifacts = refs
	c.rel.MarkDirty()
}

func (c *collectArtifacts) launch(tctx *tree.TickCtx) {
	runCtx, cancel := context.WithCancel(tctx.Ctx)

	c.mu.Lock()
	c.inFlight = true
	c.cancel = cancel
	c.mu.Unlock()

	runID := c.pkg.Build.Run.ID

	go func() {
		defer cancel()
		artifacts, err := c.clients.Workflow.ListArtifacts(runCtx, c.repo, runID)

		c.mu.Lock()
		c.inFlight = false
		c.done = true
		c.listed = artifacts
		c.callErr = err
		c.mu.Unlock()
		tctx.Notify()
	}()
}

// apply folds the listing into package state on the tick thread.
func (c *collectArtifacts) apply(tctx *tree.TickCtx) tree.Status {
	c.mu.Lock()
	artifacts, err := c.listed, c.callErr
	c.done = false
	c.mu.Unlock()

	if err != nil {
		if nr, ok := errNonRetryable(err); ok && nr {
			c.mu.Lock()
			c.nonRetry = true
			c.mu.Unlock()
		}
		tctx.Log.Warn("artifact listing failed", log.String(log.NodeKey, c.name), log.Error(err))
		return tree.Failure
	}

	runID := c.pkg.Build.Run.ID
	refs := make(map[string]*state.ArtifactRef)
	for _, a := range artifacts {
		if len(c.whitelist) > 0 && !util.Contains(c.whitelist, a.Name) {
			continue
		}
		refs[a.Name] = &state.ArtifactRef{
			Name:        a.Name,
			SourceRunID: runID,
			DownloadURL: a.ArchiveDownloadURL,
			SHA256:      a.SHA256,
			Size:        a.SizeBytes,
		}
	}

	for _, want := range c.whitelist {
		if _, ok := refs[want]; !ok {
			c.mu.Lock()
			c.nonRetry = false
			c.mu.Unlock()
			ferr := &conductorerrors.BusinessFailureError{
				Package: c.pkgName,
				Phase:   "build",
				Reason:  "artifact " + want + " not produced by run " + runID,
			}
			tctx.Log.Warn("artifact missing", log.String(log.NodeKey, c.name), log.Error(ferr))
			return tree.Failure
		}
	}

	c.pkg.Artifacts = refs
	c.rel.MarkDirty()
	tctx.Log.Info("artifacts collected",
		log.String(log.NodeKey, c.name),
		log.String(log.RunIDKey, runID),
		log.Int("count", len(refs)))
	return tree.Success
}

// Reset implements tree.Node.
func (c *collectArtifacts) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = tree.Invalid
	c.inFlight = false
	c.done = false
	c.listed = nil
	c.callErr = nil
	c.cancelled = false
	c.cancel = nil
	c.nonRetry = false
}

// Cancel implements tree.Node.
func (c *collectArtifacts) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// NonRetryable reports whether the last failure was a permanent client
// error rather than a transient listing problem or a missing artifact.
func (c *collectArtifacts) NonRetryable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonRetry
}

var _ tree.Node = (*collectArtifacts)(nil)
