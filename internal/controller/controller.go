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

// Package controller drives one release end to end: acquire the release
// lock, load or reset state, tick the release tree to quiescence with
// per-tick persistence and status rendering, then persist the final state
// and release the lock on every exit path.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relctl/release-controller/internal/client/status"
	"github.com/relctl/release-controller/internal/config"
	"github.com/relctl/release-controller/internal/controller/metrics"
	"github.com/relctl/release-controller/internal/log"
	"github.com/relctl/release-controller/internal/release"
	"github.com/relctl/release-controller/internal/render"
	"github.com/relctl/release-controller/internal/state"
	"github.com/relctl/release-controller/internal/store"
	"github.com/relctl/release-controller/internal/tree"
	conductorerrors "github.com/relctl/release-controller/pkg/errors"
)

// Exit codes of the command surface.
const (
	ExitSuccess  = 0
	ExitFailed   = 1
	ExitUsage    = 2
	ExitLockHeld = 3
	ExitInternal = 4
)

// Options carries the per-run policy knobs resolved from CLI flags.
type Options struct {
	Tag string

	// OnlyPackages restricts the run to the named packages; empty enables
	// every configured package.
	OnlyPackages []string

	// ForceRebuild is "", store.ResetAll, or a package name.
	ForceRebuild string

	// ForceReleaseType overrides release-type derivation when non-empty.
	ForceReleaseType string

	// DryRun reports intents instead of dispatching; the caller is
	// expected to have wired no-op clients alongside this flag.
	DryRun bool

	// StatusChannel is the status-sink channel for the pinned message;
	// empty disables rendering.
	StatusChannel string

	// PollInitial and PollMax pace run monitoring; zero means defaults.
	PollInitial time.Duration
	PollMax     time.Duration

	// PollInterval overrides the runtime's safety-net tick interval.
	PollInterval time.Duration
}

// Controller wires the release engine's collaborators together.
type Controller struct {
	Config  *config.Config
	Store   *store.Store
	Clients release.Clients
	Status  status.Client
	Metrics *metrics.Collector
	Log     *slog.Logger
}

// Run executes one release for opts.Tag, returning the process exit code
// and the error that produced it, if any. The release lock is released on
// every path out of this function, including panics, after a best-effort
// state save.
func (c *Controller) Run(ctx context.Context, opts Options) (code int, err error) {
	logger := log.WithReleaseContext(c.Log, opts.Tag)
	started := store.Now()
	logger.Info("release run starting",
		log.String(log.EventKey, "release_started"),
		log.Bool("dry_run", opts.DryRun))

	if opts.ForceReleaseType != "" && !state.ValidReleaseType(opts.ForceReleaseType) {
		return ExitUsage, &conductorerrors.ValidationError{
			Field:   "force_release_type",
			Message: fmt.Sprintf("unknown release type %q", opts.ForceReleaseType),
		}
	}
	for _, name := range opts.OnlyPackages {
		if _, ok := c.Config.PackageByName(name); !ok {
			return ExitUsage, &conductorerrors.ConfigError{
				Key:    "only_packages",
				Reason: fmt.Sprintf("unknown package %q", name),
			}
		}
	}
	if opts.ForceRebuild != "" && opts.ForceRebuild != store.ResetAll {
		if _, ok := c.Config.PackageByName(opts.ForceRebuild); !ok {
			return ExitUsage, &conductorerrors.ConfigError{
				Key:    "force_rebuild",
				Reason: fmt.Sprintf("unknown package %q", opts.ForceRebuild),
			}
		}
	}

	lock, err := c.Store.AcquireLock(ctx, opts.Tag)
	if err != nil {
		var held *conductorerrors.LockHeldError
		if conductorerrors.As(err, &held) {
			logger.Error("another controller is releasing this tag", log.String("holder_id", held.HolderID))
			return ExitLockHeld, err
		}
		return ExitInternal, err
	}

	rel, err := c.Store.Load(ctx, opts.Tag)
	if err != nil {
		c.Store.ReleaseLock(ctx, lock)
		return ExitInternal, err
	}

	// From here on the lock is released — and the state persisted as well
	// as it can be — no matter how we leave, including a panic from an
	// invariant violation.
	defer func() {
		if r := recover(); r != nil {
			saveBestEffort(ctx, c.Store, rel, logger)
			c.Store.ReleaseLock(ctx, lock)
			panic(r)
		}
		c.Store.ReleaseLock(ctx, lock)
	}()

	if opts.ForceRebuild != "" {
		rel, err = c.Store.Reset(ctx, rel, opts.ForceRebuild)
		if err != nil {
			return ExitUsage, err
		}
	}

	c.applyReleaseType(rel, opts, logger)
	release.EnsurePackages(c.Config, rel, opts.OnlyPackages)

	renderer := render.New(c.Status, opts.StatusChannel, rel, log.WithComponent(logger, "render"))
	renderer.Start(ctx)

	root := release.Build(c.Config, rel, c.Clients, release.Options{
		DryRun:      opts.DryRun,
		PollInitial: opts.PollInitial,
		PollMax:     opts.PollMax,
	})

	runtime := tree.NewRuntime(root, logger)
	runtime.PollInterval = opts.PollInterval
	if !opts.DryRun {
		runtime.AddHook(c.Store.Hook(rel))
	}
	runtime.AddHook(renderer.Hook())
	if c.Metrics != nil {
		runtime.AddHook(c.tickMetricsHook(rel))
	}

	rootStatus, runErr := runtime.Run(ctx)

	if !opts.DryRun {
		saveBestEffort(ctx, c.Store, rel, logger)
	}
	renderer.Refresh(ctx)
	if c.Metrics != nil {
		c.recordOutcome(ctx, rel, rootStatus)
	}

	elapsed := store.Now().Sub(started)

	if runErr != nil {
		if conductorerrors.Is(runErr, context.Canceled) {
			logger.Warn("release interrupted by shutdown signal", log.Error(runErr))
		} else {
			logger.Error("release interrupted", log.Error(runErr))
		}
		return ExitInternal, runErr
	}

	if rootStatus == tree.Success {
		logger.Info("release succeeded",
			log.String(log.EventKey, "release_succeeded"),
			log.Int64(log.DurationKey, elapsed.Milliseconds()))
		return ExitSuccess, nil
	}
	logger.Error("release failed",
		log.String(log.EventKey, "release_failed"),
		log.Int64(log.DurationKey, elapsed.Milliseconds()),
		log.Attr("failed_packages", failedPackages(rel)))
	return ExitFailed, nil
}

// applyReleaseType resolves the release type: CLI override, configured
// per-tag override, then derivation from the tag string (already applied
// by state.New for a fresh document).
func (c *Controller) applyReleaseType(rel *state.Release, opts Options, logger *slog.Logger) {
	resolved := rel.ReleaseType
	if forced, ok := c.Config.ReleaseTypeOverrides[rel.Tag]; ok {
		resolved = state.ReleaseType(forced)
	}
	if opts.ForceReleaseType != "" {
		resolved = state.ReleaseType(opts.ForceReleaseType)
	}
	if resolved != rel.ReleaseType {
		logger.Info("release type overridden",
			log.String("from", string(rel.ReleaseType)),
			log.String("to", string(resolved)))
		rel.ReleaseType = resolved
		rel.MarkDirty()
	}
}

// tickMetricsHook measures tick cadence. Hooks run in registration order,
// so the duration recorded here includes persistence and rendering of the
// same tick.
func (c *Controller) tickMetricsHook(rel *state.Release) tree.Hook {
	last := store.Now()
	return func(ctx context.Context, _ tree.Status) {
		now := store.Now()
		c.Metrics.RecordTick(ctx, now.Sub(last))
		last = now
	}
}

func (c *Controller) recordOutcome(ctx context.Context, rel *state.Release, rootStatus tree.Status) {
	for name, pkg := range rel.Packages {
		if pkg.Result != state.ResultPending {
			c.Metrics.RecordPackage(ctx, name, string(pkg.Result))
		}
	}
	c.Metrics.RecordRelease(ctx, rel.Tag, rootStatus.String())
}

// RenderStatus loads tag's state read-only and returns its rendering, for
// the status subcommand. No lock is taken: reads do not mutate.
func (c *Controller) RenderStatus(ctx context.Context, tag string) (string, error) {
	rel, err := c.Store.Load(ctx, tag)
	if err != nil {
		return "", err
	}
	return render.Render(rel.Project()), nil
}

func saveBestEffort(ctx context.Context, st *store.Store, rel *state.Release, logger *slog.Logger) {
	if err := st.Save(ctx, rel); err != nil {
		logger.Error("final state save failed", log.Error(err))
	}
}

func failedPackages(rel *state.Release) []string {
	var failed []string
	for name, pkg := range rel.Packages {
		if pkg.Result == state.ResultFailed {
			failed = append(failed, name)
		}
	}
	return failed
}
