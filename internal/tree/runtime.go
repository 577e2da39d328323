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

package tree

import (
	"context"
	"log/slog"
	"time"
)

// Hook runs after every tick, in registration order, with the tick's
// resulting root status. Hooks are how the controller persists state and
// renders status without the tree package importing either concern.
type Hook func(ctx context.Context, root Status)

// Runtime drives a root Node to quiescence: it ticks once immediately,
// then waits on either the wake channel (a deferred leaf completed) or a
// poll interval, ticking again each time, until the root reaches a
// terminal status or the context is cancelled. Exactly one goroutine
// calls Tick for the lifetime of a Runtime: single control flow, no
// concurrent tree mutation.
type Runtime struct {
	Root Node
	Log  *slog.Logger

	// PollInterval bounds how long the runtime waits for a wake signal
	// before ticking anyway, as a safety net against a leaf that forgets
	// to notify. Defaults to 30s if zero.
	PollInterval time.Duration

	hooks []Hook
}

// NewRuntime builds a Runtime over root.
func NewRuntime(root Node, log *slog.Logger) *Runtime {
	return &Runtime{Root: root, Log: log}
}

// AddHook registers a post-tick hook, called in the order added.
func (r *Runtime) AddHook(h Hook) { r.hooks = append(r.hooks, h) }

// Run ticks Root to quiescence, returning its terminal status. It never
// returns Running: ctx.Err() takes precedence and is returned as Failure
// with err set, so the caller (the controller's lifecycle loop) can
// distinguish a clean terminal status from cancellation.
func (r *Runtime) Run(ctx context.Context) (Status, error) {
	poll := r.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}

	wake := make(chan struct{}, 1)
	tctx := &TickCtx{Ctx: ctx, Log: r.Log, Wake: wake}

	for {
		status := r.Root.Tick(tctx)
		r.runHooks(ctx, status)

		if status.Terminal() {
			return status, nil
		}

		timer := time.NewTimer(poll)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			r.Root.Cancel()
			// One final tick lets a cancelled deferred leaf settle and
			// the hooks observe the failed terminal status before Run
			// returns, so the caller's best-effort persistence sees
			// consistent state.
			final := r.Root.Tick(tctx)
			r.runHooks(ctx, final)
			return final, ctx.Err()
		}
	}
}

func (r *Runtime) runHooks(ctx context.Context, status Status) {
	for _, h := range r.hooks {
		h(ctx, status)
	}
}
