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
	"time"

	"github.com/relctl/release-controller/internal/client/workflow"
	"github.com/relctl/release-controller/internal/log"
	"github.com/relctl/release-controller/internal/state"
	"github.com/relctl/release-controller/internal/tree"
	conductorerrors "github.com/relctl/release-controller/pkg/errors"
)

// monitorRun is the deferred leaf that follows a dispatched workflow run
// to its terminal state. While the run id is unknown it scans recent runs
// for the dispatch uuid; once known it polls get_run on a doubling backoff
// (10s to a 2m cap by default). Exactly one client call is in flight at a
// time, and its result is applied to release state on the next tick, never
// from the background goroutine, so every mutation happens on the
// runtime's single control flow.
//
// The leaf settles Success once the run reports a terminal status of any
// conclusion; mapping that conclusion onto the phase is collectOutcome's
// job. It settles Failure on a cancelled subtree or an exhausted client
// error.
type monitorRun struct {
	name    string
	rel     *state.Release
	repo    string
	phase   *state.PhaseState
	clients Clients
	opts    Options

	status  tree.Status
	backoff time.Duration
	nextAt  time.Time

	mu        sync.Mutex
	inFlight  bool
	done      bool
	found     *workflow.Run
	foundOK   bool
	callErr   error
	cancelled bool
	cancel    context.CancelFunc
	timer     *time.Timer
	nonRetry  bool
}

func newMonitorRun(name string, rel *state.Release, repo string, phase *state.PhaseState, clients Clients, opts Options) *monitorRun {
	return &monitorRun{name: name, rel: rel, repo: repo, phase: phase, clients: clients, opts: opts}
}

func (m *monitorRun) Name() string            { return m.name }
func (m *monitorRun) LastStatus() tree.Status { return m.status }

// Tick implements tree.Node.
func (m *monitorRun) Tick(ctx *tree.TickCtx) tree.Status {
	m.mu.Lock()
	cancelled := m.cancelled
	inFlight := m.inFlight
	completed := m.done
	m.mu.Unlock()

	if cancelled {
		if !m.phase.Status.Terminal() {
			m.phase.Status = state.PhaseCancelled
			m.rel.MarkDirty()
		}
		m.status = tree.Failure
		return m.status
	}

	if completed {
		m.status = m.apply(ctx)
		return m.status
	}
	if inFlight {
		m.status = tree.Running
		return m.status
	}

	// Between polls: wait out the backoff window, waking the runtime when
	// it elapses rather than relying on its safety-net poll interval.
	if !m.nextAt.IsZero() && Now().Before(m.nextAt) {
		m.armTimer(ctx, time.Until(m.nextAt))
		m.status = tree.Running
		return m.status
	}

	m.launch(ctx)
	m.status = tree.Running
	return m.status
}

// launch starts the single outstanding client call for this leaf: a
// find-by-uuid scan while the run id is unknown, a get_run poll once it is.
func (m *monitorRun) launch(tctx *tree.TickCtx) {
	runCtx, cancel := context.WithCancel(tctx.Ctx)

	m.mu.Lock()
	m.inFlight = true
	m.done = false
	m.found = nil
	m.foundOK = false
	m.callErr = nil
	m.cancel = cancel
	m.mu.Unlock()

	uuid := m.phase.UUID
	workflowFile := m.phase.Workflow
	var runID string
	if m.phase.Run != nil {
		runID = m.phase.Run.ID
	}
	since := dispatchedSince(m.phase)

	go func() {
		defer cancel()
		var (
			run   *workflow.Run
			found bool
			err   error
		)
		if runID == "" {
			run, found, err = m.clients.Workflow.FindRunByUUID(runCtx, m.repo, workflowFile, uuid, since)
		} else {
			run, err = m.clients.Workflow.GetRun(runCtx, m.repo, runID)
			found = run != nil
		}

		m.mu.Lock()
		m.inFlight = false
		m.done = true
		m.found = run
		m.foundOK = found
		m.callErr = err
		m.mu.Unlock()
		tctx.Notify()
	}()
}

// apply consumes a completed call's result on the tick thread.
func (m *monitorRun) apply(tctx *tree.TickCtx) tree.Status {
	m.mu.Lock()
	run, found, err := m.found, m.foundOK, m.callErr
	m.done = false
	m.mu.Unlock()

	if err != nil {
		if nr, ok := errNonRetryable(err); ok && nr {
			m.mu.Lock()
			m.nonRetry = true
			m.mu.Unlock()
		}
		tctx.Log.Warn("run monitoring failed", log.String(log.NodeKey, m.name), log.Error(err))
		if !m.phase.Status.Terminal() {
			m.phase.Status = state.PhaseFailed
			m.rel.MarkDirty()
		}
		return tree.Failure
	}

	if !found {
		// The dispatched run has not appeared in the listing yet; widen
		// the backoff and scan again.
		m.scheduleNext(tctx)
		return tree.Running
	}

	m.recordRun(run)

	if !run.Terminal() {
		if m.phase.Status == state.PhaseTriggered {
			m.phase.Status = state.PhaseInProgress
			m.rel.MarkDirty()
		}
		m.scheduleNext(tctx)
		return tree.Running
	}

	tctx.Log.Info("run completed",
		log.String(log.NodeKey, m.name),
		log.String(log.RunIDKey, run.ID),
		log.String("conclusion", run.Conclusion))
	return tree.Success
}

// recordRun folds the freshly observed run handle into the phase.
func (m *monitorRun) recordRun(run *workflow.Run) {
	wr := &state.WorkflowRun{
		ID:         run.ID,
		URL:        run.URL,
		Conclusion: run.Conclusion,
	}
	if !run.StartedAt.IsZero() {
		wr.StartedAt = run.StartedAt.UTC().Format(timeLayout)
	}
	if !run.UpdatedAt.IsZero() {
		wr.UpdatedAt = run.UpdatedAt.UTC().Format(timeLayout)
	}
	prev := m.phase.Run
	if prev == nil || *prev != *wr {
		m.phase.Run = wr
		m.rel.MarkDirty()
	}
}

func (m *monitorRun) scheduleNext(tctx *tree.TickCtx) {
	if m.backoff == 0 {
		m.backoff = m.opts.pollInitial()
	} else {
		m.backoff *= 2
		if max := m.opts.pollMax(); m.backoff > max {
			m.backoff = max
		}
	}
	m.nextAt = Now().Add(m.backoff)
	log.Trace(tctx.Log, "run poll scheduled",
		log.String(log.NodeKey, m.name),
		log.Duration("backoff", m.backoff.Milliseconds()))
	m.armTimer(tctx, m.backoff)
}

func (m *monitorRun) armTimer(tctx *tree.TickCtx, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	if d < 0 {
		d = 0
	}
	m.timer = time.AfterFunc(d, func() { tctx.Notify() })
}

// Reset implements tree.Node.
func (m *monitorRun) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = tree.Invalid
	m.backoff = 0
	m.nextAt = time.Time{}
	m.inFlight = false
	m.done = false
	m.found = nil
	m.foundOK = false
	m.callErr = nil
	m.cancelled = false
	m.nonRetry = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.cancel = nil
}

// Cancel implements tree.Node: the in-flight call's context is cancelled
// and the leaf settles Failure on its next tick. The phase is stamped
// cancelled here as well, because a firing Timeout decorator never ticks
// this leaf again. Cancel runs on the tick thread, so the mutation is
// safe.
func (m *monitorRun) Cancel() {
	m.mu.Lock()
	m.cancelled = true
	cancel := m.cancel
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if !m.phase.Status.Terminal() && m.phase.Status != state.PhaseNotStarted {
		m.phase.Status = state.PhaseCancelled
		m.rel.MarkDirty()
	}
}

// NonRetryable reports whether the terminal failure came from a client
// error classified as permanent (authentication, missing repo), bypassing
// the phase Retry budget per the propagation policy.
func (m *monitorRun) NonRetryable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonRetry
}

// dispatchedSince parses the phase's dispatch timestamp for the
// find-by-uuid scan window, falling back to a one-day lookback when the
// timestamp is absent or malformed.
func dispatchedSince(phase *state.PhaseState) time.Time {
	if phase.DispatchedAt != "" {
		if t, err := time.Parse(timeLayout, phase.DispatchedAt); err == nil {
			return t
		}
	}
	return Now().Add(-24 * time.Hour)
}

// errNonRetryable mirrors the tree package's classification convention,
// walking the wrap chain so a typed error keeps its classification after
// being wrapped with context.
func errNonRetryable(err error) (bool, bool) {
	type nonRetryableErr interface{ NonRetryable() bool }
	type classifiable interface{ IsRetryable() bool }
	for e := err; e != nil; e = conductorerrors.Unwrap(e) {
		if nr, ok := e.(nonRetryableErr); ok {
			return nr.NonRetryable(), true
		}
		if c, ok := e.(classifiable); ok {
			return !c.IsRetryable(), true
		}
	}
	return false, false
}

var _ tree.Node = (*monitorRun)(nil)
