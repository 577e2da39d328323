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
	"sync"
)

// Condition is a leaf that evaluates a pure, synchronous predicate every
// tick: no Running state, no cancellation to propagate. Used for guards
// like "phase already succeeded" that only read release state.
type Condition struct {
	name      string
	predicate func() bool
	status    Status
}

// NewCondition builds a Condition leaf.
func NewCondition(name string, predicate func() bool) *Condition {
	return &Condition{name: name, predicate: predicate}
}

func (c *Condition) Name() string       { return c.name }
func (c *Condition) LastStatus() Status { return c.status }

// Tick implements Node.
func (c *Condition) Tick(ctx *TickCtx) Status {
	if c.predicate() {
		c.status = Success
	} else {
		c.status = Failure
	}
	return c.status
}

// Reset implements Node.
func (c *Condition) Reset() { c.status = Invalid }

// Cancel implements Node.
func (c *Condition) Cancel() {}

// InstantFunc is a leaf that runs a synchronous, side-effecting function
// exactly once per attempt (i.e. once per Reset), settling immediately to
// Success or Failure from the returned error. Used for leaves whose work
// is itself just a state mutation (e.g. recording a dispatch's uuid)
// rather than a blocking client call.
type InstantFunc struct {
	name   string
	fn     func(ctx context.Context) error
	ran    bool
	err    error
	status Status
}

// NewInstantFunc builds an InstantFunc leaf.
func NewInstantFunc(name string, fn func(ctx context.Context) error) *InstantFunc {
	return &InstantFunc{name: name, fn: fn}
}

func (f *InstantFunc) Name() string       { return f.name }
func (f *InstantFunc) LastStatus() Status { return f.status }

// Tick implements Node.
func (f *InstantFunc) Tick(ctx *TickCtx) Status {
	if f.ran {
		return f.status
	}
	f.ran = true
	if err := f.fn(ctx.Ctx); err != nil {
		f.err = err
		f.status = Failure
		return f.status
	}
	f.status = Success
	return f.status
}

// Reset implements Node.
func (f *InstantFunc) Reset() { f.status = Invalid; f.ran = false; f.err = nil }

// Cancel implements Node.
func (f *InstantFunc) Cancel() {}

// NonRetryable propagates the failure classification of the wrapped
// function's error, so a configuration error raised by an instant leaf
// (bad template, unknown artifact) is never re-attempted by Retry.
func (f *InstantFunc) NonRetryable() bool {
	if nr, ok := asNonRetryable(f.err); ok {
		return nr
	}
	return false
}

// Deferred is a leaf backed by a background goroutine: its first Tick
// launches work, returning Running; subsequent ticks poll a result
// channel without blocking, and the goroutine wakes the runtime through
// TickCtx.Notify when it finishes. This is the shape every client-calling
// leaf (dispatch, poll-run, download-artifact) is built from, so that the
// single tick loop never blocks on network I/O.
type Deferred struct {
	name string
	work func(ctx context.Context) (Status, error)

	mu        sync.Mutex
	started   bool
	done      chan struct{}
	result    Status
	err       error
	cancel    context.CancelFunc
	nonRetry  bool
	status    Status
}

// NewDeferred builds a Deferred leaf. work runs on a background goroutine
// and must itself respect ctx cancellation. If work returns a non-nil
// error alongside Failure, the leaf's status is Failure; Success from
// work always wins regardless of a non-nil error (defensive; work should
// not do this).
func NewDeferred(name string, work func(ctx context.Context) (Status, error)) *Deferred {
	return &Deferred{name: name, work: work}
}

func (d *Deferred) Name() string       { return d.name }
func (d *Deferred) LastStatus() Status { return d.status }

// Tick implements Node.
func (d *Deferred) Tick(tctx *TickCtx) Status {
	d.mu.Lock()
	if !d.started {
		d.started = true
		d.done = make(chan struct{})
		runCtx, cancel := context.WithCancel(tctx.Ctx)
		d.cancel = cancel
		go d.run(tctx, runCtx)
		d.status = Running
		d.mu.Unlock()
		return d.status
	}
	done := d.done
	d.mu.Unlock()

	select {
	case <-done:
		d.mu.Lock()
		d.status = d.result
		d.mu.Unlock()
	default:
		d.status = Running
	}
	return d.status
}

func (d *Deferred) run(tctx *TickCtx, runCtx context.Context) {
	st, err := d.work(runCtx)
	d.mu.Lock()
	d.result = st
	if err != nil && st == Failure {
		if nr, ok := asNonRetryable(err); ok {
			d.nonRetry = nr
		}
	}
	d.mu.Unlock()
	close(d.done)
	tctx.Notify()
}

// asNonRetryable inspects err for a NonRetryable() bool method, the same
// convention pkg/errors' typed errors use to mark configuration and
// business failures as not worth retrying.
func asNonRetryable(err error) (bool, bool) {
	type nonRetryableErr interface {
		NonRetryable() bool
	}
	if nr, ok := err.(nonRetryableErr); ok {
		return nr.NonRetryable(), true
	}
	return false, false
}

// NonRetryable implements the tree package's private nonRetryable
// interface so a wrapping Retry decorator can bypass retry budget for
// configuration and business failures surfaced by work's error.
func (d *Deferred) NonRetryable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nonRetry
}

// Reset implements Node.
func (d *Deferred) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = Invalid
	d.started = false
	d.done = nil
	d.result = Invalid
	d.err = nil
	d.cancel = nil
	d.nonRetry = false
}

// Cancel implements Node.
func (d *Deferred) Cancel() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

var (
	_ Node = (*Condition)(nil)
	_ Node = (*InstantFunc)(nil)
	_ Node = (*Deferred)(nil)
)
