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

import "time"

// Inverter flips its child's terminal status; Running passes through
// unchanged.
type Inverter struct {
	name   string
	child  Node
	status Status
}

// NewInverter wraps child.
func NewInverter(name string, child Node) *Inverter {
	return &Inverter{name: name, child: child}
}

func (i *Inverter) Name() string       { return i.name }
func (i *Inverter) LastStatus() Status { return i.status }

// Tick implements Node.
func (i *Inverter) Tick(ctx *TickCtx) Status {
	st := i.child.Tick(ctx)
	switch st {
	case Success:
		i.status = Failure
	case Failure:
		i.status = Success
	default:
		i.status = st
	}
	return i.status
}

// Reset implements Node.
func (i *Inverter) Reset() { i.status = Invalid; i.child.Reset() }

// Cancel implements Node.
func (i *Inverter) Cancel() { i.child.Cancel() }

// RetryOn selects which terminal outcome Retry reacts to.
type RetryOn int

const (
	// RetryOnFailure re-attempts the child whenever it fails.
	RetryOnFailure RetryOn = iota
)

// Retry re-attempts a failed child up to n times, resetting it between
// attempts. A child whose failure is classified non-retryable (via the
// nonRetryable interface — authentication, missing repo, bad config) is
// never retried regardless of remaining budget, per the propagation
// policy: business failures are not retried except by this decorator, and
// this decorator itself must not paper over configuration problems.
type Retry struct {
	name     string
	child    Node
	max      int
	on       RetryOn
	attempts int
	status   Status
}

// NewRetry wraps child, retrying up to max additional times (beyond the
// first attempt) on failure.
func NewRetry(name string, max int, on RetryOn, child Node) *Retry {
	return &Retry{name: name, child: child, max: max, on: on}
}

func (r *Retry) Name() string       { return r.name }
func (r *Retry) LastStatus() Status { return r.status }

// Tick implements Node.
func (r *Retry) Tick(ctx *TickCtx) Status {
	st := r.child.Tick(ctx)
	if st != Failure {
		r.status = st
		return r.status
	}

	if nr, ok := r.child.(nonRetryable); ok && nr.NonRetryable() {
		r.status = Failure
		return r.status
	}

	if r.attempts >= r.max {
		r.status = Failure
		return r.status
	}

	r.attempts++
	r.child.Reset()
	r.status = Running
	return r.status
}

// Reset implements Node.
func (r *Retry) Reset() {
	r.status = Invalid
	r.attempts = 0
	r.child.Reset()
}

// Cancel implements Node.
func (r *Retry) Cancel() { r.child.Cancel() }

// Attempts reports how many retries have been consumed, for status
// rendering and tests.
func (r *Retry) Attempts() int { return r.attempts }

// Timeout fails its child if it has not reached a terminal status within
// duration of the timeout's first tick.
type Timeout struct {
	name     string
	child    Node
	duration time.Duration
	deadline time.Time
	started  bool
	fired    bool
	status   Status
}

// NewTimeout wraps child with an overall duration cap.
func NewTimeout(name string, duration time.Duration, child Node) *Timeout {
	return &Timeout{name: name, child: child, duration: duration}
}

func (t *Timeout) Name() string       { return t.name }
func (t *Timeout) LastStatus() Status { return t.status }

// Tick implements Node.
func (t *Timeout) Tick(ctx *TickCtx) Status {
	if !t.started {
		t.started = true
		t.deadline = time.Now().Add(t.duration)
	}

	if time.Now().After(t.deadline) {
		t.fired = true
		t.child.Cancel()
		t.status = Failure
		return t.status
	}

	t.status = t.child.Tick(ctx)
	return t.status
}

// Reset implements Node.
func (t *Timeout) Reset() {
	t.status = Invalid
	t.started = false
	t.fired = false
	t.child.Reset()
}

// Cancel implements Node.
func (t *Timeout) Cancel() { t.child.Cancel() }

// NonRetryable propagates the child's classification when the child
// failed on its own. A fired timeout stays retryable: it is transient
// infrastructure slowness, not a configuration error.
func (t *Timeout) NonRetryable() bool {
	if t.fired || t.child.LastStatus() != Failure {
		return false
	}
	if nr, ok := t.child.(nonRetryable); ok {
		return nr.NonRetryable()
	}
	return false
}

// Guard skips its child, settling immediately to Failure, whenever
// predicate returns false. Used for PackageBranch's enabled check: a
// disabled package never ticks its subtree.
type Guard struct {
	name      string
	predicate func() bool
	child     Node
	status    Status
}

// NewGuard wraps child behind predicate.
func NewGuard(name string, predicate func() bool, child Node) *Guard {
	return &Guard{name: name, predicate: predicate, child: child}
}

func (g *Guard) Name() string       { return g.name }
func (g *Guard) LastStatus() Status { return g.status }

// Tick implements Node.
func (g *Guard) Tick(ctx *TickCtx) Status {
	if !g.predicate() {
		g.status = Failure
		return g.status
	}
	g.status = g.child.Tick(ctx)
	return g.status
}

// Reset implements Node.
func (g *Guard) Reset() { g.status = Invalid; g.child.Reset() }

// NonRetryable propagates the child's classification; a guard rejected by
// its own predicate stays retryable (the predicate may hold next attempt).
func (g *Guard) NonRetryable() bool {
	if g.child.LastStatus() != Failure {
		return false
	}
	if nr, ok := g.child.(nonRetryable); ok {
		return nr.NonRetryable()
	}
	return false
}

// Cancel implements Node.
func (g *Guard) Cancel() { g.child.Cancel() }

var (
	_ Node = (*Inverter)(nil)
	_ Node = (*Retry)(nil)
	_ Node = (*Timeout)(nil)
	_ Node = (*Guard)(nil)
)
