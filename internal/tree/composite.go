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

// Sequence ticks children left to right every tick, re-scanning from the
// first child but skipping any that already reached a terminal status.
// It returns Running on the first child still running, Failure on the
// first child failure, and Success once every child has succeeded.
type Sequence struct {
	name     string
	children []Node
	status   Status
}

// NewSequence builds a Sequence over children, ticked in the given order.
func NewSequence(name string, children ...Node) *Sequence {
	return &Sequence{name: name, children: children}
}

func (s *Sequence) Name() string        { return s.name }
func (s *Sequence) LastStatus() Status  { return s.status }

// Tick implements Node.
func (s *Sequence) Tick(ctx *TickCtx) Status {
	for _, child := range s.children {
		st := child.LastStatus()
		if !st.Terminal() {
			st = child.Tick(ctx)
		}
		switch st {
		case Running:
			s.status = Running
			return s.status
		case Failure:
			s.status = Failure
			return s.status
		}
	}
	s.status = Success
	return s.status
}

// Reset implements Node.
func (s *Sequence) Reset() {
	s.status = Invalid
	for _, c := range s.children {
		c.Reset()
	}
}

// Cancel implements Node.
func (s *Sequence) Cancel() {
	for _, c := range s.children {
		if !c.LastStatus().Terminal() {
			c.Cancel()
		}
	}
}

// NonRetryable propagates the classification of the child whose failure
// settled this sequence: a Retry decorator wrapping the whole phase
// subtree must still skip its budget when the terminal failure came from
// a configuration problem deep in the pipeline.
func (s *Sequence) NonRetryable() bool { return childNonRetryable(s.children) }

// childNonRetryable reports whether any failed child classifies its
// failure as non-retryable.
func childNonRetryable(children []Node) bool {
	for _, c := range children {
		if c.LastStatus() != Failure {
			continue
		}
		if nr, ok := c.(nonRetryable); ok && nr.NonRetryable() {
			return true
		}
	}
	return false
}

// MemSequence is a Sequence variant that remembers the index of the
// current child instead of rescanning from the start, so preceding
// children are never re-examined once this node has advanced past them.
// Used for the per-package pipeline, whose early stages (EnsureBuild) can
// be expensive subtrees that must never be re-entered once succeeded.
type MemSequence struct {
	name     string
	children []Node
	idx      int
	status   Status
}

// NewMemSequence builds a MemSequence over children.
func NewMemSequence(name string, children ...Node) *MemSequence {
	return &MemSequence{name: name, children: children}
}

func (s *MemSequence) Name() string       { return s.name }
func (s *MemSequence) LastStatus() Status { return s.status }

// Tick implements Node.
func (s *MemSequence) Tick(ctx *TickCtx) Status {
	for s.idx < len(s.children) {
		st := s.children[s.idx].Tick(ctx)
		switch st {
		case Running:
			s.status = Running
			return s.status
		case Failure:
			s.status = Failure
			return s.status
		}
		s.idx++
	}
	s.status = Success
	return s.status
}

// Reset implements Node.
func (s *MemSequence) Reset() {
	s.status = Invalid
	s.idx = 0
	for _, c := range s.children {
		c.Reset()
	}
}

// Cancel implements Node.
func (s *MemSequence) Cancel() {
	if s.idx < len(s.children) {
		s.children[s.idx].Cancel()
	}
}

// NonRetryable propagates the failed child's classification, as Sequence
// does.
func (s *MemSequence) NonRetryable() bool { return childNonRetryable(s.children) }

// Fallback (a.k.a. selector) ticks children left to right, returning
// Success on the first child success, Running on the first child still
// running, and Failure only once every child has failed.
type Fallback struct {
	name     string
	children []Node
	status   Status
}

// NewFallback builds a Fallback over children.
func NewFallback(name string, children ...Node) *Fallback {
	return &Fallback{name: name, children: children}
}

func (f *Fallback) Name() string       { return f.name }
func (f *Fallback) LastStatus() Status { return f.status }

// Tick implements Node.
func (f *Fallback) Tick(ctx *TickCtx) Status {
	for _, child := range f.children {
		st := child.LastStatus()
		if !st.Terminal() {
			st = child.Tick(ctx)
		}
		switch st {
		case Running:
			f.status = Running
			return f.status
		case Success:
			f.status = Success
			return f.status
		}
	}
	f.status = Failure
	return f.status
}

// Reset implements Node.
func (f *Fallback) Reset() {
	f.status = Invalid
	for _, c := range f.children {
		c.Reset()
	}
}

// Cancel implements Node.
func (f *Fallback) Cancel() {
	for _, c := range f.children {
		if !c.LastStatus().Terminal() {
			c.Cancel()
		}
	}
}

// NonRetryable reports whether any of the (necessarily all) failed
// children classified its failure as non-retryable. A fallback only fails
// once every child has failed, so one non-retryable branch is enough to
// make re-attempting the whole node pointless.
func (f *Fallback) NonRetryable() bool { return childNonRetryable(f.children) }

// ParallelPolicy decides a Parallel node's aggregate status from its
// children's statuses.
type ParallelPolicy int

const (
	// AllSuccess succeeds once every child has succeeded; any single
	// failure is terminal for the whole node.
	AllSuccess ParallelPolicy = iota
	// AnyFailure fails as soon as any child fails; succeeds once every
	// child has succeeded (used identically to AllSuccess today, kept
	// distinct because the release tree's root names the semantics it
	// depends on explicitly).
	AnyFailure
)

// Parallel ticks every non-terminal child on every tick (no short-circuit
// skipping), aggregating per policy. On a failing short-circuit, the
// runtime cancels the remaining running children on the next tick.
type Parallel struct {
	name     string
	policy   ParallelPolicy
	children []Node
	status   Status
}

// NewParallel builds a Parallel node over children with the given policy.
func NewParallel(name string, policy ParallelPolicy, children ...Node) *Parallel {
	return &Parallel{name: name, policy: policy, children: children}
}

func (p *Parallel) Name() string       { return p.name }
func (p *Parallel) LastStatus() Status { return p.status }

// Tick implements Node.
func (p *Parallel) Tick(ctx *TickCtx) Status {
	anyRunning := false
	anyFailed := false
	allSucceeded := true

	for _, child := range p.children {
		st := child.LastStatus()
		if !st.Terminal() {
			st = child.Tick(ctx)
		}
		switch st {
		case Running:
			anyRunning = true
			allSucceeded = false
		case Failure:
			anyFailed = true
			allSucceeded = false
		case Success:
			// no-op: counts toward allSucceeded unless another child
			// disagrees.
		}
	}

	switch {
	case anyFailed && p.policy == AnyFailure:
		p.cancelRunning()
		p.status = Failure
	case allSucceeded:
		p.status = Success
	case anyFailed:
		// AllSuccess policy: a single failure is still terminal once no
		// child remains running, since the aggregate can never reach
		// all-success.
		if !anyRunning {
			p.status = Failure
		} else {
			p.status = Running
		}
	default:
		p.status = Running
	}
	return p.status
}

func (p *Parallel) cancelRunning() {
	for _, c := range p.children {
		if !c.LastStatus().Terminal() {
			c.Cancel()
		}
	}
}

// Reset implements Node.
func (p *Parallel) Reset() {
	p.status = Invalid
	for _, c := range p.children {
		c.Reset()
	}
}

// Cancel implements Node.
func (p *Parallel) Cancel() { p.cancelRunning() }

var (
	_ Node = (*Sequence)(nil)
	_ Node = (*MemSequence)(nil)
	_ Node = (*Fallback)(nil)
	_ Node = (*Parallel)(nil)
)
