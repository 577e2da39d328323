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

package tree_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relctl/release-controller/internal/tree"
)

func TestRuntime_RunsToSuccessOnDeferredCompletion(t *testing.T) {
	start := make(chan struct{})
	d := tree.NewDeferred("d", func(ctx context.Context) (tree.Status, error) {
		<-start
		return tree.Success, nil
	})

	rt := tree.NewRuntime(d, slog.Default())
	rt.PollInterval = time.Hour

	var hookCalls int32
	rt.AddHook(func(ctx context.Context, root tree.Status) {
		atomic.AddInt32(&hookCalls, 1)
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(start)
	}()

	status, err := rt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tree.Success, status)
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&hookCalls)), 2)
}

func TestRuntime_CancellationSettlesAndReturnsErr(t *testing.T) {
	d := tree.NewDeferred("d", func(ctx context.Context) (tree.Status, error) {
		<-ctx.Done()
		return tree.Failure, ctx.Err()
	})

	rt := tree.NewRuntime(d, slog.Default())
	rt.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	status, err := rt.Run(ctx)
	assert.Error(t, err)
	assert.Equal(t, tree.Failure, status)
}

func TestRuntime_PollIntervalTicksWithoutWake(t *testing.T) {
	calls := 0
	c := &pollingLeaf{results: []tree.Status{tree.Running, tree.Running, tree.Success}, onTick: func() { calls++ }}

	rt := tree.NewRuntime(c, slog.Default())
	rt.PollInterval = time.Millisecond

	status, err := rt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tree.Success, status)
	assert.GreaterOrEqual(t, calls, 3)
}

type pollingLeaf struct {
	results []tree.Status
	idx     int
	status  tree.Status
	onTick  func()
}

func (p *pollingLeaf) Name() string            { return "polling" }
func (p *pollingLeaf) LastStatus() tree.Status { return p.status }
func (p *pollingLeaf) Tick(ctx *tree.TickCtx) tree.Status {
	if p.onTick != nil {
		p.onTick()
	}
	if p.idx < len(p.results) {
		p.status = p.results[p.idx]
		p.idx++
	}
	return p.status
}
func (p *pollingLeaf) Reset()  { p.status = tree.Invalid; p.idx = 0 }
func (p *pollingLeaf) Cancel() {}
