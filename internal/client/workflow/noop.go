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

package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// NoOpClient satisfies Client for --dry-run: every dispatch is recorded
// but never sent, and the recorded run settles to success on the first
// poll so the dry-run tree reaches a terminal state without ever touching
// the network.
type NoOpClient struct {
	mu      sync.Mutex
	counter int
	Intents []DispatchIntent
}

// DispatchIntent records one Dispatch call a dry run would otherwise have
// made.
type DispatchIntent struct {
	Repo         string
	WorkflowFile string
	Ref          string
	Inputs       map[string]string
}

// NewNoOpClient returns an empty NoOpClient.
func NewNoOpClient() *NoOpClient { return &NoOpClient{} }

// Dispatch records the intent and always succeeds.
func (n *NoOpClient) Dispatch(ctx context.Context, repo, workflowFile, ref string, inputs map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Intents = append(n.Intents, DispatchIntent{Repo: repo, WorkflowFile: workflowFile, Ref: ref, Inputs: inputs})
	return nil
}

// FindRunByUUID synthesizes a run id from the uuid so monitoring has a
// stable handle to poll.
func (n *NoOpClient) FindRunByUUID(ctx context.Context, repo, workflowFile, uuid string, since time.Time) (*Run, bool, error) {
	n.mu.Lock()
	n.counter++
	id := n.counter
	n.mu.Unlock()
	return &Run{ID: fmt.Sprintf("dryrun-%d-%s", id, uuid), Status: "queued"}, true, nil
}

// GetRun always reports the run as immediately completed and successful.
func (n *NoOpClient) GetRun(ctx context.Context, repo, runID string) (*Run, error) {
	return &Run{ID: runID, Status: "completed", Conclusion: "success", UpdatedAt: time.Now()}, nil
}

// ListArtifacts returns no artifacts; a dry run never produces real build
// output.
func (n *NoOpClient) ListArtifacts(ctx context.Context, repo, runID string) ([]Artifact, error) {
	return nil, nil
}

// DownloadArtifact is never called in a dry run (ListArtifacts returns
// none), but is implemented for interface completeness.
func (n *NoOpClient) DownloadArtifact(ctx context.Context, repo, artifactID string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

var _ Client = (*NoOpClient)(nil)
