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

// FakeClient is a scriptable in-memory Client used by release tree and
// controller tests to reproduce full release scenarios without a
// network round trip: a dispatch followed by a find-by-uuid match, a
// scripted sequence of GetRun polls, and a fixed artifact listing.
type FakeClient struct {
	mu sync.Mutex

	Dispatches []DispatchIntent

	// DiscoveredRuns maps "repo|workflowFile|uuid" to the run
	// FindRunByUUID should report for that dispatch.
	DiscoveredRuns map[string]*Run

	// DefaultRuns maps "repo|workflowFile" to the run FindRunByUUID
	// reports when no uuid-exact entry matches, for tests that cannot
	// know the generated dispatch uuid up front.
	DefaultRuns map[string]*Run

	// GetRunSequence maps a run id to the ordered list of states GetRun
	// returns on successive calls; the last entry repeats once exhausted.
	GetRunSequence map[string][]*Run

	getRunCalls map[string]int

	// Artifacts maps a run id to the artifacts ListArtifacts reports.
	Artifacts map[string][]Artifact

	// ArtifactBodies maps an artifact name to the bytes DownloadArtifact
	// returns.
	ArtifactBodies map[string][]byte

	// DispatchErr, when set, is returned by every Dispatch call.
	DispatchErr error
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		DiscoveredRuns: make(map[string]*Run),
		DefaultRuns:    make(map[string]*Run),
		GetRunSequence: make(map[string][]*Run),
		getRunCalls:    make(map[string]int),
		Artifacts:      make(map[string][]Artifact),
		ArtifactBodies: make(map[string][]byte),
	}
}

func discoverKey(repo, workflowFile, uuid string) string {
	return repo + "|" + workflowFile + "|" + uuid
}

// ScriptRun registers the run FindRunByUUID should report for the given
// dispatch coordinates, and the GetRun sequence that follows it.
func (f *FakeClient) ScriptRun(repo, workflowFile, uuid string, found *Run, sequence ...*Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DiscoveredRuns[discoverKey(repo, workflowFile, uuid)] = found
	f.GetRunSequence[found.ID] = sequence
}

// Dispatch implements Client.
func (f *FakeClient) Dispatch(ctx context.Context, repo, workflowFile, ref string, inputs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DispatchErr != nil {
		return f.DispatchErr
	}
	f.Dispatches = append(f.Dispatches, DispatchIntent{Repo: repo, WorkflowFile: workflowFile, Ref: ref, Inputs: inputs})
	return nil
}

// ScriptWorkflowRun registers the run FindRunByUUID reports for any
// dispatch of workflowFile, plus its GetRun sequence, when the test does
// not know the generated uuid.
func (f *FakeClient) ScriptWorkflowRun(repo, workflowFile string, found *Run, sequence ...*Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DefaultRuns[repo+"|"+workflowFile] = found
	f.GetRunSequence[found.ID] = sequence
}

// FindRunByUUID implements Client.
func (f *FakeClient) FindRunByUUID(ctx context.Context, repo, workflowFile, uuid string, since time.Time) (*Run, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.DiscoveredRuns[discoverKey(repo, workflowFile, uuid)]
	if !ok {
		run, ok = f.DefaultRuns[repo+"|"+workflowFile]
	}
	if !ok || run == nil {
		return nil, false, nil
	}
	clone := *run
	return &clone, true, nil
}

// GetRun implements Client, replaying the scripted sequence for runID one
// entry per call and holding on the last entry thereafter.
func (f *FakeClient) GetRun(ctx context.Context, repo, runID string) (*Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seq, ok := f.GetRunSequence[runID]
	if !ok || len(seq) == 0 {
		return nil, &Error{Op: "get_run", StatusCode: 404, Message: fmt.Sprintf("no scripted run %s", runID)}
	}

	idx := f.getRunCalls[runID]
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	f.getRunCalls[runID] = idx + 1

	clone := *seq[idx]
	return &clone, nil
}

// ListArtifacts implements Client.
func (f *FakeClient) ListArtifacts(ctx context.Context, repo, runID string) ([]Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Artifact(nil), f.Artifacts[runID]...), nil
}

// DownloadArtifact implements Client.
func (f *FakeClient) DownloadArtifact(ctx context.Context, repo, artifactID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return io.NopCloser(strings.NewReader(string(f.ArtifactBodies[artifactID]))), nil
}

var _ Client = (*FakeClient)(nil)
