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

package controller_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relctl/release-controller/internal/client/objectstore"
	"github.com/relctl/release-controller/internal/client/status"
	"github.com/relctl/release-controller/internal/client/workflow"
	"github.com/relctl/release-controller/internal/config"
	"github.com/relctl/release-controller/internal/controller"
	"github.com/relctl/release-controller/internal/release"
	"github.com/relctl/release-controller/internal/state"
	"github.com/relctl/release-controller/internal/store"
	conductorerrors "github.com/relctl/release-controller/pkg/errors"
)

const dockerRepo = "acme/server-docker"

func twoPackageConfig() *config.Config {
	phase := func(wf string) config.Phase {
		return config.Phase{Workflow: wf, RefTemplate: "release/{tag}", Timeout: time.Minute}
	}
	cfg := &config.Config{
		Version: 1,
		Packages: []config.Package{
			{
				Name: "docker",
				Repo: dockerRepo,
				Build: config.Phase{
					Workflow:           "build.yml",
					RefTemplate:        "release/{tag}",
					Timeout:            time.Minute,
					ArtifactsWhitelist: []string{"pkg.tgz"},
				},
				Publish: phase("publish.yml"),
			},
			{
				Name:    "debian",
				Repo:    "acme/server-debian",
				Build:   phase("build.yml"),
				Publish: phase("publish.yml"),
			},
		},
	}
	return cfg
}

type harness struct {
	cfg        *config.Config
	storeFake  *objectstore.FakeClient
	wfFake     *workflow.FakeClient
	statusFake *status.FakeClient
	ctrl       *controller.Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		cfg:        twoPackageConfig(),
		storeFake:  objectstore.NewFakeClient(),
		wfFake:     workflow.NewFakeClient(),
		statusFake: status.NewFakeClient(),
	}
	h.ctrl = &controller.Controller{
		Config:  h.cfg,
		Store:   store.New(h.storeFake, slog.Default()),
		Clients: release.Clients{Workflow: h.wfFake},
		Status:  h.statusFake,
		Log:     slog.Default(),
	}
	return h
}

func (h *harness) run(t *testing.T, opts controller.Options) (int, error) {
	t.Helper()
	if opts.PollInitial == 0 {
		opts.PollInitial = time.Millisecond
	}
	if opts.PollMax == 0 {
		opts.PollMax = 2 * time.Millisecond
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.ctrl.Run(ctx, opts)
}

func (h *harness) scriptSuccess(repo, buildRun, publishRun string, artifacts ...workflow.Artifact) {
	h.wfFake.ScriptWorkflowRun(repo, "build.yml", &workflow.Run{ID: buildRun, URL: "https://ci.example/" + buildRun, Status: "in_progress"},
		&workflow.Run{ID: buildRun, URL: "https://ci.example/" + buildRun, Status: "completed", Conclusion: "success"})
	h.wfFake.Artifacts[buildRun] = artifacts
	h.wfFake.ScriptWorkflowRun(repo, "publish.yml", &workflow.Run{ID: publishRun, URL: "https://ci.example/" + publishRun, Status: "completed", Conclusion: "success"},
		&workflow.Run{ID: publishRun, Status: "completed", Conclusion: "success"})
}

func (h *harness) persisted(t *testing.T, tag string) *state.Release {
	t.Helper()
	data, found, err := h.storeFake.LoadState(context.Background(), tag)
	require.NoError(t, err)
	require.True(t, found)
	var rel state.Release
	require.NoError(t, json.Unmarshal(data, &rel))
	return &rel
}

func TestController_HappyPath(t *testing.T) {
	h := newHarness(t)
	h.scriptSuccess(dockerRepo, "1001", "1002",
		workflow.Artifact{ID: "5", Name: "pkg.tgz", ArchiveDownloadURL: "https://ci.example/artifacts/5", SHA256: "aa11"})
	h.scriptSuccess("acme/server-debian", "2001", "2002")

	code, err := h.run(t, controller.Options{Tag: "8.2.0", StatusChannel: "C42"})
	require.NoError(t, err)
	assert.Equal(t, controller.ExitSuccess, code)

	rel := h.persisted(t, "8.2.0")
	assert.Equal(t, state.ReleaseTypeGA, rel.ReleaseType)
	for _, name := range []string{"docker", "debian"} {
		pkg := rel.Packages[name]
		require.NotNil(t, pkg, name)
		assert.Equal(t, state.ResultSuccess, pkg.Result, name)
		assert.Equal(t, state.PhaseSucceeded, pkg.Build.Status, name)
		assert.Equal(t, state.PhaseSucceeded, pkg.Publish.Status, name)
	}
	require.Contains(t, rel.Packages["docker"].Artifacts, "pkg.tgz")
	assert.Equal(t, "1001", rel.Packages["docker"].Artifacts["pkg.tgz"].SourceRunID)

	// Persisted snapshots never carry ephemeral status coordinates.
	assert.Nil(t, rel.Meta.Ephemeral)

	// A status message was posted and updated along the way.
	assert.Len(t, h.statusFake.Posted, 1)
	assert.NotEmpty(t, h.statusFake.Updates)

	// The lock was released: a second controller can acquire it.
	_, err = store.New(h.storeFake, slog.Default()).AcquireLock(context.Background(), "8.2.0")
	assert.NoError(t, err)
}

func TestController_BuildFailureExitsOne(t *testing.T) {
	h := newHarness(t)
	h.wfFake.ScriptWorkflowRun(dockerRepo, "build.yml", &workflow.Run{ID: "1001", URL: "https://ci.example/1001", Status: "in_progress"},
		&workflow.Run{ID: "1001", URL: "https://ci.example/1001", Status: "completed", Conclusion: "failure"})
	h.scriptSuccess("acme/server-debian", "2001", "2002")

	code, err := h.run(t, controller.Options{Tag: "8.2.0"})
	require.NoError(t, err)
	assert.Equal(t, controller.ExitFailed, code)

	rel := h.persisted(t, "8.2.0")
	assert.Equal(t, state.ResultFailed, rel.Packages["docker"].Result)
	assert.Equal(t, state.PhaseFailed, rel.Packages["docker"].Build.Status)
	assert.Equal(t, state.PhaseNotStarted, rel.Packages["docker"].Publish.Status)
	// The independent package still went through.
	assert.Equal(t, state.ResultSuccess, rel.Packages["debian"].Result)
}

func TestController_ForceRebuildSinglePackage(t *testing.T) {
	h := newHarness(t)

	// First run: everything succeeds.
	h.scriptSuccess(dockerRepo, "1001", "1002",
		workflow.Artifact{ID: "5", Name: "pkg.tgz", ArchiveDownloadURL: "https://ci.example/artifacts/5"})
	h.scriptSuccess("acme/server-debian", "2001", "2002")
	code, err := h.run(t, controller.Options{Tag: "8.2.0"})
	require.NoError(t, err)
	require.Equal(t, controller.ExitSuccess, code)
	firstDispatches := len(h.wfFake.Dispatches)

	// Second run: rebuild docker only; its workflows run again under new
	// run ids while debian short-circuits on PhaseAlreadySucceeded.
	h.scriptSuccess(dockerRepo, "3001", "3002",
		workflow.Artifact{ID: "7", Name: "pkg.tgz", ArchiveDownloadURL: "https://ci.example/artifacts/7"})
	code, err = h.run(t, controller.Options{Tag: "8.2.0", ForceRebuild: "docker"})
	require.NoError(t, err)
	require.Equal(t, controller.ExitSuccess, code)

	rel := h.persisted(t, "8.2.0")
	assert.Equal(t, "3001", rel.Packages["docker"].Build.Run.ID)
	assert.Equal(t, "3001", rel.Packages["docker"].Artifacts["pkg.tgz"].SourceRunID)
	assert.Equal(t, "2001", rel.Packages["debian"].Build.Run.ID, "untouched package keeps its original run")

	newDispatches := h.wfFake.Dispatches[firstDispatches:]
	require.Len(t, newDispatches, 2)
	for _, d := range newDispatches {
		assert.Equal(t, dockerRepo, d.Repo)
	}
}

func TestController_ResumeReachesSameTerminalState(t *testing.T) {
	h := newHarness(t)
	h.scriptSuccess(dockerRepo, "1001", "1002",
		workflow.Artifact{ID: "5", Name: "pkg.tgz", ArchiveDownloadURL: "https://ci.example/artifacts/5"})
	h.scriptSuccess("acme/server-debian", "2001", "2002")

	// Simulate a crash mid-run: a persisted document with the build
	// dispatched (uuid known, run undiscovered) and nothing else.
	rel := state.New("8.2.0")
	release.EnsurePackages(h.cfg, rel, nil)
	rel.Packages["docker"].Build.UUID = "persisted-uuid"
	rel.Packages["docker"].Build.Status = state.PhaseTriggered
	rel.Packages["docker"].Build.DispatchedAt = time.Now().UTC().Format(time.RFC3339)
	rel.MarkDirty()
	require.NoError(t, store.New(h.storeFake, slog.Default()).Save(context.Background(), rel))

	h.wfFake.ScriptRun(dockerRepo, "build.yml", "persisted-uuid",
		&workflow.Run{ID: "1001", URL: "https://ci.example/1001", Status: "completed", Conclusion: "success"},
		&workflow.Run{ID: "1001", Status: "completed", Conclusion: "success"})

	code, err := h.run(t, controller.Options{Tag: "8.2.0"})
	require.NoError(t, err)
	assert.Equal(t, controller.ExitSuccess, code)

	// The build was never re-dispatched: its uuid survived the crash.
	for _, d := range h.wfFake.Dispatches {
		if d.Repo == dockerRepo && d.WorkflowFile == "build.yml" {
			t.Fatalf("build re-dispatched despite persisted uuid: %+v", d)
		}
	}
	final := h.persisted(t, "8.2.0")
	assert.Equal(t, "persisted-uuid", final.Packages["docker"].Build.UUID)
	assert.Equal(t, state.ResultSuccess, final.Packages["docker"].Result)
}

func TestController_LockContentionExitsThree(t *testing.T) {
	h := newHarness(t)

	other := store.New(h.storeFake, slog.Default())
	_, err := other.AcquireLock(context.Background(), "8.2.0")
	require.NoError(t, err)

	code, err := h.run(t, controller.Options{Tag: "8.2.0"})
	assert.Equal(t, controller.ExitLockHeld, code)
	var held *conductorerrors.LockHeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, other.HolderID(), held.HolderID)
}

func TestController_DryRunPersistsNothing(t *testing.T) {
	h := newHarness(t)

	// Dry run wiring: no-op clients all around, as the release command
	// assembles them.
	noopStore := objectstore.NewNoOpClient("dry-run")
	h.ctrl.Store = store.New(noopStore, slog.Default())
	wfNoop := workflow.NewNoOpClient()
	h.ctrl.Clients = release.Clients{Workflow: wfNoop}

	code, err := h.run(t, controller.Options{Tag: "8.2.0", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, controller.ExitSuccess, code)

	// Intents were recorded, but nothing was dispatched for real and no
	// state landed in the real store.
	assert.Len(t, wfNoop.Intents, 4)
	_, found, err := h.storeFake.LoadState(context.Background(), "8.2.0")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestController_UnknownOnlyPackageIsUsageError(t *testing.T) {
	h := newHarness(t)
	code, err := h.run(t, controller.Options{Tag: "8.2.0", OnlyPackages: []string{"nonesuch"}})
	assert.Equal(t, controller.ExitUsage, code)
	assert.Error(t, err)
}

func TestController_ForceReleaseTypeOverridesDerivation(t *testing.T) {
	h := newHarness(t)
	h.scriptSuccess(dockerRepo, "1001", "1002",
		workflow.Artifact{ID: "5", Name: "pkg.tgz", ArchiveDownloadURL: "https://ci.example/artifacts/5"})
	h.scriptSuccess("acme/server-debian", "2001", "2002")

	code, err := h.run(t, controller.Options{Tag: "8.2.0", ForceReleaseType: "maintenance"})
	require.NoError(t, err)
	require.Equal(t, controller.ExitSuccess, code)

	rel := h.persisted(t, "8.2.0")
	assert.Equal(t, state.ReleaseTypeMaintenance, rel.ReleaseType)
}

func TestController_RenderStatusReadsWithoutLock(t *testing.T) {
	h := newHarness(t)
	h.scriptSuccess(dockerRepo, "1001", "1002",
		workflow.Artifact{ID: "5", Name: "pkg.tgz", ArchiveDownloadURL: "https://ci.example/artifacts/5"})
	h.scriptSuccess("acme/server-debian", "2001", "2002")
	code, err := h.run(t, controller.Options{Tag: "8.2.0"})
	require.NoError(t, err)
	require.Equal(t, controller.ExitSuccess, code)

	// Hold the lock: status must still render.
	_, err = store.New(h.storeFake, slog.Default()).AcquireLock(context.Background(), "8.2.0")
	require.NoError(t, err)

	body, err := h.ctrl.RenderStatus(context.Background(), "8.2.0")
	require.NoError(t, err)
	assert.Contains(t, body, "*Release 8.2.0*")
	assert.Contains(t, body, "✅ `docker`")
	assert.Contains(t, body, "✅ `debian`")
}
