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

package release_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relctl/release-controller/internal/client/workflow"
	"github.com/relctl/release-controller/internal/config"
	"github.com/relctl/release-controller/internal/release"
	"github.com/relctl/release-controller/internal/state"
	"github.com/relctl/release-controller/internal/tree"
)

const dockerRepo = "acme/server-docker"

func dockerConfig() *config.Config {
	return &config.Config{
		Version: 1,
		Packages: []config.Package{{
			Name: "docker",
			Repo: dockerRepo,
			Build: config.Phase{
				Workflow:           "build.yml",
				RefTemplate:        "release/{tag}",
				InputsTemplate:     map[string]string{"version": "{tag}"},
				Timeout:            time.Minute,
				ArtifactsWhitelist: []string{"pkg.tgz"},
			},
			Publish: config.Phase{
				Workflow:       "publish.yml",
				RefTemplate:    "release/{tag}",
				InputsTemplate: map[string]string{"archive": "{artifact_url[pkg.tgz]}"},
				Timeout:        time.Minute,
			},
		}},
	}
}

func fastOptions() release.Options {
	return release.Options{PollInitial: time.Millisecond, PollMax: 2 * time.Millisecond}
}

func runTree(t *testing.T, cfg *config.Config, rel *state.Release, fake *workflow.FakeClient) tree.Status {
	t.Helper()
	root := release.Build(cfg, rel, release.Clients{Workflow: fake}, fastOptions())
	rt := tree.NewRuntime(root, slog.Default())
	rt.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := rt.Run(ctx)
	require.NoError(t, err)
	return status
}

func inProgress(id string) *workflow.Run {
	return &workflow.Run{ID: id, URL: "https://ci.example/" + id, Status: "in_progress"}
}

func completed(id, conclusion string) *workflow.Run {
	return &workflow.Run{ID: id, URL: "https://ci.example/" + id, Status: "completed", Conclusion: conclusion, UpdatedAt: time.Now()}
}

func TestReleaseTree_HappyPathSinglePackage(t *testing.T) {
	cfg := dockerConfig()
	rel := state.New("8.2.0")
	release.EnsurePackages(cfg, rel, nil)

	fake := workflow.NewFakeClient()
	fake.ScriptWorkflowRun(dockerRepo, "build.yml", inProgress("1001"),
		inProgress("1001"), inProgress("1001"), completed("1001", "success"))
	fake.Artifacts["1001"] = []workflow.Artifact{
		{ID: "5", Name: "pkg.tgz", SizeBytes: 2048, ArchiveDownloadURL: "https://ci.example/artifacts/5", SHA256: "aa11"},
		{ID: "6", Name: "debug-symbols", SizeBytes: 4096, ArchiveDownloadURL: "https://ci.example/artifacts/6"},
	}
	fake.ScriptWorkflowRun(dockerRepo, "publish.yml", inProgress("1002"),
		completed("1002", "success"))

	status := runTree(t, cfg, rel, fake)
	assert.Equal(t, tree.Success, status)

	pkg := rel.Packages["docker"]
	assert.Equal(t, state.ResultSuccess, pkg.Result)
	assert.Equal(t, state.PhaseSucceeded, pkg.Build.Status)
	assert.Equal(t, state.PhaseSucceeded, pkg.Publish.Status)
	require.Contains(t, pkg.Artifacts, "pkg.tgz")
	assert.Equal(t, "1001", pkg.Artifacts["pkg.tgz"].SourceRunID)
	assert.Equal(t, "aa11", pkg.Artifacts["pkg.tgz"].SHA256)

	// The whitelist kept debug-symbols out.
	assert.NotContains(t, pkg.Artifacts, "debug-symbols")

	// Both dispatches carry the correlation uuid and the release tag; the
	// publish dispatch received the collected artifact's URL.
	require.Len(t, fake.Dispatches, 2)
	for _, d := range fake.Dispatches {
		assert.NotEmpty(t, d.Inputs["workflow_uuid"])
		assert.Equal(t, "8.2.0", d.Inputs["release_tag"])
		assert.Equal(t, "release/8.2.0", d.Ref)
	}
	assert.Equal(t, "https://ci.example/artifacts/5", fake.Dispatches[1].Inputs["archive"])
}

func TestReleaseTree_BuildFailureStopsBeforePublish(t *testing.T) {
	cfg := dockerConfig()
	rel := state.New("8.2.0")
	release.EnsurePackages(cfg, rel, nil)

	fake := workflow.NewFakeClient()
	fake.ScriptWorkflowRun(dockerRepo, "build.yml", inProgress("1001"),
		inProgress("1001"), completed("1001", "failure"))

	status := runTree(t, cfg, rel, fake)
	assert.Equal(t, tree.Failure, status)

	pkg := rel.Packages["docker"]
	assert.Equal(t, state.ResultFailed, pkg.Result)
	assert.Equal(t, state.PhaseFailed, pkg.Build.Status)
	assert.Equal(t, state.PhaseNotStarted, pkg.Publish.Status)
	assert.Nil(t, pkg.Publish.Run)

	// The Retry decorator re-attempted the build twice before giving up:
	// three dispatches, attempts counted for each reset.
	assert.Len(t, fake.Dispatches, 3)
	assert.Equal(t, 2, pkg.Build.Attempts)
}

func TestReleaseTree_ResumeAfterDispatchDoesNotRedispatch(t *testing.T) {
	cfg := dockerConfig()
	rel := state.New("8.2.0")
	release.EnsurePackages(cfg, rel, nil)

	// A prior controller run dispatched the build and persisted the uuid
	// before crashing: the run handle is still unknown.
	pkg := rel.Packages["docker"]
	pkg.Build.UUID = "c0ffee-1234"
	pkg.Build.Status = state.PhaseTriggered
	pkg.Build.DispatchedAt = time.Now().UTC().Format(time.RFC3339)

	fake := workflow.NewFakeClient()
	fake.ScriptRun(dockerRepo, "build.yml", "c0ffee-1234", inProgress("1001"),
		completed("1001", "success"))
	fake.Artifacts["1001"] = []workflow.Artifact{
		{ID: "5", Name: "pkg.tgz", ArchiveDownloadURL: "https://ci.example/artifacts/5"},
	}
	fake.ScriptWorkflowRun(dockerRepo, "publish.yml", completed("1002", "success"),
		completed("1002", "success"))

	status := runTree(t, cfg, rel, fake)
	assert.Equal(t, tree.Success, status)

	// Only the publish phase dispatched; the build was discovered via the
	// persisted uuid.
	require.Len(t, fake.Dispatches, 1)
	assert.Equal(t, "publish.yml", fake.Dispatches[0].WorkflowFile)
	assert.Equal(t, "1001", pkg.Build.Run.ID)
	assert.Equal(t, "c0ffee-1234", pkg.Build.UUID)
}

func TestReleaseTree_AlreadySucceededPhaseSkipsDispatch(t *testing.T) {
	cfg := dockerConfig()
	rel := state.New("8.2.0")
	release.EnsurePackages(cfg, rel, nil)

	pkg := rel.Packages["docker"]
	pkg.Build.Status = state.PhaseSucceeded
	pkg.Build.Run = &state.WorkflowRun{ID: "900", Conclusion: "success"}
	pkg.Artifacts["pkg.tgz"] = &state.ArtifactRef{
		Name: "pkg.tgz", SourceRunID: "900", DownloadURL: "https://ci.example/artifacts/1",
	}

	fake := workflow.NewFakeClient()
	fake.ScriptWorkflowRun(dockerRepo, "publish.yml", completed("1002", "success"),
		completed("1002", "success"))

	status := runTree(t, cfg, rel, fake)
	assert.Equal(t, tree.Success, status)

	require.Len(t, fake.Dispatches, 1)
	assert.Equal(t, "publish.yml", fake.Dispatches[0].WorkflowFile)
	// Invariant 3 held: the artifact still points at the original run.
	assert.Equal(t, "900", pkg.Artifacts["pkg.tgz"].SourceRunID)
}

func TestReleaseTree_DisabledPackageSkips(t *testing.T) {
	cfg := dockerConfig()
	cfg.Packages = append(cfg.Packages, config.Package{
		Name: "debian",
		Repo: "acme/server-debian",
		Build: config.Phase{
			Workflow: "build.yml", RefTemplate: "release/{tag}", Timeout: time.Minute,
		},
		Publish: config.Phase{
			Workflow: "publish.yml", RefTemplate: "release/{tag}", Timeout: time.Minute,
		},
	})

	rel := state.New("8.2.0")
	release.EnsurePackages(cfg, rel, []string{"docker"})

	fake := workflow.NewFakeClient()
	fake.ScriptWorkflowRun(dockerRepo, "build.yml", completed("1001", "success"),
		completed("1001", "success"))
	fake.Artifacts["1001"] = []workflow.Artifact{
		{ID: "5", Name: "pkg.tgz", ArchiveDownloadURL: "https://ci.example/artifacts/5"},
	}
	fake.ScriptWorkflowRun(dockerRepo, "publish.yml", completed("1002", "success"),
		completed("1002", "success"))

	status := runTree(t, cfg, rel, fake)
	assert.Equal(t, tree.Success, status)

	assert.Equal(t, state.ResultSkipped, rel.Packages["debian"].Result)
	assert.Equal(t, state.PhaseNotStarted, rel.Packages["debian"].Build.Status)
	assert.Equal(t, state.ResultSuccess, rel.Packages["docker"].Result)

	for _, d := range fake.Dispatches {
		assert.Equal(t, dockerRepo, d.Repo)
	}
}

func TestReleaseTree_MissingWhitelistedArtifactFailsPackage(t *testing.T) {
	cfg := dockerConfig()
	rel := state.New("8.2.0")
	release.EnsurePackages(cfg, rel, nil)

	fake := workflow.NewFakeClient()
	fake.ScriptWorkflowRun(dockerRepo, "build.yml", completed("1001", "success"),
		completed("1001", "success"))
	// Build succeeded but produced nothing matching the whitelist.
	fake.Artifacts["1001"] = []workflow.Artifact{
		{ID: "6", Name: "debug-symbols", ArchiveDownloadURL: "https://ci.example/artifacts/6"},
	}

	status := runTree(t, cfg, rel, fake)
	assert.Equal(t, tree.Failure, status)

	pkg := rel.Packages["docker"]
	assert.Equal(t, state.ResultFailed, pkg.Result)
	assert.Equal(t, state.PhaseSucceeded, pkg.Build.Status)
	assert.Equal(t, state.PhaseNotStarted, pkg.Publish.Status)
	assert.Empty(t, pkg.Artifacts)
}

func TestReleaseTree_DependencyEdgeOrdersBranches(t *testing.T) {
	cfg := dockerConfig()
	cfg.Packages = append(cfg.Packages, config.Package{
		Name:      "helm",
		Repo:      "acme/server-helm",
		DependsOn: "docker",
		Build: config.Phase{
			Workflow: "build.yml", RefTemplate: "release/{tag}", Timeout: time.Minute,
		},
		Publish: config.Phase{
			Workflow: "publish.yml", RefTemplate: "release/{tag}", Timeout: time.Minute,
		},
	})

	rel := state.New("8.2.0")
	release.EnsurePackages(cfg, rel, nil)

	fake := workflow.NewFakeClient()
	fake.ScriptWorkflowRun(dockerRepo, "build.yml", inProgress("1001"),
		inProgress("1001"), completed("1001", "success"))
	fake.Artifacts["1001"] = []workflow.Artifact{
		{ID: "5", Name: "pkg.tgz", ArchiveDownloadURL: "https://ci.example/artifacts/5"},
	}
	fake.ScriptWorkflowRun(dockerRepo, "publish.yml", completed("1002", "success"),
		completed("1002", "success"))
	fake.ScriptWorkflowRun("acme/server-helm", "build.yml", completed("2001", "success"),
		completed("2001", "success"))
	fake.ScriptWorkflowRun("acme/server-helm", "publish.yml", completed("2002", "success"),
		completed("2002", "success"))

	status := runTree(t, cfg, rel, fake)
	assert.Equal(t, tree.Success, status)
	assert.Equal(t, state.ResultSuccess, rel.Packages["docker"].Result)
	assert.Equal(t, state.ResultSuccess, rel.Packages["helm"].Result)

	// Helm's first dispatch happened after docker's publish dispatch: the
	// wait-for edge held the branch back.
	var order []string
	for _, d := range fake.Dispatches {
		order = append(order, d.Repo+"/"+d.WorkflowFile)
	}
	require.Len(t, order, 4)
	assert.Equal(t, "acme/server-helm/build.yml", order[2])
	assert.Equal(t, "acme/server-helm/publish.yml", order[3])
}

func TestReleaseTree_NonRetryableClientErrorSkipsRetry(t *testing.T) {
	cfg := dockerConfig()
	rel := state.New("8.2.0")
	release.EnsurePackages(cfg, rel, nil)

	// The run is known but get_run 404s (no scripted sequence): a
	// permanent client error that must not consume the Retry budget.
	pkg := rel.Packages["docker"]
	pkg.Build.UUID = "dead-beef"
	pkg.Build.Status = state.PhaseTriggered
	pkg.Build.Run = &state.WorkflowRun{ID: "404404"}

	fake := workflow.NewFakeClient()

	status := runTree(t, cfg, rel, fake)
	assert.Equal(t, tree.Failure, status)
	assert.Equal(t, state.PhaseFailed, pkg.Build.Status)
	assert.Equal(t, state.ResultFailed, pkg.Result)
	assert.Empty(t, fake.Dispatches)
	assert.Equal(t, 0, pkg.Build.Attempts)
}

func TestEnsurePackages_SelectionTogglesEnabled(t *testing.T) {
	cfg := dockerConfig()
	cfg.Packages = append(cfg.Packages, config.Package{
		Name: "debian", Repo: "acme/server-debian",
		Build:   config.Phase{Workflow: "build.yml", RefTemplate: "release/{tag}"},
		Publish: config.Phase{Workflow: "publish.yml", RefTemplate: "release/{tag}"},
	})

	rel := state.New("8.2.0")
	release.EnsurePackages(cfg, rel, nil)
	assert.True(t, rel.Packages["docker"].Enabled)
	assert.True(t, rel.Packages["debian"].Enabled)

	release.EnsurePackages(cfg, rel, []string{"debian"})
	assert.False(t, rel.Packages["docker"].Enabled)
	assert.True(t, rel.Packages["debian"].Enabled)

	// A later unrestricted run re-enables everything the restricted run
	// disabled.
	release.EnsurePackages(cfg, rel, nil)
	assert.True(t, rel.Packages["docker"].Enabled)
	assert.True(t, rel.Packages["debian"].Enabled)
}
