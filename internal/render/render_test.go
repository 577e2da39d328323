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

package render_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relctl/release-controller/internal/client/status"
	"github.com/relctl/release-controller/internal/render"
	"github.com/relctl/release-controller/internal/state"
)

func sampleRelease() *state.Release {
	rel := state.New("8.2.0")
	mk := func() *state.PackageState {
		return state.NewPackageState("build.yml", "main", nil, "publish.yml", "main", nil)
	}
	docker := rel.Package("docker", mk)
	docker.Build.Status = state.PhaseSucceeded
	docker.Build.Run = &state.WorkflowRun{ID: "1001", URL: "https://ci.example/1001"}
	docker.Publish.Status = state.PhaseInProgress
	docker.Publish.Run = &state.WorkflowRun{ID: "1002", URL: "https://ci.example/1002"}

	debian := rel.Package("debian", mk)
	debian.Build.Status = state.PhaseFailed
	debian.Result = state.ResultFailed
	return rel
}

func TestRender_PerPackageLinesAndRollup(t *testing.T) {
	body := render.Render(sampleRelease().Project())

	assert.Contains(t, body, "*Release 8.2.0* (ga)")
	assert.Contains(t, body, "1 failed")
	assert.Contains(t, body, "`docker`")
	assert.Contains(t, body, "<https://ci.example/1001|build succeeded>")
	assert.Contains(t, body, "<https://ci.example/1002|publish in_progress>")
	assert.Contains(t, body, "❌ `debian`")
	assert.Contains(t, body, "(build failed)")
}

func TestRenderer_StartPinsEphemeralCoordinates(t *testing.T) {
	rel := sampleRelease()
	fake := status.NewFakeClient()
	r := render.New(fake, "C42", rel, slog.Default())

	r.Start(context.Background())

	require.NotNil(t, rel.Meta.Ephemeral)
	assert.Equal(t, "C42", rel.Meta.Ephemeral.StatusChannel)
	assert.NotEmpty(t, rel.Meta.Ephemeral.StatusTS)
	assert.Len(t, fake.Posted, 1)
}

func TestRenderer_RefreshOnlyOnChange(t *testing.T) {
	rel := sampleRelease()
	fake := status.NewFakeClient()
	r := render.New(fake, "C42", rel, slog.Default())
	ctx := context.Background()

	r.Start(ctx)
	r.Refresh(ctx)
	assert.Empty(t, fake.Updates, "unchanged rendering must not call update")

	rel.Packages["docker"].Publish.Status = state.PhaseSucceeded
	rel.Packages["docker"].Result = state.ResultSuccess
	r.Refresh(ctx)
	require.Len(t, fake.Updates, 1)
	assert.Contains(t, fake.Updates[0].Body, "✅ `docker`")

	r.Refresh(ctx)
	assert.Len(t, fake.Updates, 1)
}

func TestRenderer_NoChannelIsNoOp(t *testing.T) {
	rel := sampleRelease()
	fake := status.NewFakeClient()
	r := render.New(fake, "", rel, slog.Default())
	ctx := context.Background()

	r.Start(ctx)
	r.Refresh(ctx)
	assert.Empty(t, fake.Posted)
	assert.Empty(t, fake.Updates)
	assert.Nil(t, rel.Meta.Ephemeral)
}
