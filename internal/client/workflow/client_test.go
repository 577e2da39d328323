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

package workflow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relctl/release-controller/internal/client/retry"
	"github.com/relctl/release-controller/internal/client/workflow"
	conductorerrors "github.com/relctl/release-controller/pkg/errors"
)

func newTestClient(t *testing.T, srv *httptest.Server) *workflow.GitHubClient {
	t.Helper()
	c, err := workflow.New(workflow.Config{
		BaseURL: srv.URL,
		Token:   "test-token",
		Retry:   &retry.Config{MaxAttempts: 1},
	})
	require.NoError(t, err)
	return c
}

func TestDispatch_Success(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/repos/example/docker-images/actions/workflows/build.yml/dispatches", r.URL.Path)
		body, _ := json.Marshal(map[string]any{"ref": "main", "inputs": map[string]string{"workflow_uuid": "abc"}})
		gotBody = string(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.Dispatch(context.Background(), "example/docker-images", "build.yml", "main", map[string]string{"workflow_uuid": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.NotEmpty(t, gotBody)
}

func TestDispatch_NonRetryableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "not found"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.Dispatch(context.Background(), "example/docker-images", "build.yml", "main", nil)
	require.Error(t, err)

	var we *workflow.Error
	require.ErrorAs(t, err, &we)
	assert.True(t, we.IsNotFound())
	assert.False(t, we.IsRetryable())
}

func TestGetRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/example/docker-images/actions/runs/1001", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"id":         1001,
			"html_url":   "https://github.com/example/docker-images/actions/runs/1001",
			"status":     "completed",
			"conclusion": "success",
			"created_at": "2026-07-01T00:00:00Z",
			"updated_at": "2026-07-01T00:05:00Z",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	run, err := c.GetRun(context.Background(), "example/docker-images", "1001")
	require.NoError(t, err)
	assert.Equal(t, "1001", run.ID)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, "success", run.Conclusion)
	assert.True(t, run.Terminal())
}

func TestGetRun_MissingRunIsNotFoundError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "not found"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GetRun(context.Background(), "example/docker-images", "404404")
	require.Error(t, err)

	var nfe *conductorerrors.NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "workflow run", nfe.Resource)
	assert.True(t, nfe.NonRetryable())
}

func TestFindRunByUUID_MatchesJobName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/example/docker-images/actions/workflows/build.yml/runs":
			json.NewEncoder(w).Encode(map[string]any{
				"workflow_runs": []map[string]any{
					{"id": 1001, "html_url": "u", "status": "in_progress", "created_at": "2026-07-01T00:00:00Z", "updated_at": "2026-07-01T00:00:00Z"},
				},
			})
		case r.URL.Path == "/repos/example/docker-images/actions/runs/1001/jobs":
			json.NewEncoder(w).Encode(map[string]any{
				"jobs": []map[string]any{{"name": "build (uuid=corr-123)"}},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	run, found, err := c.FindRunByUUID(context.Background(), "example/docker-images", "build.yml", "corr-123", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1001", run.ID)
}

func TestListArtifacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"artifacts": []map[string]any{
				{"id": 5, "name": "pkg.tgz", "size_in_bytes": 1024, "archive_download_url": "https://example/artifacts/5"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	artifacts, err := c.ListArtifacts(context.Background(), "example/docker-images", "1001")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "pkg.tgz", artifacts[0].Name)
	assert.Equal(t, int64(1024), artifacts[0].SizeBytes)
}
