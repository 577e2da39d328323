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

// Package workflow implements the release controller's workflow-host
// client: dispatching a GitHub Actions workflow, correlating the resulting
// run via an echoed uuid, polling it to completion, and downloading the
// artifacts it produced.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relctl/release-controller/internal/client/httputil"
	"github.com/relctl/release-controller/internal/client/retry"
	conductorerrors "github.com/relctl/release-controller/pkg/errors"
)

// Run is a workflow run handle as reported by the workflow host.
type Run struct {
	ID         string
	URL        string
	Status     string // queued, in_progress, completed
	Conclusion string // success, failure, cancelled, timed_out, ""
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// Terminal reports whether the run has reached a completed status.
func (r *Run) Terminal() bool { return r != nil && r.Status == "completed" }

// Client is the release controller's workflow-host contract. Every method
// is a single cooperative suspension point for the behavior tree runtime
// calling it from a deferred leaf.
type Client interface {
	// Dispatch fires a workflow_dispatch event. inputs must already
	// contain "workflow_uuid"; the caller (internal/release) is
	// responsible for generating it.
	Dispatch(ctx context.Context, repo, workflowFile, ref string, inputs map[string]string) error

	// FindRunByUUID scans runs of workflowFile created at or after since,
	// looking for uuid in a listable field (job name). found is false
	// when no matching run has appeared yet.
	FindRunByUUID(ctx context.Context, repo, workflowFile, uuid string, since time.Time) (run *Run, found bool, err error)

	// GetRun fetches the current status/conclusion of runID.
	GetRun(ctx context.Context, repo, runID string) (*Run, error)

	// ListArtifacts lists the artifacts produced by runID.
	ListArtifacts(ctx context.Context, repo, runID string) ([]Artifact, error)

	// DownloadArtifact streams the zip archive for artifactID. The caller
	// is responsible for closing the returned reader.
	DownloadArtifact(ctx context.Context, repo, artifactID string) (io.ReadCloser, error)
}

// GitHubClient is the production Client backed by the GitHub REST API.
type GitHubClient struct {
	baseURL    string
	owner      string
	repo       string
	httpClient *http.Client
	retry      *retry.Config
	tokens     tokenSource
}

// New builds a GitHubClient from cfg. Owner/Repo in cfg name the default
// repository; individual calls may address other repos in the same
// installation by passing a different "owner/repo" slug.
func New(cfg Config) (*GitHubClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}

	httpClient := &http.Client{Timeout: timeout}

	var tokens tokenSource
	if cfg.AppID != 0 {
		src, err := newAppTokenSource(baseURL, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPEM, httpClient)
		if err != nil {
			return nil, err
		}
		tokens = src
	} else {
		tokens = staticTokenSource{token: cfg.Token}
	}

	return &GitHubClient{
		baseURL:    baseURL,
		owner:      cfg.Owner,
		repo:       cfg.Repo,
		httpClient: httpClient,
		retry:      retryCfg,
		tokens:     tokens,
	}, nil
}

func splitRepo(repo string) (owner, name string) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 {
		return "", repo
	}
	return parts[0], parts[1]
}

func (c *GitHubClient) do(ctx context.Context, op, method, path string, body any) (*http.Response, []byte, error) {
	result, err := retry.Execute(ctx, c.retry, func(ctx context.Context) (*doResult, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, conductorerrors.Wrap(err, "workflow: encode request")
			}
			reader = strings.NewReader(string(payload))
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("workflow: build request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		httputil.SetBearerAuth(req, token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, classifyTransportErr(op, c.httpClient.Timeout, err)
		}
		defer resp.Body.Close()

		data, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			e := classifyStatus(op, resp.StatusCode, string(data))
			if resp.StatusCode == 403 && resp.Header.Get("Retry-After") != "" {
				if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil {
					e.Retryable = true
					e.RetryDelay = time.Duration(secs) * time.Second
				}
			}
			return nil, e
		}
		return &doResult{status: resp.StatusCode, body: data, headers: resp.Header}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result.unwrap()
}

// doResult carries a successful response out of retry.Execute's generic
// signature without forcing every caller to juggle *http.Response.
type doResult struct {
	status  int
	body    []byte
	headers http.Header
}

func (r *doResult) unwrap() (*http.Response, []byte, error) {
	if r == nil {
		return nil, nil, nil
	}
	return &http.Response{StatusCode: r.status, Header: r.headers}, r.body, nil
}

// classifyTransportErr maps a failed round trip onto the error taxonomy:
// timeouts become TimeoutError (retryable via its Classifiable methods),
// everything else a retryable transport Error.
func classifyTransportErr(op string, timeout time.Duration, err error) error {
	var ne net.Error
	if conductorerrors.As(err, &ne) && ne.Timeout() {
		return &conductorerrors.TimeoutError{Operation: "workflow " + op, Duration: timeout, Cause: err}
	}
	return &Error{Op: op, Message: err.Error(), Retryable: true, Cause: err}
}

// Dispatch implements Client.
func (c *GitHubClient) Dispatch(ctx context.Context, repo, workflowFile, ref string, inputs map[string]string) error {
	owner, name := splitRepo(repo)
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches", owner, name, workflowFile)
	payload := struct {
		Ref    string            `json:"ref"`
		Inputs map[string]string `json:"inputs,omitempty"`
	}{Ref: ref, Inputs: inputs}

	_, _, err := c.do(ctx, "dispatch", http.MethodPost, path, payload)
	return err
}

type runsListResponse struct {
	WorkflowRuns []runResponse `json:"workflow_runs"`
}

type runResponse struct {
	ID         int64  `json:"id"`
	HTMLURL    string `json:"html_url"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func (r runResponse) toRun() *Run {
	started, _ := time.Parse(time.RFC3339, r.CreatedAt)
	updated, _ := time.Parse(time.RFC3339, r.UpdatedAt)
	return &Run{
		ID:         strconv.FormatInt(r.ID, 10),
		URL:        r.HTMLURL,
		Status:     r.Status,
		Conclusion: r.Conclusion,
		StartedAt:  started,
		UpdatedAt:  updated,
	}
}

// FindRunByUUID implements Client. The dispatch API never returns a run
// id, so the run is located by scanning the workflow's recent runs and
// matching the caller-generated uuid against each run's job names (the
// dispatch inputs include the uuid as a job-name component, per the
// workflow dispatch contract).
func (c *GitHubClient) FindRunByUUID(ctx context.Context, repo, workflowFile, uuid string, since time.Time) (*Run, bool, error) {
	owner, name := splitRepo(repo)
	query := httputil.BuildQuery(map[string]string{
		"event":   "workflow_dispatch",
		"created": ">=" + since.UTC().Format(time.RFC3339),
		"per_page": "20",
	})
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/runs%s", owner, name, workflowFile, query)

	_, body, err := c.do(ctx, "find_run_by_uuid", http.MethodGet, path, nil)
	if err != nil {
		return nil, false, err
	}

	var list runsListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, false, conductorerrors.Wrap(err, "workflow: decode runs list")
	}

	for _, r := range list.WorkflowRuns {
		matched, err := c.runHasUUID(ctx, repo, strconv.FormatInt(r.ID, 10), uuid)
		if err != nil {
			return nil, false, err
		}
		if matched {
			return r.toRun(), true, nil
		}
	}
	return nil, false, nil
}

type jobsListResponse struct {
	Jobs []struct {
		Name string `json:"name"`
	} `json:"jobs"`
}

// runHasUUID reports whether any job of runID echoes uuid in its name,
// per the workflow_uuid job-name convention the dispatch contract relies
// on for correlation.
func (c *GitHubClient) runHasUUID(ctx context.Context, repo, runID, uuid string) (bool, error) {
	owner, name := splitRepo(repo)
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%s/jobs", owner, name, runID)

	_, body, err := c.do(ctx, "list_jobs", http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	var jobs jobsListResponse
	if err := json.Unmarshal(body, &jobs); err != nil {
		return false, conductorerrors.Wrap(err, "workflow: decode jobs list")
	}
	for _, j := range jobs.Jobs {
		if strings.Contains(j.Name, uuid) {
			return true, nil
		}
	}
	return false, nil
}

// GetRun implements Client.
func (c *GitHubClient) GetRun(ctx context.Context, repo, runID string) (*Run, error) {
	owner, name := splitRepo(repo)
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%s", owner, name, runID)

	_, body, err := c.do(ctx, "get_run", http.MethodGet, path, nil)
	if err != nil {
		var we *Error
		if conductorerrors.As(err, &we) && we.IsNotFound() {
			return nil, &conductorerrors.NotFoundError{Resource: "workflow run", ID: repo + "#" + runID}
		}
		return nil, err
	}
	var r runResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, conductorerrors.Wrap(err, "workflow: decode run")
	}
	return r.toRun(), nil
}

type artifactsListResponse struct {
	Artifacts []struct {
		ID                 int64  `json:"id"`
		Name               string `json:"name"`
		SizeInBytes        int64  `json:"size_in_bytes"`
		ArchiveDownloadURL string `json:"archive_download_url"`
		Digest             string `json:"digest"`
	} `json:"artifacts"`
}

// ListArtifacts implements Client.
func (c *GitHubClient) ListArtifacts(ctx context.Context, repo, runID string) ([]Artifact, error) {
	owner, name := splitRepo(repo)
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%s/artifacts", owner, name, runID)

	_, body, err := c.do(ctx, "list_artifacts", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var list artifactsListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, conductorerrors.Wrap(err, "workflow: decode artifacts list")
	}

	out := make([]Artifact, 0, len(list.Artifacts))
	for _, a := range list.Artifacts {
		out = append(out, Artifact{
			ID:                 strconv.FormatInt(a.ID, 10),
			Name:               a.Name,
			SizeBytes:          a.SizeInBytes,
			ArchiveDownloadURL: a.ArchiveDownloadURL,
			SHA256:             strings.TrimPrefix(a.Digest, "sha256:"),
		})
	}
	return out, nil
}

// DownloadArtifact implements Client.
func (c *GitHubClient) DownloadArtifact(ctx context.Context, repo, artifactID string) (io.ReadCloser, error) {
	owner, name := splitRepo(repo)
	path := fmt.Sprintf("/repos/%s/%s/actions/artifacts/%s/zip", owner, name, artifactID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	httputil.SetBearerAuth(req, token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportErr("download_artifact", c.httpClient.Timeout, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus("download_artifact", resp.StatusCode, string(data))
	}
	return resp.Body, nil
}

var _ Client = (*GitHubClient)(nil)
