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

// Package status implements the release controller's status-sink client:
// posting and in-place updating a Slack message that tracks a release's
// progress.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/relctl/release-controller/internal/client/httputil"
	"github.com/relctl/release-controller/internal/client/retry"
)

// Client is the release controller's status-sink contract.
type Client interface {
	// PostMessage sends the first status message to channel (optionally
	// threaded under thread) and returns its timestamp, the handle later
	// passed to UpdateMessage.
	PostMessage(ctx context.Context, channel, thread, body string) (ts string, err error)

	// UpdateMessage replaces the body of the message identified by ts.
	// Implementations must treat "no change" responses as success.
	UpdateMessage(ctx context.Context, channel, ts, body string) error
}

// SlackClient is the production Client backed by the Slack Web API.
type SlackClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      *retry.Config
}

// Config configures a SlackClient.
type Config struct {
	// BaseURL is the Slack Web API root (default: https://slack.com/api).
	BaseURL string

	// Token is the bot token used as a bearer credential.
	Token string

	// Timeout bounds each individual HTTP call (default: 10s).
	Timeout time.Duration

	// Retry configures the retry policy wrapping every call. Defaults to
	// retry.DefaultConfig() when nil.
	Retry *retry.Config
}

// New builds a SlackClient from cfg.
func New(cfg Config) *SlackClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &SlackClient{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retryCfg,
	}
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

func (c *SlackClient) call(ctx context.Context, method string, payload map[string]string) (*apiResponse, error) {
	return retry.Execute(ctx, c.retry, func(ctx context.Context) (*apiResponse, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("status: encode request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(string(body)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		httputil.SetBearerAuth(req, c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &Error{Op: method, Message: err.Error(), Retryable: true, Cause: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := parseRetryAfter(resp.Header.Get("Retry-After"))
			return nil, &Error{Op: method, StatusCode: resp.StatusCode, Message: "rate limited", Retryable: true, RetryDelay: delay}
		}
		if resp.StatusCode >= 500 {
			return nil, &Error{Op: method, StatusCode: resp.StatusCode, Message: "server error", Retryable: true}
		}

		var decoded apiResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, fmt.Errorf("status: decode response: %w", err)
		}
		if !decoded.OK && !isIgnorableError(decoded.Error) {
			return nil, &Error{Op: method, Message: decoded.Error}
		}
		return &decoded, nil
	})
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// isIgnorableError reports whether a Slack API error response represents
// an idempotent no-op that the caller should treat as success: updating a
// message with content identical to what is already posted.
func isIgnorableError(code string) bool {
	return code == "message_not_changed"
}

// PostMessage implements Client.
func (c *SlackClient) PostMessage(ctx context.Context, channel, thread, body string) (string, error) {
	payload := map[string]string{"channel": channel, "text": body}
	if thread != "" {
		payload["thread_ts"] = thread
	}
	resp, err := c.call(ctx, "chat.postMessage", payload)
	if err != nil {
		return "", err
	}
	return resp.TS, nil
}

// UpdateMessage implements Client.
func (c *SlackClient) UpdateMessage(ctx context.Context, channel, ts, body string) error {
	_, err := c.call(ctx, "chat.update", map[string]string{"channel": channel, "ts": ts, "text": body})
	return err
}

var _ Client = (*SlackClient)(nil)
