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
	"time"

	"github.com/relctl/release-controller/internal/client/retry"
)

// Artifact describes one build artifact attached to a workflow run.
type Artifact struct {
	ID                 string
	Name               string
	SizeBytes          int64
	ArchiveDownloadURL string

	// SHA256 is the artifact content digest the host reports, hex-encoded
	// without a prefix; empty when the host does not provide one.
	SHA256 string
}

// Config configures a GitHubClient.
type Config struct {
	// BaseURL is the GitHub REST API root (default: https://api.github.com).
	BaseURL string

	// Owner and Repo identify the repository the release workflows live in.
	Owner string
	Repo  string

	// Token is a personal access token or installation token used directly
	// as a bearer credential. Ignored when AppID is set.
	Token string

	// AppID, InstallationID, and PrivateKeyPEM configure GitHub App
	// authentication: a short-lived JWT is minted and exchanged for an
	// installation access token, refreshed automatically before expiry.
	AppID          int64
	InstallationID int64
	PrivateKeyPEM  []byte

	// Timeout bounds each individual HTTP call (default: 30s).
	Timeout time.Duration

	// Retry configures the retry policy wrapping every call. Defaults to
	// retry.DefaultConfig() when nil.
	Retry *retry.Config
}
