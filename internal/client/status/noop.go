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

package status

import "context"

// NoOpClient satisfies Client for --dry-run: it never posts, returning a
// synthetic timestamp so callers holding a handle behave identically to
// the real client.
type NoOpClient struct{}

// NewNoOpClient returns a NoOpClient.
func NewNoOpClient() *NoOpClient { return &NoOpClient{} }

// PostMessage implements Client.
func (n *NoOpClient) PostMessage(ctx context.Context, channel, thread, body string) (string, error) {
	return "dryrun-ts", nil
}

// UpdateMessage implements Client.
func (n *NoOpClient) UpdateMessage(ctx context.Context, channel, ts, body string) error { return nil }

var _ Client = (*NoOpClient)(nil)
