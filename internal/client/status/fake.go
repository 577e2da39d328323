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

import (
	"context"
	"fmt"
	"sync"
)

// Update records one UpdateMessage call.
type Update struct {
	Channel string
	TS      string
	Body    string
}

// FakeClient is an in-memory Client used by renderer and controller tests.
type FakeClient struct {
	mu       sync.Mutex
	counter  int
	Messages map[string]string // ts -> last posted body
	Channels map[string]string // ts -> channel
	Posted   []string          // ts of each PostMessage, in order
	Updates  []Update          // every UpdateMessage call, in order
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{Messages: make(map[string]string), Channels: make(map[string]string)}
}

// PostMessage implements Client.
func (f *FakeClient) PostMessage(ctx context.Context, channel, thread, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	ts := fmt.Sprintf("fake-ts-%d", f.counter)
	f.Messages[ts] = body
	f.Channels[ts] = channel
	f.Posted = append(f.Posted, ts)
	return ts, nil
}

// UpdateMessage implements Client.
func (f *FakeClient) UpdateMessage(ctx context.Context, channel, ts, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages[ts] = body
	f.Updates = append(f.Updates, Update{Channel: channel, TS: ts, Body: body})
	return nil
}

var _ Client = (*FakeClient)(nil)
