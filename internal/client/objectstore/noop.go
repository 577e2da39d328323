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

package objectstore

import (
	"context"
	"time"
)

// NoOpClient satisfies Client for --dry-run: it grants every lock request
// immediately and never persists state, so a dry run can exercise the full
// controller loop without touching the real object store.
type NoOpClient struct {
	HolderID string
}

// NewNoOpClient returns a NoOpClient that always grants locks to holderID.
func NewNoOpClient(holderID string) *NoOpClient {
	return &NoOpClient{HolderID: holderID}
}

// AcquireLock always succeeds.
func (n *NoOpClient) AcquireLock(ctx context.Context, tag, holderID string, ttl time.Duration) (*Lock, error) {
	now := time.Now().UTC()
	return &Lock{Tag: tag, HolderID: holderID, AcquiredAt: now, ExpiresAt: now.Add(ttl)}, nil
}

// ReleaseLock is a no-op.
func (n *NoOpClient) ReleaseLock(ctx context.Context, lock *Lock) error { return nil }

// LoadState always reports not found, so a dry run starts from a fresh
// release document every time.
func (n *NoOpClient) LoadState(ctx context.Context, tag string) ([]byte, bool, error) {
	return nil, false, nil
}

// SaveState discards data.
func (n *NoOpClient) SaveState(ctx context.Context, tag string, data []byte) error { return nil }

// DeleteState is a no-op.
func (n *NoOpClient) DeleteState(ctx context.Context, tag string) error { return nil }

var _ Client = (*NoOpClient)(nil)
