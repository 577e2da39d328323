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
	"sync"
	"time"

	conductorerrors "github.com/relctl/release-controller/pkg/errors"
)

// FakeClient is an in-memory Client used by controller and store tests,
// reproducing the same conditional-create lock semantics as S3Client
// without a network round trip.
type FakeClient struct {
	mu     sync.Mutex
	locks  map[string]*Lock
	states map[string][]byte
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		locks:  make(map[string]*Lock),
		states: make(map[string][]byte),
	}
}

// AcquireLock implements Client.
func (f *FakeClient) AcquireLock(ctx context.Context, tag, holderID string, ttl time.Duration) (*Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := f.locks[tag]; ok && now.Before(existing.ExpiresAt) {
		return nil, &conductorerrors.LockHeldError{Tag: tag, HolderID: existing.HolderID}
	}

	lock := &Lock{Tag: tag, HolderID: holderID, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	f.locks[tag] = lock
	return &Lock{Tag: lock.Tag, HolderID: lock.HolderID, AcquiredAt: lock.AcquiredAt, ExpiresAt: lock.ExpiresAt}, nil
}

// ReleaseLock implements Client.
func (f *FakeClient) ReleaseLock(ctx context.Context, lock *Lock) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.locks[lock.Tag]
	if !ok || existing.HolderID != lock.HolderID {
		return nil
	}
	delete(f.locks, lock.Tag)
	return nil
}

// LoadState implements Client.
func (f *FakeClient) LoadState(ctx context.Context, tag string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.states[tag]
	if !ok {
		return nil, false, nil
	}
	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, true, nil
}

// SaveState implements Client.
func (f *FakeClient) SaveState(ctx context.Context, tag string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := make([]byte, len(data))
	copy(clone, data)
	f.states[tag] = clone
	return nil
}

// DeleteState implements Client.
func (f *FakeClient) DeleteState(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.states, tag)
	return nil
}

var _ Client = (*FakeClient)(nil)
