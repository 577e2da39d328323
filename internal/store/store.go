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

// Package store wraps the object-store client with the release state
// lifecycle: lock-guarded load and save of the state document, ephemeral
// field stripping, and the force-rebuild reset primitives.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/relctl/release-controller/internal/client/objectstore"
	"github.com/relctl/release-controller/internal/log"
	"github.com/relctl/release-controller/internal/state"
	"github.com/relctl/release-controller/internal/tree"
	conductorerrors "github.com/relctl/release-controller/pkg/errors"
)

// DefaultLockTTL bounds how long a crashed controller's lock survives
// before another instance may reclaim it.
const DefaultLockTTL = 2 * time.Hour

// Now is overridable in tests so last-updated stamps are deterministic.
var Now = time.Now

// ResetAll is the Reset selector that deletes the whole stored document.
const ResetAll = "all"

// Store mediates all access to the persisted release state.
type Store struct {
	client   objectstore.Client
	log      *slog.Logger
	holderID string
	lockTTL  time.Duration
}

// New builds a Store over client. The holder id identifies this process in
// lock diagnostics (host, pid, and a random suffix).
func New(client objectstore.Client, logger *slog.Logger) *Store {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Store{
		client:   client,
		log:      logger,
		holderID: fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8]),
		lockTTL:  DefaultLockTTL,
	}
}

// SetLockTTL overrides the lock lease duration; zero restores the default.
func (s *Store) SetLockTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	s.lockTTL = ttl
}

// HolderID returns this store's lock holder identity.
func (s *Store) HolderID() string { return s.holderID }

// AcquireLock takes the release lock for tag, returning
// *conductorerrors.LockHeldError when another instance holds it.
func (s *Store) AcquireLock(ctx context.Context, tag string) (*objectstore.Lock, error) {
	lock, err := s.client.AcquireLock(ctx, tag, s.holderID, s.lockTTL)
	if err != nil {
		return nil, err
	}
	s.log.Info("release lock acquired", log.String(log.TagKey, tag), log.String("holder_id", s.holderID))
	return lock, nil
}

// ReleaseLock releases lock, logging rather than failing when the lock has
// already vanished — the controller calls this on every exit path and must
// not mask the original error with a release problem.
func (s *Store) ReleaseLock(ctx context.Context, lock *objectstore.Lock) {
	if lock == nil {
		return
	}
	if err := s.client.ReleaseLock(ctx, lock); err != nil {
		s.log.Warn("release lock not released", log.String(log.TagKey, lock.Tag), log.Error(err))
		return
	}
	s.log.Info("release lock released", log.String(log.TagKey, lock.Tag))
}

// Load returns the persisted state for tag, or a fresh default document
// when none exists yet.
func (s *Store) Load(ctx context.Context, tag string) (*state.Release, error) {
	data, found, err := s.client.LoadState(ctx, tag)
	if err != nil {
		return nil, err
	}
	if !found {
		s.log.Info("no persisted state, starting fresh", log.String(log.TagKey, tag))
		rel := state.New(tag)
		rel.MarkDirty()
		return rel, nil
	}

	var rel state.Release
	if err := json.Unmarshal(data, &rel); err != nil {
		return nil, &conductorerrors.InvariantError{
			Invariant: "persisted state document decodes",
			Detail:    fmt.Sprintf("tag %s: %v", tag, err),
		}
	}
	// Ephemeral values never survive a reload, whatever the document says.
	rel.Meta.Ephemeral = nil
	return &rel, nil
}

// Save persists rel with meta.ephemeral stripped. The document is written
// only when dirty; the dirty flag clears on success.
func (s *Store) Save(ctx context.Context, rel *state.Release) error {
	if !rel.Dirty() {
		return nil
	}

	clone := *rel
	clone.Meta.Ephemeral = nil
	clone.Meta.LastUpdated = Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(&clone)
	if err != nil {
		return conductorerrors.Wrap(err, "store: encode state")
	}
	if err := s.client.SaveState(ctx, rel.Tag, data); err != nil {
		return err
	}

	rel.Meta.LastUpdated = clone.Meta.LastUpdated
	rel.ClearDirty()
	s.log.Debug("state saved", log.String(log.TagKey, rel.Tag))
	return nil
}

// Reset applies the force-rebuild primitive to a loaded document. The
// ResetAll selector discards rel entirely — the stored document is deleted
// and a fresh default returned. A package selector resets just that
// package's phases, artifacts, and result, incrementing its attempt
// counters.
func (s *Store) Reset(ctx context.Context, rel *state.Release, selector string) (*state.Release, error) {
	if selector == ResetAll {
		if err := s.client.DeleteState(ctx, rel.Tag); err != nil {
			return nil, err
		}
		s.log.Info("state reset", log.String(log.TagKey, rel.Tag), log.String("selector", selector))
		fresh := state.New(rel.Tag)
		fresh.MarkDirty()
		return fresh, nil
	}

	pkg, ok := rel.Packages[selector]
	if !ok {
		return nil, &conductorerrors.ConfigError{
			Key:    "force_rebuild",
			Reason: fmt.Sprintf("unknown package %q", selector),
		}
	}
	pkg.ResetAll()
	rel.MarkDirty()
	s.log.Info("state reset", log.String(log.TagKey, rel.Tag), log.String("selector", selector))
	return rel, nil
}

// Hook returns the post-tick persistence hook: a best-effort save of rel
// after every tick that mutated it. Save failures are logged, not fatal —
// the next tick retries, and the controller performs a final synchronous
// save at exit.
func (s *Store) Hook(rel *state.Release) tree.Hook {
	return func(ctx context.Context, _ tree.Status) {
		if err := s.Save(ctx, rel); err != nil {
			s.log.Warn("tick persistence failed", log.String(log.TagKey, rel.Tag), log.Error(err))
		}
	}
}
