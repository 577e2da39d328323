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
	"encoding/json"
	"fmt"
	"time"

	"github.com/relctl/release-controller/internal/client/retry"
	conductorerrors "github.com/relctl/release-controller/pkg/errors"
)

// Lock is a held release lock, returned by AcquireLock and required to
// release it again.
type Lock struct {
	Tag        string    `json:"tag"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Client is the release controller's state-store contract: a mutual
// exclusion lock per release tag, plus load/save of the release's raw
// state document. Implementations must make AcquireLock a single atomic
// conditional-create so two controller instances racing on the same tag
// can never both believe they hold the lock.
type Client interface {
	// AcquireLock attempts to take the lock for tag. It returns
	// *conductorerrors.LockHeldError when another, unexpired holder
	// already has it.
	AcquireLock(ctx context.Context, tag, holderID string, ttl time.Duration) (*Lock, error)

	// ReleaseLock releases a lock previously returned by AcquireLock. It
	// is idempotent: releasing an already-released or expired lock is not
	// an error.
	ReleaseLock(ctx context.Context, lock *Lock) error

	// LoadState returns the raw JSON state document for tag. found is
	// false when no document has ever been saved for tag.
	LoadState(ctx context.Context, tag string) (data []byte, found bool, err error)

	// SaveState persists the raw JSON state document for tag,
	// unconditionally overwriting any previous version.
	SaveState(ctx context.Context, tag string, data []byte) error

	// DeleteState removes the persisted state document for tag, used by
	// a forced full-release rebuild.
	DeleteState(ctx context.Context, tag string) error
}

// S3Client is the production Client backed by a SigV4-signed,
// S3-compatible object store.
type S3Client struct {
	transport *transport
}

// NewS3Client builds an S3Client, validating connectivity and credentials
// up front.
func NewS3Client(ctx context.Context, cfg *TransportConfig) (*S3Client, error) {
	t, err := newTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Client{transport: t}, nil
}

// SetRateLimiter throttles every call this client makes through l.
func (c *S3Client) SetRateLimiter(l *retry.Limiter) {
	c.transport.setLimiter(l)
}

func stateKey(tag string) string { return fmt.Sprintf("release-state/%s.json", tag) }
func lockKey(tag string) string  { return fmt.Sprintf("release-locks/%s.lock", tag) }

// AcquireLock takes the lock for tag via a conditional create
// (If-None-Match: *). If the object already exists, it inspects the
// current holder: an expired lease is reclaimed with an unconditional
// overwrite, otherwise LockHeldError is returned with the existing
// holder's id.
func (c *S3Client) AcquireLock(ctx context.Context, tag, holderID string, ttl time.Duration) (*Lock, error) {
	now := time.Now().UTC()
	lock := &Lock{Tag: tag, HolderID: holderID, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	payload, err := json.Marshal(lock)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "objectstore: marshal lock")
	}

	key := lockKey(tag)
	_, err = c.transport.do(ctx, "PUT", key, payload, map[string]string{"If-None-Match": "*"})
	if err == nil {
		return lock, nil
	}

	var oe *Error
	if !conductorerrors.As(err, &oe) || !oe.IsPreconditionFailed() {
		return nil, c.wrapProvider("acquire_lock", err)
	}

	existing, getErr := c.transport.do(ctx, "GET", key, nil, nil)
	if getErr != nil {
		var getOE *Error
		if conductorerrors.As(getErr, &getOE) && getOE.IsNotFound() {
			// The conflicting object vanished between the failed create
			// and this read; treat as a transient race and report held.
			return nil, &conductorerrors.LockHeldError{Tag: tag, Cause: err}
		}
		return nil, c.wrapProvider("acquire_lock", getErr)
	}

	var current Lock
	if unmarshalErr := json.Unmarshal(existing.Body, &current); unmarshalErr != nil {
		return nil, &conductorerrors.LockHeldError{Tag: tag, Cause: err}
	}

	if time.Now().UTC().Before(current.ExpiresAt) {
		return nil, &conductorerrors.LockHeldError{Tag: tag, HolderID: current.HolderID, Cause: err}
	}

	// The previous holder's lease expired; reclaim unconditionally.
	if _, putErr := c.transport.do(ctx, "PUT", key, payload, nil); putErr != nil {
		return nil, c.wrapProvider("acquire_lock", putErr)
	}
	return lock, nil
}

// ReleaseLock deletes the lock object, but only when lock still names the
// current holder, so a lock reclaimed by another instance after expiry is
// never deleted out from under its new owner.
func (c *S3Client) ReleaseLock(ctx context.Context, lock *Lock) error {
	key := lockKey(lock.Tag)

	existing, err := c.transport.do(ctx, "GET", key, nil, nil)
	if err != nil {
		var oe *Error
		if conductorerrors.As(err, &oe) && oe.IsNotFound() {
			return nil
		}
		return c.wrapProvider("release_lock", err)
	}

	var current Lock
	if err := json.Unmarshal(existing.Body, &current); err != nil {
		return conductorerrors.Wrap(err, "objectstore: decode lock")
	}
	if current.HolderID != lock.HolderID {
		// Another instance has already reclaimed this lock; nothing to do.
		return nil
	}

	if _, err := c.transport.do(ctx, "DELETE", key, nil, nil); err != nil {
		var oe *Error
		if conductorerrors.As(err, &oe) && oe.IsNotFound() {
			return nil
		}
		return c.wrapProvider("release_lock", err)
	}
	return nil
}

// LoadState returns the raw state document for tag.
func (c *S3Client) LoadState(ctx context.Context, tag string) ([]byte, bool, error) {
	obj, err := c.transport.do(ctx, "GET", stateKey(tag), nil, nil)
	if err != nil {
		var oe *Error
		if conductorerrors.As(err, &oe) && oe.IsNotFound() {
			return nil, false, nil
		}
		return nil, false, c.wrapProvider("load_state", err)
	}
	return obj.Body, true, nil
}

// SaveState unconditionally overwrites the state document for tag.
func (c *S3Client) SaveState(ctx context.Context, tag string, data []byte) error {
	if _, err := c.transport.do(ctx, "PUT", stateKey(tag), data, nil); err != nil {
		return c.wrapProvider("save_state", err)
	}
	return nil
}

// DeleteState removes the state document for tag.
func (c *S3Client) DeleteState(ctx context.Context, tag string) error {
	if _, err := c.transport.do(ctx, "DELETE", stateKey(tag), nil, nil); err != nil {
		var oe *Error
		if conductorerrors.As(err, &oe) && oe.IsNotFound() {
			return nil
		}
		return c.wrapProvider("delete_state", err)
	}
	return nil
}

func (c *S3Client) wrapProvider(op string, err error) error {
	var oe *Error
	if conductorerrors.As(err, &oe) {
		return &conductorerrors.ProviderError{
			Provider:   "objectstore",
			StatusCode: oe.StatusCode,
			Message:    oe.Message,
			RequestID:  oe.RequestID,
			Cause:      oe,
		}
	}
	return &conductorerrors.ProviderError{Provider: "objectstore", Message: err.Error(), Cause: err}
}

var _ Client = (*S3Client)(nil)
