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

package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relctl/release-controller/internal/client/retry"
)

type fakeError struct {
	retryable  bool
	retryAfter time.Duration
}

func (e *fakeError) Error() string            { return "fake error" }
func (e *fakeError) IsRetryable() bool        { return e.retryable }
func (e *fakeError) RetryAfter() time.Duration { return e.retryAfter }

func TestExecute_SucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := retry.Execute(context.Background(), retry.DefaultConfig(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetriesRetryableError(t *testing.T) {
	cfg := &retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	result, err := retry.Execute(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &fakeError{retryable: true}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestExecute_DoesNotRetryNonRetryableError(t *testing.T) {
	calls := 0
	_, err := retry.Execute(context.Background(), retry.DefaultConfig(), func(ctx context.Context) (string, error) {
		calls++
		return "", &fakeError{retryable: false}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_DoesNotRetryPlainError(t *testing.T) {
	calls := 0
	_, err := retry.Execute(context.Background(), retry.DefaultConfig(), func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("business failure")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_StopsAtMaxAttempts(t *testing.T) {
	cfg := &retry.Config{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	_, err := retry.Execute(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		return "", &fakeError{retryable: true}
	})

	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecute_RespectsContextCancellation(t *testing.T) {
	cfg := &retry.Config{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffFactor: 2}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := retry.Execute(ctx, cfg, func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", &fakeError{retryable: true}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestConfig_IsRetryableStatus(t *testing.T) {
	cfg := retry.DefaultConfig()
	assert.True(t, cfg.IsRetryableStatus(429))
	assert.True(t, cfg.IsRetryableStatus(503))
	assert.False(t, cfg.IsRetryableStatus(404))
}

func TestLimiter_NilIsNoOp(t *testing.T) {
	var l *retry.Limiter
	assert.NoError(t, l.Wait(context.Background()))
}

func TestLimiter_Wait(t *testing.T) {
	l := retry.NewLimiter(1000, 10)
	assert.NoError(t, l.Wait(context.Background()))
}
