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

// Package retry implements the exponential-backoff retry policy shared by
// every external client: object store, workflow host, and status sink.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config configures retry behavior for a client call.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed delay.
	MaxBackoff time.Duration

	// BackoffFactor is the exponential multiplier applied per attempt.
	BackoffFactor float64

	// RetryableStatusCodes lists HTTP status codes considered transient.
	RetryableStatusCodes []int
}

// DefaultConfig returns the engine's default retry budget: 5 attempts with
// jittered exponential backoff, per the error handling policy's "default 5
// attempts with jitter" propagation rule.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:          5,
		InitialBackoff:       1 * time.Second,
		MaxBackoff:           30 * time.Second,
		BackoffFactor:        2.0,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

// IsRetryableStatus reports whether statusCode is in the configured
// retryable set.
func (c *Config) IsRetryableStatus(statusCode int) bool {
	for _, code := range c.RetryableStatusCodes {
		if code == statusCode {
			return true
		}
	}
	return false
}

// Classifiable is implemented by client errors that know whether they are
// transient and, if so, any server-requested Retry-After delay.
type Classifiable interface {
	error
	IsRetryable() bool
	RetryAfter() time.Duration
}

// Execute runs fn, retrying on errors that implement Classifiable and
// report IsRetryable() true, up to cfg.MaxAttempts. Non-Classifiable errors
// and business-logic errors are never retried — only the client layer
// retries transient failures.
func Execute[T any](ctx context.Context, cfg *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		classifiable, ok := err.(Classifiable)
		if !ok || !classifiable.IsRetryable() || attempt >= cfg.MaxAttempts {
			return zero, err
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		delay := calculateBackoff(cfg, attempt, classifiable.RetryAfter())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, lastErr
}

// calculateBackoff computes exponential backoff with jitter, honoring a
// server-supplied Retry-After when it exceeds the computed delay.
func calculateBackoff(cfg *Config, attempt int, retryAfter time.Duration) time.Duration {
	base := float64(cfg.InitialBackoff) * pow(cfg.BackoffFactor, attempt-1)
	if base > float64(cfg.MaxBackoff) {
		base = float64(cfg.MaxBackoff)
	}
	delay := time.Duration(base)

	if retryAfter > delay {
		delay = retryAfter
	}
	if delay > cfg.MaxBackoff {
		delay = cfg.MaxBackoff
	}

	jitter := time.Duration(rand.Int63n(101)) * time.Millisecond
	return delay + jitter
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1.0
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
