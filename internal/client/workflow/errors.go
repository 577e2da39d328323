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
	"fmt"
	"time"
)

// Error represents a non-2xx response from the workflow host. It
// implements retry.Classifiable so internal/client/retry can decide
// whether a call should be retried.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	RequestID  string
	Retryable  bool
	RetryDelay time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("workflow: %s failed", e.Op)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable satisfies retry.Classifiable.
func (e *Error) IsRetryable() bool { return e.Retryable }

// RetryAfter satisfies retry.Classifiable.
func (e *Error) RetryAfter() time.Duration { return e.RetryDelay }

// IsNotFound reports whether the error represents a missing resource (404).
func (e *Error) IsNotFound() bool { return e.StatusCode == 404 }

func classifyStatus(op string, statusCode int, message string) *Error {
	retryable := false
	switch {
	case statusCode == 403 && message != "":
		// GitHub signals secondary rate limiting with 403 + a Retry-After
		// header; callers set Retryable explicitly in that case.
	case statusCode == 408 || statusCode == 429:
		retryable = true
	case statusCode >= 500:
		retryable = true
	}
	return &Error{Op: op, StatusCode: statusCode, Message: message, Retryable: retryable}
}
