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
	"fmt"
	"time"
)

// Error represents a failed Slack Web API call. It implements
// retry.Classifiable so internal/client/retry can decide whether to retry.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Retryable  bool
	RetryDelay time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("status: %s failed: %s", e.Op, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable satisfies retry.Classifiable.
func (e *Error) IsRetryable() bool { return e.Retryable }

// RetryAfter satisfies retry.Classifiable.
func (e *Error) RetryAfter() time.Duration { return e.RetryDelay }
