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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "workflow", "tool", "connector")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NonRetryable reports true: a resource that does not exist will not
// appear by retrying the same lookup.
func (e *NotFoundError) NonRetryable() bool { return true }

// ProviderError represents external client failures.
// Use this for errors originating from the GitHub, Slack, or object
// store clients.
type ProviderError struct {
	// Provider is the name of the external system (e.g., "github", "slack", "objectstore")
	Provider string

	// Code is the provider-specific error code
	Code int

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Suggestion provides actionable guidance for resolution
	Suggestion string

	// RequestID correlates this error with provider logs
	RequestID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s error", e.Provider)

	if e.Code > 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.Code)
	}

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	msg = fmt.Sprintf("%s: %s", msg, e.Message)

	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "api_key", "database.host")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NonRetryable reports true: configuration problems never resolve by
// retrying, so tree.Retry must not spend budget on them.
func (e *ConfigError) NonRetryable() bool { return true }

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "LLM request", "workflow step")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// IsRetryable satisfies the client retry layer's Classifiable contract: a
// timed-out call is transient.
func (e *TimeoutError) IsRetryable() bool { return true }

// RetryAfter satisfies the Classifiable contract; timeouts carry no
// server-requested delay.
func (e *TimeoutError) RetryAfter() time.Duration { return 0 }

// LockHeldError represents a failure to acquire the release lock because
// another controller instance already holds it.
// Use this when a conditional-create against the lock object is rejected.
type LockHeldError struct {
	// Tag is the release tag whose lock is held.
	Tag string

	// HolderID identifies the instance currently holding the lock, if known.
	HolderID string

	// Cause is the underlying error (e.g., a precondition-failed response).
	Cause error
}

// Error implements the error interface.
func (e *LockHeldError) Error() string {
	if e.HolderID != "" {
		return fmt.Sprintf("lock for release %s is held by %s", e.Tag, e.HolderID)
	}
	return fmt.Sprintf("lock for release %s is held by another instance", e.Tag)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *LockHeldError) Unwrap() error {
	return e.Cause
}

// BusinessFailureError represents an expected, recoverable failure in the
// release process itself rather than in the controller's own machinery:
// a dispatched workflow run failed, a package's build step exited non-zero,
// or a required artifact never appeared.
// Use this to distinguish "the release failed" from "the controller broke".
type BusinessFailureError struct {
	// Package is the downstream package the failure pertains to, if any.
	Package string

	// Phase is the build/publish phase that failed, if any.
	Phase string

	// Reason is the human-readable explanation of the failure.
	Reason string

	// Cause is the underlying error (if any).
	Cause error
}

// Error implements the error interface.
func (e *BusinessFailureError) Error() string {
	switch {
	case e.Package != "" && e.Phase != "":
		return fmt.Sprintf("%s/%s failed: %s", e.Package, e.Phase, e.Reason)
	case e.Package != "":
		return fmt.Sprintf("%s failed: %s", e.Package, e.Reason)
	default:
		return fmt.Sprintf("release failed: %s", e.Reason)
	}
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *BusinessFailureError) Unwrap() error {
	return e.Cause
}

// NonRetryable is false: a failed/cancelled/timed-out run is exactly the
// case the phase-level Retry(n=2) decorator exists to re-attempt.
func (e *BusinessFailureError) NonRetryable() bool { return false }

// InvariantError represents a violation of an internal consistency
// guarantee: a state document that decodes into an impossible phase
// ordering, a behavior tree tick that returns an undefined status, or
// similar conditions that should never occur if the controller is correct.
// Use this to fail loudly rather than silently continue with corrupt state.
type InvariantError struct {
	// Invariant names the guarantee that was violated.
	Invariant string

	// Detail gives additional context about the observed violation.
	Detail string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invariant violated: %s (%s)", e.Invariant, e.Detail)
	}
	return fmt.Sprintf("invariant violated: %s", e.Invariant)
}

// NonRetryable reports true: an invariant violation is a bug, and
// re-running the same code against the same state cannot repair it.
func (e *InvariantError) NonRetryable() bool { return true }
