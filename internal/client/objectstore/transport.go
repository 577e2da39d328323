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

// Package objectstore implements the release controller's state-store
// client: a SigV4-signed, path-style HTTP transport against an
// S3-compatible object store, and the lock/state operations the
// controller's runtime composes from it.
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/relctl/release-controller/internal/client/retry"
)

// TransportConfig configures the signed object-store transport.
type TransportConfig struct {
	// BaseURL is the S3-compatible service endpoint, e.g.
	// https://s3.us-east-1.amazonaws.com (required).
	BaseURL string

	// Bucket holds the release-state and lock objects (required).
	Bucket string

	// Region is the signing region (required).
	Region string

	// Timeout bounds each individual HTTP call (default: 30s).
	Timeout time.Duration

	// Retry configures the retry policy wrapping every call. Defaults to
	// retry.DefaultConfig() when nil.
	Retry *retry.Config
}

// Validate checks the configuration is complete.
func (c *TransportConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("objectstore: base_url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "https://") && !strings.HasPrefix(c.BaseURL, "http://") {
		return fmt.Errorf("objectstore: base_url must start with http:// or https://")
	}
	if c.Bucket == "" {
		return fmt.Errorf("objectstore: bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("objectstore: region is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("objectstore: timeout cannot be negative")
	}
	return nil
}

// object is one signed GET/PUT/DELETE result.
type object struct {
	StatusCode int
	Body       []byte
	ETag       string
	RequestID  string
}

// transport sends SigV4-signed, path-style requests to the configured
// bucket, refreshing credentials from the standard AWS provider chain.
type transport struct {
	cfg         *TransportConfig
	client      *http.Client
	awsCfg      aws.Config
	signer      *v4.Signer
	credentials aws.Credentials
	credExpiry  time.Time
	credMutex   sync.RWMutex
	limiter     *retry.Limiter
}

// newTransport builds a transport and validates its credentials against STS
// GetCallerIdentity before returning, so a misconfigured client fails at
// startup rather than on the first lock attempt.
func newTransport(ctx context.Context, cfg *TransportConfig) (*transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	awsCfg, err := config.LoadDefaultConfig(loadCtx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, &Error{Op: "load_credentials", Message: sanitize(err.Error()), Cause: err}
	}

	t := &transport{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		awsCfg: awsCfg,
		signer: v4.NewSigner(),
	}

	if err := t.validateCredentials(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *transport) validateCredentials(ctx context.Context) error {
	if err := t.refreshCredentials(ctx); err != nil {
		return err
	}

	stsClient := sts.NewFromConfig(t.awsCfg)
	validationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := stsClient.GetCallerIdentity(validationCtx, &sts.GetCallerIdentityInput{}); err != nil {
		return &Error{Op: "validate_credentials", Message: sanitize(err.Error()), Cause: err}
	}
	return nil
}

func (t *transport) refreshCredentials(ctx context.Context) error {
	t.credMutex.Lock()
	defer t.credMutex.Unlock()

	if !t.credExpiry.IsZero() && time.Now().Before(t.credExpiry) {
		return nil
	}

	creds, err := t.awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return &Error{Op: "refresh_credentials", Message: sanitize(err.Error()), Cause: err}
	}

	t.credentials = creds
	expiry := creds.Expires
	if expiry.IsZero() || expiry.Sub(time.Now()) > time.Hour {
		expiry = time.Now().Add(time.Hour)
	}
	t.credExpiry = expiry
	return nil
}

func (t *transport) setLimiter(l *retry.Limiter) { t.limiter = l }

// do signs and sends one HTTP request for key, retrying transient failures
// per t.cfg.Retry.
func (t *transport) do(ctx context.Context, method, key string, body []byte, headers map[string]string) (*object, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, &Error{Op: method, Message: "rate limiter cancelled", Cause: err}
		}
	}
	if err := t.refreshCredentials(ctx); err != nil {
		return nil, err
	}

	return retry.Execute(ctx, t.cfg.Retry, func(ctx context.Context) (*object, error) {
		return t.doOnce(ctx, method, key, body, headers)
	})
}

func (t *transport) doOnce(ctx context.Context, method, key string, body []byte, headers map[string]string) (*object, error) {
	url := fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(t.cfg.BaseURL, "/"), t.cfg.Bucket, strings.TrimPrefix(key, "/"))

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &Error{Op: method, Message: fmt.Sprintf("build request: %v", err), Cause: err}
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	payloadHash := payloadSHA256(body)
	httpReq.Header.Set("X-Amz-Content-Sha256", payloadHash)

	t.credMutex.RLock()
	creds := aws.Credentials{
		AccessKeyID:     t.credentials.AccessKeyID,
		SecretAccessKey: t.credentials.SecretAccessKey,
		SessionToken:    t.credentials.SessionToken,
	}
	t.credMutex.RUnlock()

	if err := t.signer.SignHTTP(ctx, creds, httpReq, payloadHash, "s3", t.cfg.Region, time.Now()); err != nil {
		return nil, &Error{Op: method, Message: fmt.Sprintf("sign request: %v", err), Cause: err}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifyHTTPError(method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: method, Message: fmt.Sprintf("read response: %v", err), Retryable: true, Cause: err}
	}

	requestID := resp.Header.Get("x-amz-request-id")

	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(method, resp.StatusCode, respBody, requestID)
	}

	return &object{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		ETag:       resp.Header.Get("ETag"),
		RequestID:  requestID,
	}, nil
}

func payloadSHA256(body []byte) string {
	if body == nil {
		body = []byte{}
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// parseErrorResponse classifies an S3-style XML error body into *Error.
func parseErrorResponse(op string, statusCode int, body []byte, requestID string) *Error {
	var xmlErr struct {
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	}
	message := ""
	if err := xml.Unmarshal(body, &xmlErr); err == nil && xmlErr.Code != "" {
		message = fmt.Sprintf("%s: %s", xmlErr.Code, sanitize(xmlErr.Message))
	}
	e := classifyStatus(op, statusCode, message, requestID)
	return e
}

func classifyHTTPError(op string, err error) *Error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline exceeded"):
		return &Error{Op: op, Message: "request cancelled", Cause: err}
	default:
		return &Error{Op: op, Message: fmt.Sprintf("connection error: %s", sanitize(msg)), Retryable: true, Cause: err}
	}
}

// sanitize redacts AWS access key ids from error text before it reaches
// logs or returned errors.
func sanitize(msg string) string {
	searchPos := 0
	for {
		akiaPos := strings.Index(msg[searchPos:], "AKIA")
		if akiaPos == -1 {
			break
		}
		akiaPos += searchPos
		endPos := akiaPos + 20
		if endPos > len(msg) {
			endPos = len(msg)
		}
		msg = msg[:akiaPos] + "AKIA****" + msg[endPos:]
		searchPos = akiaPos + len("AKIA****")
	}
	return msg
}
