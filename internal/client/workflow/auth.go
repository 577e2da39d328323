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
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenSource produces the bearer credential used on every request.
type tokenSource interface {
	Token(ctx context.Context) (string, error)
}

// staticTokenSource wraps a long-lived personal access token or
// installation token supplied directly by the operator.
type staticTokenSource struct {
	token string
}

func (s staticTokenSource) Token(ctx context.Context) (string, error) { return s.token, nil }

// appTokenSource mints a short-lived JWT signed with the GitHub App's
// private key and exchanges it for an installation access token, caching
// the result until shortly before it expires.
type appTokenSource struct {
	baseURL        string
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	httpClient     *http.Client

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

func newAppTokenSource(baseURL string, appID, installationID int64, pemBytes []byte, httpClient *http.Client) (*appTokenSource, error) {
	key, err := parseRSAPrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("workflow: parse GitHub App private key: %w", err)
	}
	return &appTokenSource{
		baseURL:        baseURL,
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		httpClient:     httpClient,
	}, nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// appJWTTTL is kept well under GitHub's 10 minute maximum to tolerate
// clock skew between this process and the API.
const appJWTTTL = 9 * time.Minute

// installationTokenSkew refreshes the cached installation token this long
// before its reported expiry, so a request in flight never races expiry.
const installationTokenSkew = 2 * time.Minute

func (s *appTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != "" && time.Now().Before(s.expiresAt) {
		return s.cached, nil
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    fmt.Sprintf("%d", s.appID),
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("workflow: sign app JWT: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.baseURL, s.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("workflow: exchange installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", classifyStatus("exchange_installation_token", resp.StatusCode, resp.Status)
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("workflow: decode installation token response: %w", err)
	}

	s.cached = body.Token
	s.expiresAt = body.ExpiresAt.Add(-installationTokenSkew)
	return s.cached, nil
}
