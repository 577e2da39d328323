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

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/relctl/release-controller/internal/client/objectstore"
	"github.com/relctl/release-controller/internal/client/status"
	"github.com/relctl/release-controller/internal/client/workflow"
	"github.com/relctl/release-controller/internal/log"
	conductorerrors "github.com/relctl/release-controller/pkg/errors"
)

// deps bundles the wired production clients.
type deps struct {
	ObjectStore objectstore.Client
	Workflow    workflow.Client
	Status      status.Client
}

// env reads key, falling back to RELCTL_-prefixed and bare variants.
func env(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// buildDeps wires the production clients from environment credentials,
// read once at startup per the dependency-injection note of the design:
// nothing below the command layer touches the process environment.
func buildDeps(ctx context.Context, logger *slog.Logger) (*deps, error) {
	osCfg := &objectstore.TransportConfig{
		BaseURL: env("RELCTL_S3_ENDPOINT", "S3_ENDPOINT"),
		Bucket:  env("RELCTL_S3_BUCKET", "S3_BUCKET"),
		Region:  env("RELCTL_S3_REGION", "AWS_REGION"),
	}
	if err := osCfg.Validate(); err != nil {
		return nil, &conductorerrors.ConfigError{
			Key:    "object_store",
			Reason: "incomplete object-store environment (RELCTL_S3_ENDPOINT, RELCTL_S3_BUCKET, RELCTL_S3_REGION)",
			Cause:  err,
		}
	}
	storeClient, err := objectstore.NewS3Client(ctx, osCfg)
	if err != nil {
		return nil, err
	}

	wfCfg := workflow.Config{
		BaseURL: env("RELCTL_GITHUB_API_URL"),
		Token:   env("RELCTL_GITHUB_TOKEN", "GITHUB_TOKEN"),
	}
	if appID := env("GITHUB_APP_ID"); appID != "" {
		id, err := strconv.ParseInt(appID, 10, 64)
		if err != nil {
			return nil, &conductorerrors.ConfigError{Key: "GITHUB_APP_ID", Reason: "not an integer", Cause: err}
		}
		installID, err := strconv.ParseInt(env("GITHUB_APP_INSTALLATION_ID"), 10, 64)
		if err != nil {
			return nil, &conductorerrors.ConfigError{Key: "GITHUB_APP_INSTALLATION_ID", Reason: "not an integer", Cause: err}
		}
		keyPath := env("GITHUB_APP_PRIVATE_KEY_FILE")
		pem, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, &conductorerrors.ConfigError{
				Key:    "GITHUB_APP_PRIVATE_KEY_FILE",
				Reason: fmt.Sprintf("failed to read %s", keyPath),
				Cause:  err,
			}
		}
		wfCfg.AppID = id
		wfCfg.InstallationID = installID
		wfCfg.PrivateKeyPEM = pem
	} else if wfCfg.Token == "" {
		return nil, &conductorerrors.ConfigError{
			Key:    "github_token",
			Reason: "set RELCTL_GITHUB_TOKEN/GITHUB_TOKEN or GITHUB_APP_* credentials",
		}
	}
	wfClient, err := workflow.New(wfCfg)
	if err != nil {
		return nil, err
	}
	if wfCfg.Token != "" {
		logger.Debug("workflow host using token auth",
			log.String("token", log.SanitizeSecret(wfCfg.Token)))
	}

	var statusClient status.Client
	if token := env("RELCTL_SLACK_TOKEN", "SLACK_BOT_TOKEN"); token != "" {
		statusClient = status.New(status.Config{Token: token})
	} else {
		logger.Info("no status-sink token, status updates disabled")
		statusClient = status.NewNoOpClient()
	}

	return &deps{ObjectStore: storeClient, Workflow: wfClient, Status: statusClient}, nil
}
