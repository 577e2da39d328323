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

// Package config loads the release controller's YAML configuration: the
// set of downstream packages, their build/publish workflow templates, and
// any release-type overrides.
package config

import (
	"fmt"
	"os"
	"time"

	conductorerrors "github.com/relctl/release-controller/pkg/errors"
	"github.com/relctl/release-controller/internal/state"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = conductorerrors.New("config: invalid configuration")
)

// Config is the complete release controller configuration.
type Config struct {
	// Version is the config format version (1 = initial release).
	Version int `yaml:"version,omitempty"`

	// Packages lists every downstream package this controller can release.
	Packages []Package `yaml:"packages"`

	// ReleaseTypeOverrides maps a release tag to a forced release type,
	// bypassing derivation from the tag string.
	ReleaseTypeOverrides map[string]string `yaml:"release_type_overrides,omitempty"`
}

// Package describes one downstream repository and its two-phase pipeline.
type Package struct {
	// Name is the package's key in state.Release.Packages.
	Name string `yaml:"name"`

	// Repo is the "owner/repo" slug dispatched against.
	Repo string `yaml:"repo"`

	Build   Phase  `yaml:"build"`
	Publish Phase  `yaml:"publish"`

	// DependsOn names another package in this config whose publish phase
	// must succeed before this package's build phase dispatches.
	DependsOn string `yaml:"depends_on,omitempty"`
}

// Phase configures one workflow dispatch (build or publish).
type Phase struct {
	// Workflow is the workflow file name in Repo, e.g. "build.yml".
	Workflow string `yaml:"workflow"`

	// RefTemplate is the source ref to dispatch against, after template
	// substitution (e.g. "release/{tag}").
	RefTemplate string `yaml:"ref_template"`

	// InputsTemplate maps workflow input name to a template string;
	// substituted per-package at dispatch time.
	InputsTemplate map[string]string `yaml:"inputs_template,omitempty"`

	// Timeout bounds MonitorRun's overall wait for this phase.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// ArtifactsWhitelist restricts CollectArtifacts to these artifact
	// names; empty means collect everything the run produced. Only
	// meaningful on the build phase.
	ArtifactsWhitelist []string `yaml:"artifacts_whitelist,omitempty"`
}

// DefaultTimeout is applied to any phase that does not set one.
const DefaultTimeout = 30 * time.Minute

// Default returns a Config with sensible defaults and no packages.
func Default() *Config {
	return &Config{Version: 1}
}

// Load reads and parses the YAML file at path, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &conductorerrors.ConfigError{
			Key:    "config_file",
			Reason: fmt.Sprintf("failed to read %s", path),
			Cause:  err,
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &conductorerrors.ConfigError{
			Key:    "config_file",
			Reason: fmt.Sprintf("failed to parse %s", path),
			Cause:  err,
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &conductorerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero-value phase timeouts so callers never see an
// unset duration.
func (c *Config) applyDefaults() {
	for i := range c.Packages {
		if c.Packages[i].Build.Timeout == 0 {
			c.Packages[i].Build.Timeout = DefaultTimeout
		}
		if c.Packages[i].Publish.Timeout == 0 {
			c.Packages[i].Publish.Timeout = DefaultTimeout
		}
	}
}

// PackageByName returns the package config with the given name, or false
// if no such package is configured.
func (c *Config) PackageByName(name string) (Package, bool) {
	for _, p := range c.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return Package{}, false
}

// Validate checks the configuration against the invariants the release
// tree and dispatch layer depend on: unique, non-empty package names,
// workflow files set on both phases, and depends_on edges that resolve to
// another configured package (no self-dependency, no dangling reference).
func (c *Config) Validate() error {
	if len(c.Packages) == 0 {
		return conductorerrors.Wrap(ErrInvalidConfig, "no packages configured")
	}

	seen := make(map[string]bool, len(c.Packages))
	for _, p := range c.Packages {
		if p.Name == "" {
			return conductorerrors.Wrap(ErrInvalidConfig, "package with empty name")
		}
		if seen[p.Name] {
			return conductorerrors.Wrapf(ErrInvalidConfig, "duplicate package name %q", p.Name)
		}
		seen[p.Name] = true

		if p.Repo == "" {
			return conductorerrors.Wrapf(ErrInvalidConfig, "package %q missing repo", p.Name)
		}
		if p.Build.Workflow == "" {
			return conductorerrors.Wrapf(ErrInvalidConfig, "package %q missing build.workflow", p.Name)
		}
		if p.Publish.Workflow == "" {
			return conductorerrors.Wrapf(ErrInvalidConfig, "package %q missing publish.workflow", p.Name)
		}
	}

	for _, p := range c.Packages {
		if p.DependsOn == "" {
			continue
		}
		if p.DependsOn == p.Name {
			return conductorerrors.Wrapf(ErrInvalidConfig, "package %q depends on itself", p.Name)
		}
		if !seen[p.DependsOn] {
			return conductorerrors.Wrapf(ErrInvalidConfig, "package %q depends on unconfigured package %q", p.Name, p.DependsOn)
		}
	}

	for tag, rt := range c.ReleaseTypeOverrides {
		if !state.ValidReleaseType(rt) {
			return conductorerrors.Wrapf(ErrInvalidConfig, "release_type_overrides[%q] names unknown release type %q", tag, rt)
		}
	}

	return nil
}
