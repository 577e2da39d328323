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

package release

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/relctl/release-controller/internal/config"
	"github.com/relctl/release-controller/internal/log"
	"github.com/relctl/release-controller/internal/state"
	"github.com/relctl/release-controller/internal/tree"
)

// dispatchIfNeeded returns an instant leaf that dispatches phase's workflow
// exactly once per attempt. A phase already carrying a correlation uuid has
// already been dispatched by this or a prior process (the uuid survives a
// crash via persisted state, per Resumability), so it is never dispatched
// twice — this is the resume path of seed scenario 3.
//
// Inputs come from the configured template, substituted at dispatch time so
// a publish dispatch sees the artifact URLs its build phase collected.
func dispatchIfNeeded(name string, rel *state.Release, pkg *state.PackageState, pkgCfg config.Package, cfgPhase config.Phase, phase *state.PhaseState, phaseName string, clients Clients) tree.Node {
	return tree.NewInstantFunc(name, func(ctx context.Context) error {
		if phase.UUID != "" {
			return nil
		}

		urls := make(map[string]string, len(pkg.Artifacts))
		for artifactName, ref := range pkg.Artifacts {
			urls[artifactName] = ref.DownloadURL
		}
		vars := config.TemplateVars{Tag: rel.Tag, ReleaseType: string(rel.ReleaseType), ArtifactURLs: urls}

		ref, err := config.Substitute(phase.Ref, vars)
		if err != nil {
			return &configSubstitutionError{phase: phaseName, cause: err}
		}
		inputs, err := config.SubstituteMap(cfgPhase.InputsTemplate, vars)
		if err != nil {
			return &configSubstitutionError{phase: phaseName, cause: err}
		}

		runUUID := uuid.NewString()
		inputs["workflow_uuid"] = runUUID
		inputs["release_tag"] = rel.Tag
		if ch := rel.Meta.Ephemeral; ch != nil {
			if ch.StatusChannel != "" {
				inputs["status_channel"] = ch.StatusChannel
			}
			if ch.StatusTS != "" {
				inputs["status_ts"] = ch.StatusTS
			}
		}

		if err := clients.Workflow.Dispatch(ctx, pkgCfg.Repo, phase.Workflow, ref, inputs); err != nil {
			return err
		}

		phase.UUID = runUUID
		phase.Inputs = inputs
		phase.Status = state.PhaseTriggered
		phase.DispatchedAt = Now().UTC().Format(timeLayout)
		rel.MarkDirty()

		log.WithPackageContext(slog.Default(), rel.Tag, pkgCfg.Name, phaseName).Info("workflow dispatched",
			log.String("workflow", phase.Workflow),
			log.String("ref", ref),
			log.String("uuid", runUUID))
		return nil
	})
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// configSubstitutionError marks a template-substitution failure as a
// configuration problem: fatal, not worth retrying.
type configSubstitutionError struct {
	phase string
	cause error
}

func (e *configSubstitutionError) Error() string {
	return "release: " + e.phase + " template substitution failed: " + e.cause.Error()
}

func (e *configSubstitutionError) Unwrap() error { return e.cause }

// NonRetryable implements the tree package's private nonRetryable contract.
func (e *configSubstitutionError) NonRetryable() bool { return true }
