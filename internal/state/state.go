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

// Package state defines the persisted release state document: the release
// itself, its packages, each package's build/publish phases, the workflow
// run handles they accumulate, and the artifacts handed off between phases.
package state

import "encoding/json"

// ReleaseType classifies a release tag.
type ReleaseType string

const (
	ReleaseTypeGA          ReleaseType = "ga"
	ReleaseTypeRC          ReleaseType = "rc"
	ReleaseTypeMaintenance ReleaseType = "maintenance"
	ReleaseTypeMilestone   ReleaseType = "milestone"
)

// PhaseStatus is the lifecycle of a single build or publish phase.
type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "not_started"
	PhaseTriggered  PhaseStatus = "triggered"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseSucceeded  PhaseStatus = "succeeded"
	PhaseFailed     PhaseStatus = "failed"
	PhaseCancelled  PhaseStatus = "cancelled"
	PhaseTimedOut   PhaseStatus = "timed_out"
)

// Terminal reports whether the phase has reached a status from which it
// will not transition again within the current attempt.
func (s PhaseStatus) Terminal() bool {
	switch s {
	case PhaseSucceeded, PhaseFailed, PhaseCancelled, PhaseTimedOut:
		return true
	default:
		return false
	}
}

// Result is a package's terminal outcome for the current run.
type Result string

const (
	ResultPending Result = "pending"
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
)

// WorkflowRun is the handle returned once a dispatched run is located.
type WorkflowRun struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Conclusion string `json:"conclusion,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

// ArtifactRef describes one artifact handed off from a build run to the
// corresponding publish run.
type ArtifactRef struct {
	Name        string `json:"name"`
	SourceRunID string `json:"source_run_id"`
	DownloadURL string `json:"download_url"`
	SHA256      string `json:"sha256"`
	Size        int64  `json:"size"`
}

// PhaseState tracks one phase (build or publish) of one package.
type PhaseState struct {
	Workflow string            `json:"workflow"`
	Ref      string            `json:"ref"`
	Inputs   map[string]string `json:"inputs,omitempty"`
	Run      *WorkflowRun      `json:"run,omitempty"`
	Status   PhaseStatus       `json:"status"`
	Attempts int               `json:"attempts"`
	UUID     string            `json:"uuid,omitempty"`

	// DispatchedAt bounds the find_run_by_uuid scan window (since). Not
	// named explicitly in the abstract data model but required to
	// implement MonitorRun's "since" parameter.
	DispatchedAt string `json:"dispatched_at,omitempty"`
}

// NewPhaseState returns a PhaseState reset to its pre-dispatch defaults.
func NewPhaseState(workflow, ref string, inputs map[string]string) *PhaseState {
	cloned := make(map[string]string, len(inputs))
	for k, v := range inputs {
		cloned[k] = v
	}
	return &PhaseState{
		Workflow: workflow,
		Ref:      ref,
		Inputs:   cloned,
		Status:   PhaseNotStarted,
	}
}

// Reset returns the phase to not_started and increments attempts, per the
// "new attempt resets phase, increments attempts" invariant. Run and uuid
// are cleared so DispatchIfNeeded generates a fresh correlation id.
func (p *PhaseState) Reset() {
	p.Status = PhaseNotStarted
	p.Run = nil
	p.UUID = ""
	p.DispatchedAt = ""
	p.Attempts++
}

// PackageState tracks one downstream package through both phases.
type PackageState struct {
	Enabled   bool                    `json:"enabled"`
	Build     *PhaseState             `json:"build"`
	Publish   *PhaseState             `json:"publish"`
	Artifacts map[string]*ArtifactRef `json:"artifacts,omitempty"`
	Result    Result                  `json:"result"`
}

// NewPackageState constructs the default, never-yet-run state for a package.
func NewPackageState(buildWorkflow, buildRef string, buildInputs map[string]string, publishWorkflow, publishRef string, publishInputs map[string]string) *PackageState {
	return &PackageState{
		Enabled:   true,
		Build:     NewPhaseState(buildWorkflow, buildRef, buildInputs),
		Publish:   NewPhaseState(publishWorkflow, publishRef, publishInputs),
		Artifacts: make(map[string]*ArtifactRef),
		Result:    ResultPending,
	}
}

// ResetAll resets build, publish, artifacts, and result to defaults and
// increments both phases' attempt counters, per the force-rebuild(package)
// primitive.
func (p *PackageState) ResetAll() {
	p.Build.Reset()
	p.Publish.Reset()
	p.Artifacts = make(map[string]*ArtifactRef)
	p.Result = ResultPending
}

// Consistent checks invariant 1 of the data model: a package is success iff
// both phases succeeded.
func (p *PackageState) Consistent() bool {
	bothSucceeded := p.Build.Status == PhaseSucceeded && p.Publish.Status == PhaseSucceeded
	if p.Result == ResultSuccess {
		return bothSucceeded
	}
	return true
}

// Ephemeral holds values that exist only for the duration of one controller
// run and are never persisted — status-thread coordinates in particular.
type Ephemeral struct {
	StatusChannel string `json:"status_channel,omitempty"`
	StatusTS      string `json:"status_ts,omitempty"`
}

// Meta is release house-keeping: schema version, last-updated timestamp,
// and the ephemeral sub-object that state.Save strips before persisting.
type Meta struct {
	SchemaVersion int        `json:"schema_version"`
	LastUpdated   string      `json:"last_updated,omitempty"`
	Ephemeral     *Ephemeral `json:"ephemeral,omitempty"`
}

// CurrentSchemaVersion is written into every freshly created release.
const CurrentSchemaVersion = 1

// Release is the root, persisted state document for one release tag.
type Release struct {
	Tag         string                   `json:"tag"`
	ReleaseType ReleaseType              `json:"release_type"`
	Packages    map[string]*PackageState `json:"packages"`
	Meta        Meta                     `json:"meta"`

	// Unknown preserves top-level fields this version of the controller
	// does not recognize, so an older binary round-trips a document
	// written by a newer one without data loss.
	Unknown map[string]json.RawMessage `json:"-"`

	// dirty tracks whether any tick mutated this document since it was
	// loaded or last saved; the store only writes when dirty.
	dirty bool
}

// New constructs a fresh release document for tag with its release type
// derived unless overridden by the caller afterward.
func New(tag string) *Release {
	return &Release{
		Tag:         tag,
		ReleaseType: DeriveReleaseType(tag),
		Packages:    make(map[string]*PackageState),
		Meta:        Meta{SchemaVersion: CurrentSchemaVersion},
	}
}

// Package returns the named package's state, creating it from the given
// defaults on first observation (lifecycle rule: "created ... on first
// observation and never deleted").
func (r *Release) Package(name string, makeDefault func() *PackageState) *PackageState {
	if p, ok := r.Packages[name]; ok {
		return p
	}
	p := makeDefault()
	r.Packages[name] = p
	r.dirty = true
	return p
}

// MarkDirty flags the document as mutated so the store persists it at the
// end of the current tick.
func (r *Release) MarkDirty() { r.dirty = true }

// Dirty reports whether the document has unsaved mutations.
func (r *Release) Dirty() bool { return r.dirty }

// ClearDirty resets the dirty flag after a successful save.
func (r *Release) ClearDirty() { r.dirty = false }

// Terminal reports whether every enabled package has reached a terminal
// result (success, failed, or skipped).
func (r *Release) Terminal() bool {
	for _, p := range r.Packages {
		if !p.Enabled {
			continue
		}
		if p.Result == ResultPending {
			return false
		}
	}
	return true
}

// Succeeded reports whether every enabled package succeeded.
func (r *Release) Succeeded() bool {
	for _, p := range r.Packages {
		if !p.Enabled {
			continue
		}
		if p.Result != ResultSuccess {
			return false
		}
	}
	return true
}

type releaseAlias Release

// MarshalJSON writes the document, re-emitting any unknown top-level fields
// captured at load time.
func (r *Release) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal((*releaseAlias)(r))
	if err != nil {
		return nil, err
	}
	if len(r.Unknown) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(r.Unknown)+4)
	for k, v := range r.Unknown {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON loads the document, stashing any field this version of the
// struct does not declare into Unknown.
func (r *Release) UnmarshalJSON(data []byte) error {
	var alias releaseAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*r = Release(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, known := range []string{"tag", "release_type", "packages", "meta"} {
		delete(raw, known)
	}
	if len(raw) > 0 {
		r.Unknown = raw
	}
	return nil
}
