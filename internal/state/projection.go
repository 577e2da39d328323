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

package state

import "sort"

// PackageSummary is the read-only per-package projection consumed by the
// status renderer.
type PackageSummary struct {
	Name            string
	BuildStatus     PhaseStatus
	PublishStatus   PhaseStatus
	Result          Result
	BuildRunURL     string
	PublishRunURL   string
	BlockingReason  string
}

// Rollup is the release-wide projection consumed by the status renderer.
type Rollup struct {
	Tag         string
	ReleaseType ReleaseType
	Total       int
	Succeeded   int
	Failed      int
	Pending     int
	Skipped     int
	Packages    []PackageSummary
}

// blockingReason derives a short human-readable explanation for packages
// that are neither succeeded nor pending-on-schedule, for the renderer.
func blockingReason(p *PackageState) string {
	if !p.Enabled {
		return "skipped"
	}
	if p.Build.Status == PhaseFailed || p.Build.Status == PhaseTimedOut || p.Build.Status == PhaseCancelled {
		return "build " + string(p.Build.Status)
	}
	if p.Publish.Status == PhaseFailed || p.Publish.Status == PhaseTimedOut || p.Publish.Status == PhaseCancelled {
		return "publish " + string(p.Publish.Status)
	}
	return ""
}

// Project builds the read-only rollup for the status renderer. Package
// order is deterministic (sorted by name) to satisfy the determinism
// requirement of the tree runtime's rendering hook.
func (r *Release) Project() Rollup {
	names := make([]string, 0, len(r.Packages))
	for name := range r.Packages {
		names = append(names, name)
	}
	sort.Strings(names)

	roll := Rollup{Tag: r.Tag, ReleaseType: r.ReleaseType}
	for _, name := range names {
		p := r.Packages[name]
		summary := PackageSummary{
			Name:           name,
			BuildStatus:    p.Build.Status,
			PublishStatus:  p.Publish.Status,
			Result:         p.Result,
			BlockingReason: blockingReason(p),
		}
		if p.Build.Run != nil {
			summary.BuildRunURL = p.Build.Run.URL
		}
		if p.Publish.Run != nil {
			summary.PublishRunURL = p.Publish.Run.URL
		}
		roll.Packages = append(roll.Packages, summary)

		if !p.Enabled {
			roll.Skipped++
			continue
		}
		roll.Total++
		switch p.Result {
		case ResultSuccess:
			roll.Succeeded++
		case ResultFailed:
			roll.Failed++
		default:
			roll.Pending++
		}
	}
	return roll
}
