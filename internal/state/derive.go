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

import "regexp"

var (
	gaPattern          = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	rcPattern          = regexp.MustCompile(`^\d+\.\d+(\.\d+)?-rc\d+$`)
	milestonePattern   = regexp.MustCompile(`^\d+\.\d+-m\d+$`)
	maintenancePattern = regexp.MustCompile(`^\d+\.\d+\.\d+-[A-Za-z0-9][A-Za-z0-9.]*$`)
)

// DeriveReleaseType classifies a tag per the rules of the data model:
//
//	X.Y.Z            -> ga
//	X.Y.Z-rcN / X.Y-rcN -> rc
//	X.Y-mN           -> milestone
//	X.Y.Z-<suffix>   (non-rc suffix) -> maintenance
//
// Tags matching none of the patterns default to maintenance, the most
// conservative classification (never auto-promoted to ga).
func DeriveReleaseType(tag string) ReleaseType {
	switch {
	case rcPattern.MatchString(tag):
		return ReleaseTypeRC
	case milestonePattern.MatchString(tag):
		return ReleaseTypeMilestone
	case gaPattern.MatchString(tag):
		return ReleaseTypeGA
	case maintenancePattern.MatchString(tag):
		return ReleaseTypeMaintenance
	default:
		return ReleaseTypeMaintenance
	}
}

// ValidReleaseType reports whether s names one of the four release types,
// for validating --force-release-type.
func ValidReleaseType(s string) bool {
	switch ReleaseType(s) {
	case ReleaseTypeGA, ReleaseTypeRC, ReleaseTypeMaintenance, ReleaseTypeMilestone:
		return true
	default:
		return false
	}
}
