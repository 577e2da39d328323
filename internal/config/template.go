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

package config

import (
	"fmt"
	"strings"
)

// TemplateVars carries the substitution values available to ref_template
// and inputs_template strings.
type TemplateVars struct {
	Tag          string
	ReleaseType  string
	ArtifactURLs map[string]string
}

// Substitute replaces {tag}, {release_type}, and {artifact_url[name]}
// placeholders in tmpl with values from vars. An {artifact_url[name]}
// reference to an artifact not present in vars.ArtifactURLs is left
// unresolved and reported via the returned error so callers can surface a
// configuration error rather than dispatch with a literal placeholder.
func Substitute(tmpl string, vars TemplateVars) (string, error) {
	result := tmpl
	result = strings.ReplaceAll(result, "{tag}", vars.Tag)
	result = strings.ReplaceAll(result, "{release_type}", vars.ReleaseType)

	for {
		start := strings.Index(result, "{artifact_url[")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "]}")
		if end == -1 {
			return "", fmt.Errorf("config: unterminated artifact_url placeholder in %q", tmpl)
		}
		end += start

		name := result[start+len("{artifact_url[") : end]
		url, ok := vars.ArtifactURLs[name]
		if !ok {
			return "", fmt.Errorf("config: template %q references unknown artifact %q", tmpl, name)
		}
		result = result[:start] + url + result[end+len("]}"):]
	}

	return result, nil
}

// SubstituteMap applies Substitute to every value in m, returning a new map.
func SubstituteMap(m map[string]string, vars TemplateVars) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		resolved, err := Substitute(v, vars)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}
