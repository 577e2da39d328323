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

// Package httputil holds the small HTTP-request-shaping helpers shared by
// the workflow and status clients: path-template substitution, query
// string construction, and bearer-token header injection.
package httputil

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// BuildPath substitutes {param} placeholders in template with values from
// params, returning an error naming the first unreplaced placeholder.
func BuildPath(template string, params map[string]string) (string, error) {
	path := template
	for key, value := range params {
		placeholder := fmt.Sprintf("{%s}", key)
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, value)
		}
	}

	if start := strings.Index(path, "{"); start != -1 {
		end := strings.Index(path[start:], "}")
		if end != -1 {
			missing := path[start+1 : start+end]
			return "", fmt.Errorf("httputil: missing required path parameter %q", missing)
		}
	}

	return path, nil
}

// BuildQuery constructs a "?k=v&..." query string from params, or an empty
// string when params is empty. Keys with empty values are omitted.
func BuildQuery(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		if v == "" {
			continue
		}
		values.Add(k, v)
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

// SetBearerAuth adds an Authorization: Bearer header to req when token is
// non-empty.
func SetBearerAuth(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
