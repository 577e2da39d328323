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

package metrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relctl/release-controller/internal/controller/metrics"
)

func TestCollector_RecordsAndServesMetrics(t *testing.T) {
	c, err := metrics.NewCollector()
	require.NoError(t, err)
	ctx := context.Background()

	c.RecordTick(ctx, 25*time.Millisecond)
	c.RecordTick(ctx, 40*time.Millisecond)
	c.RecordPackage(ctx, "docker", "success")
	c.RecordRelease(ctx, "8.2.0", "success")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "relctl_ticks_total")
	assert.Contains(t, body, "relctl_tick_duration_seconds")
	assert.Contains(t, body, `package="docker"`)
	assert.Contains(t, body, `tag="8.2.0"`)

	require.NoError(t, c.Shutdown(ctx))
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a, err := metrics.NewCollector()
	require.NoError(t, err)
	b, err := metrics.NewCollector()
	require.NoError(t, err)

	a.RecordTick(context.Background(), time.Millisecond)

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.NotContains(t, rec.Body.String(), `relctl_ticks_total{`)
}
