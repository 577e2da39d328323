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

// Package metrics collects Prometheus-compatible metrics for release
// execution: tick throughput, per-package outcomes, and terminal release
// results, exported through the OpenTelemetry Prometheus bridge.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Collector records release controller metrics against an OpenTelemetry
// meter backed by a Prometheus registry.
type Collector struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	ticksTotal    metric.Int64Counter
	tickDuration  metric.Float64Histogram
	packagesTotal metric.Int64Counter
	releasesTotal metric.Int64Counter
}

// NewCollector builds a Collector with its own Prometheus registry. The
// returned Collector's Handler serves the scrape endpoint.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("relctl")

	c := &Collector{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	c.ticksTotal, err = meter.Int64Counter(
		"relctl_ticks_total",
		metric.WithDescription("Total behavior tree ticks executed"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	c.tickDuration, err = meter.Float64Histogram(
		"relctl_tick_duration_seconds",
		metric.WithDescription("Duration of one behavior tree tick including post-tick hooks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	c.packagesTotal, err = meter.Int64Counter(
		"relctl_packages_total",
		metric.WithDescription("Terminal package outcomes by result"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		return nil, err
	}

	c.releasesTotal, err = meter.Int64Counter(
		"relctl_releases_total",
		metric.WithDescription("Terminal release outcomes"),
		metric.WithUnit("{release}"),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Handler serves the Prometheus scrape endpoint for this collector.
func (c *Collector) Handler() http.Handler { return c.handler }

// RecordTick counts one tick and its duration.
func (c *Collector) RecordTick(ctx context.Context, d time.Duration) {
	c.ticksTotal.Add(ctx, 1)
	c.tickDuration.Record(ctx, d.Seconds())
}

// RecordPackage counts one package reaching a terminal result.
func (c *Collector) RecordPackage(ctx context.Context, name, result string) {
	c.packagesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("package", name),
		attribute.String("result", result),
	))
}

// RecordRelease counts one release run reaching a terminal root status.
func (c *Collector) RecordRelease(ctx context.Context, tag, outcome string) {
	c.releasesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tag", tag),
		attribute.String("outcome", outcome),
	))
}

// Shutdown flushes the provider.
func (c *Collector) Shutdown(ctx context.Context) error {
	return c.provider.Shutdown(ctx)
}
