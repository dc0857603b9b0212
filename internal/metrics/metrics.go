// Copyright 2025 Flant JSC
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

// Package metrics defines the Prometheus collectors exposed by the
// scheduler's HTTP server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the scheduler registers against a
// private prometheus.Registry (never the global default, so multiple
// schedulers can run in the same test process without collisions).
type Metrics struct {
	AdmissionPasses    *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	PriorityScore      prometheus.Histogram
	GPUHealthy         *prometheus.GaugeVec
	LedgerUsageSeconds *prometheus.GaugeVec
}

// New constructs the collector set. Callers must register it on a
// *prometheus.Registry (see internal/server).
func New() *Metrics {
	return &Metrics{
		AdmissionPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpu_scheduler",
			Name:      "admission_passes_total",
			Help:      "Total admission passes grouped by outcome.",
		}, []string{"outcome"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gpu_scheduler",
			Name:      "queue_depth",
			Help:      "Current number of jobs grouped by status.",
		}, []string{"status"}),

		PriorityScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gpu_scheduler",
			Name:      "priority_score",
			Help:      "Distribution of computed priority scores at admission time.",
			Buckets:   prometheus.LinearBuckets(0, 1000, 20),
		}),

		GPUHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gpu_scheduler",
			Name:      "gpu_healthy",
			Help:      "1 if the GPU is healthy, 0 otherwise, labeled by device id.",
		}, []string{"gpu_id"}),

		LedgerUsageSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gpu_scheduler",
			Name:      "ledger_usage_seconds",
			Help:      "Cumulative GPU-seconds consumed per user.",
		}, []string{"user"}),
	}
}

// Collectors returns every collector for bulk registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.AdmissionPasses,
		m.QueueDepth,
		m.PriorityScore,
		m.GPUHealthy,
		m.LedgerUsageSeconds,
	}
}
