// Copyright 2025 The Autopeer Authors.
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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every vmupdater collector. It is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// RunsTotal counts finished runs by kind (check/apply) and recommended action.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmupdater_runs_total",
			Help: "Total number of finished update runs.",
		},
		[]string{"kind", "result"},
	)

	// VMOutcomesTotal counts per-VM outcomes.
	VMOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmupdater_vm_outcomes_total",
			Help: "Total number of per-VM outcomes by operation and status.",
		},
		[]string{"op", "status"},
	)

	// VMOperationDuration observes how long a single gateway call took.
	VMOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vmupdater_vm_operation_duration_seconds",
			Help:    "Duration of check and apply operations against one VM.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"op"},
	)

	// PersistenceFailuresTotal counts failed flag store writes.
	PersistenceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vmupdater_persistence_failures_total",
			Help: "Total number of runs whose status could not be persisted.",
		},
	)

	// LastRecommendation is the status code of the last finished run
	// (0=OK, 1=REQUIRED, 2=REBOOT_REQUIRED, 3=FAILED).
	LastRecommendation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vmupdater_last_recommendation",
			Help: "Status code recommended by the last finished run.",
		},
	)

	// RunInProgress is 1 while a check or apply run is active.
	RunInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vmupdater_run_in_progress",
			Help: "Whether an update run is currently active (1=yes).",
		},
	)
)

func init() {
	Registry.MustRegister(
		RunsTotal,
		VMOutcomesTotal,
		VMOperationDuration,
		PersistenceFailuresTotal,
		LastRecommendation,
		RunInProgress,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
