// Copyright 2025 The Previewd Authors
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

// Package metrics holds the Prometheus collectors exported by previewd. They
// are registered on the controller-runtime registry and served by the
// manager's metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomeReady   = "ready"
	OutcomeWaiting = "waiting"
)

var factory = promauto.With(crmetrics.Registry)

var (
	// WorkflowsTotal counts finished workflows by action and outcome
	WorkflowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "previewd_workflows_total",
			Help: "Total number of finished environment workflows",
		},
		[]string{"action", "outcome"},
	)

	// WorkflowDuration observes the wall time of each workflow
	WorkflowDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "previewd_workflow_duration_seconds",
			Help:    "Environment workflow duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
		},
		[]string{"action"},
	)

	// ReadinessPolls counts readiness checks by result
	ReadinessPolls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "previewd_readiness_polls_total",
			Help: "Total number of readiness checks against dependency pods",
		},
		[]string{"outcome"},
	)

	// DependencyInstalls counts dependency install attempts by result
	DependencyInstalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "previewd_dependency_installs_total",
			Help: "Total number of dependency install attempts",
		},
		[]string{"outcome"},
	)

	// EventsTotal counts inbound events by HTTP status
	EventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "previewd_events_total",
			Help: "Total number of inbound environment events",
		},
		[]string{"status"},
	)
)

// ObserveWorkflow records the outcome and duration of a workflow started at start.
func ObserveWorkflow(action string, start time.Time, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	WorkflowsTotal.WithLabelValues(action, outcome).Inc()
	WorkflowDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}
