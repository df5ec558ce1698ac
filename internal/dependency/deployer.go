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

package dependency

import (
	"context"
	"fmt"

	"github.com/mikelane/previewd/internal/job"
	"github.com/mikelane/previewd/internal/metrics"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Awaiter waits for pods matching a selector to be running.
type Awaiter interface {
	AwaitRunning(ctx context.Context, namespace, selector string) error
}

// Config configures a Deployer.
type Config struct {
	Chart Chart
	// Image runs the install job; empty means DefaultImage
	Image string
	// ServiceAccountName is used by the install job, if set
	ServiceAccountName string
}

// Deployer installs the configured chart into environment namespaces.
type Deployer struct {
	client client.Client
	runner job.Runner
	poller Awaiter
	config Config
}

// NewDeployer returns a Deployer.
func NewDeployer(c client.Client, runner job.Runner, poller Awaiter, config Config) *Deployer {
	if config.Image == "" {
		config.Image = DefaultImage
	}
	return &Deployer{
		client: c,
		runner: runner,
		poller: poller,
		config: config,
	}
}

// EnsureDependency installs the chart into namespace unless a StatefulSet of
// the release is already present, then waits for it to be running.
func (d *Deployer) EnsureDependency(ctx context.Context, namespace string) error {
	chart := d.config.Chart
	logger := log.FromContext(ctx).WithValues("namespace", namespace, "release", chart.Release(namespace))

	sel, err := labels.Parse(chart.Selector)
	if err != nil {
		return fmt.Errorf("invalid selector %q for chart %s: %w", chart.Selector, chart.Name, err)
	}

	var sets appsv1.StatefulSetList
	if err := d.client.List(ctx, &sets,
		client.InNamespace(namespace),
		client.MatchingLabelsSelector{Selector: sel},
	); err != nil {
		return fmt.Errorf("failed to list statefulsets in namespace %q: %w", namespace, err)
	}
	if len(sets.Items) > 0 {
		metrics.DependencyInstalls.WithLabelValues(metrics.OutcomeSkipped).Inc()
		logger.Info("Dependency already deployed")
		return nil
	}

	logger.Info("Deploying dependency", "chart", chart.Reference)
	spec := job.Spec{
		Name:               chart.JobName(),
		Namespace:          namespace,
		Image:              d.config.Image,
		Tasks:              chart.Tasks(namespace),
		ServiceAccountName: d.config.ServiceAccountName,
		Labels:             map[string]string{"app": chart.JobName()},
	}
	if err := d.runner.Run(ctx, spec); err != nil {
		metrics.DependencyInstalls.WithLabelValues(metrics.OutcomeFailure).Inc()
		return err
	}
	metrics.DependencyInstalls.WithLabelValues(metrics.OutcomeSuccess).Inc()

	if err := d.poller.AwaitRunning(ctx, namespace, chart.Selector); err != nil {
		return err
	}

	logger.Info("Done deploying dependency")
	return nil
}
