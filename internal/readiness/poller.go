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

package readiness

import (
	"context"
	"fmt"
	"time"

	"github.com/mikelane/previewd/internal/metrics"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// DefaultInterval is the fixed delay between two checks
	DefaultInterval = 5 * time.Second

	// DefaultTimeout bounds a single AwaitRunning call
	DefaultTimeout = 15 * time.Minute

	// PhaseField is the pod field selector key used to filter on phase
	PhaseField = "status.phase"
)

// TimeoutError is returned when no pod reached Running before the deadline.
type TimeoutError struct {
	Namespace string
	Selector  string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for pods %q in namespace %q to be running",
		e.Timeout, e.Selector, e.Namespace)
}

// Poller checks pod phase at a fixed interval.
type Poller struct {
	client   client.Client
	interval time.Duration
	timeout  time.Duration
}

// NewPoller returns a Poller. A non-positive interval falls back to DefaultInterval.
func NewPoller(c client.Client, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		client:   c,
		interval: interval,
		timeout:  timeout,
	}
}

// AwaitRunning blocks until at least one pod in namespace matching selector
// is Running. The first check happens immediately. List errors abort the wait.
func (p *Poller) AwaitRunning(ctx context.Context, namespace, selector string) error {
	logger := log.FromContext(ctx).WithValues("namespace", namespace, "selector", selector)

	sel, err := labels.Parse(selector)
	if err != nil {
		return fmt.Errorf("invalid label selector %q: %w", selector, err)
	}

	check := func(ctx context.Context) (bool, error) {
		var pods corev1.PodList
		if err := p.client.List(ctx, &pods,
			client.InNamespace(namespace),
			client.MatchingLabelsSelector{Selector: sel},
			client.MatchingFields{PhaseField: string(corev1.PodRunning)},
		); err != nil {
			return false, fmt.Errorf("failed to list pods in namespace %q: %w", namespace, err)
		}

		if len(pods.Items) > 0 {
			metrics.ReadinessPolls.WithLabelValues(metrics.OutcomeReady).Inc()
			logger.Info("Pods are running", "count", len(pods.Items))
			return true, nil
		}

		metrics.ReadinessPolls.WithLabelValues(metrics.OutcomeWaiting).Inc()
		logger.Info("Waiting for pods to be running", "interval", p.interval)
		return false, nil
	}

	if p.timeout <= 0 {
		return wait.PollUntilContextCancel(ctx, p.interval, true, check)
	}

	err = wait.PollUntilContextTimeout(ctx, p.interval, p.timeout, true, check)
	if err != nil && wait.Interrupted(err) && ctx.Err() == nil {
		return &TimeoutError{Namespace: namespace, Selector: selector, Timeout: p.timeout}
	}
	return err
}
