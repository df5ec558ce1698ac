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

package main

import (
	"context"
	"fmt"

	"github.com/mikelane/previewd/internal/config"
	"github.com/mikelane/previewd/internal/dependency"
	"github.com/mikelane/previewd/internal/dispatch"
	"github.com/mikelane/previewd/internal/github"
	"github.com/mikelane/previewd/internal/guard"
	"github.com/mikelane/previewd/internal/job"
	"github.com/mikelane/previewd/internal/namespace"
	"github.com/mikelane/previewd/internal/provision"
	"github.com/mikelane/previewd/internal/readiness"
	"github.com/mikelane/previewd/internal/snapshot"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

// components are the pieces shared by the serve and exec commands.
type components struct {
	client     client.Client
	snapshots  *snapshot.Store
	dispatcher *dispatch.Dispatcher
}

// newComponents connects to the cluster. Workflows read through an uncached
// client so that they always act on the current cluster state.
func newComponents(ctx context.Context, cfg *config.Config, restConfig *rest.Config, opts ...dispatch.Option) (*components, error) {
	c, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster client: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return buildComponents(ctx, cfg, c, clientset, opts...), nil
}

func buildComponents(ctx context.Context, cfg *config.Config, c client.Client, clientset kubernetes.Interface, opts ...dispatch.Option) *components {
	var quota corev1.ResourceList
	if cfg.ResourceQuota {
		quota = namespace.DefaultQuota()
	}

	snapshots := snapshot.NewStore(c, cfg.ControlNamespace)
	deployer := dependency.NewDeployer(c,
		job.NewKubernetesRunner(clientset, cfg.JobTimeout),
		readiness.NewPoller(c, cfg.ReadinessInterval, cfg.ReadinessTimeout),
		dependency.Config{
			Chart:              dependency.DefaultChart(),
			Image:              cfg.HelmImage,
			ServiceAccountName: cfg.ServiceAccountName,
		},
	)
	orchestrator := provision.NewOrchestrator(namespace.NewManager(c, quota), snapshots, deployer)

	var notifier dispatch.Notifier
	if cfg.GitHubToken != "" {
		notifier = github.NewNotifier(github.NewClient(cfg.GitHubToken), cfg.StatusURLTemplate)
	}

	return &components{
		client:     c,
		snapshots:  snapshots,
		dispatcher: dispatch.New(ctx, guard.New(cfg.ControlNamespace), orchestrator, notifier, opts...),
	}
}
