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

	"github.com/mikelane/previewd/internal/cleanup"
	"github.com/mikelane/previewd/internal/config"
	"github.com/mikelane/previewd/internal/webhook"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept environment events over HTTP and expire old environments",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return serve(ctrl.SetupSignalHandler(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.WebhookAddr, "webhook-bind-address", cfg.WebhookAddr,
		"The address the event endpoint binds to.")
	flags.StringVar(&cfg.WebhookSecret, "webhook-secret", cfg.WebhookSecret,
		"Secret used to verify event signatures. Verification is disabled when empty.")
	flags.StringVar(&cfg.MetricsAddr, "metrics-bind-address", cfg.MetricsAddr,
		"The address the metrics endpoint binds to. Use 0 to disable the metrics service.")
	flags.StringVar(&cfg.ProbeAddr, "health-probe-bind-address", cfg.ProbeAddr,
		"The address the probe endpoint binds to.")
	flags.BoolVar(&cfg.LeaderElection, "leader-elect", cfg.LeaderElection,
		"Enable leader election so that only one replica expires environments.")
	flags.DurationVar(&cfg.CleanupInterval, "cleanup-interval", cfg.CleanupInterval,
		"Time between two passes over expired environments.")
	flags.DurationVar(&cfg.RateLimitInterval, "rate-limit-interval", cfg.RateLimitInterval,
		"Minimum time between two events for one environment once the burst is used.")
	flags.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", cfg.RateLimitBurst,
		"Number of events accepted for one environment before rate limiting applies.")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := ctrl.Log.WithName("setup")

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
		Scheme:                  scheme,
		Metrics:                 metricsserver.Options{BindAddress: cfg.MetricsAddr},
		HealthProbeBindAddress:  cfg.ProbeAddr,
		LeaderElection:          cfg.LeaderElection,
		LeaderElectionID:        cfg.LeaderElectionID,
		LeaderElectionNamespace: cfg.ControlNamespace,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	comps, err := newComponents(log.IntoContext(ctx, ctrl.Log.WithName("workflow")), cfg, restConfig)
	if err != nil {
		return err
	}

	server := webhook.NewServer(cfg.WebhookAddr, comps.dispatcher, cfg.WebhookSecret, webhook.RateLimit{
		Rate:  rate.Every(cfg.RateLimitInterval),
		Burst: cfg.RateLimitBurst,
	})
	if err := mgr.Add(server); err != nil {
		return fmt.Errorf("failed to add event server: %w", err)
	}

	scheduler := cleanup.NewScheduler(comps.client, comps.snapshots, comps.dispatcher, cfg.CleanupInterval)
	if err := mgr.Add(scheduler); err != nil {
		return fmt.Errorf("failed to add cleanup scheduler: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("failed to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("failed to set up ready check: %w", err)
	}

	logger.Info("Starting previewd",
		"controlNamespace", cfg.ControlNamespace,
		"webhookAddr", cfg.WebhookAddr,
		"statusReporting", cfg.GitHubToken != "")
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("manager stopped: %w", err)
	}

	// In-flight workflows were cancelled with ctx and log their own failures.
	return comps.dispatcher.Wait()
}
