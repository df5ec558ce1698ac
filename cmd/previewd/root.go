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
	"flag"
	"fmt"

	"github.com/mikelane/previewd/internal/config"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

func newRootCommand() *cobra.Command {
	cfg, envErr := config.FromEnv()

	opts := zap.Options{}
	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.BindFlags(zapFlags)

	root := &cobra.Command{
		Use:           "previewd",
		Short:         "Provision preview environments from CI/CD events",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
			if envErr != nil {
				return fmt.Errorf("failed to read environment: %w", envErr)
			}
			return cfg.Validate()
		},
	}

	flags := root.PersistentFlags()
	flags.AddGoFlagSet(zapFlags)
	flags.StringVar(&cfg.ControlNamespace, "control-namespace", cfg.ControlNamespace,
		"Namespace holding environment snapshots. Always protected.")
	flags.StringVar(&cfg.GitHubToken, "github-token", cfg.GitHubToken,
		"Token used to report commit statuses. Reporting is disabled when empty.")
	flags.StringVar(&cfg.StatusURLTemplate, "status-url-template", cfg.StatusURLTemplate,
		"Commit status target URL. {name} is replaced by the environment name.")
	flags.DurationVar(&cfg.ReadinessInterval, "readiness-interval", cfg.ReadinessInterval,
		"Time between two readiness polls of the dependency.")
	flags.DurationVar(&cfg.ReadinessTimeout, "readiness-timeout", cfg.ReadinessTimeout,
		"Upper bound for the dependency readiness wait. 0 waits until cancelled.")
	flags.DurationVar(&cfg.JobTimeout, "job-timeout", cfg.JobTimeout,
		"Upper bound for the dependency install job.")
	flags.StringVar(&cfg.HelmImage, "helm-image", cfg.HelmImage,
		"Image running the dependency install job.")
	flags.StringVar(&cfg.ServiceAccountName, "service-account", cfg.ServiceAccountName,
		"Service account of the dependency install job.")
	flags.BoolVar(&cfg.ResourceQuota, "resource-quota", cfg.ResourceQuota,
		"Create a resource quota in every environment namespace.")

	root.AddCommand(newServeCommand(&cfg), newExecCommand(&cfg))
	return root
}
