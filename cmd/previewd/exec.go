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
	"io"
	"os"

	previewv1alpha1 "github.com/mikelane/previewd/api/v1alpha1"
	"github.com/mikelane/previewd/internal/config"
	"github.com/mikelane/previewd/internal/dispatch"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// dispatcher is the part of dispatch.Dispatcher a one-shot run needs.
type dispatcher interface {
	Dispatch(ctx context.Context, req *previewv1alpha1.EnvironmentRequest) error
	Wait() error
}

func newExecCommand(cfg *config.Config) *cobra.Command {
	var payloadFile string

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run the workflow for a single event and exit",
		Long: `Run the workflow for a single environment event and exit.

The event is read from --payload-file, or from standard input when the file
is "-". The command exits non-zero when the event is rejected or its
workflow fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := readPayload(cmd.InOrStdin(), payloadFile)
			if err != nil {
				return err
			}
			req, err := previewv1alpha1.ParseRequest(payload)
			if err != nil {
				return err
			}
			return execute(ctrl.SetupSignalHandler(), cfg, req)
		},
	}

	cmd.Flags().StringVar(&payloadFile, "payload-file", "-", `Event payload to run; "-" reads standard input.`)
	return cmd
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		payload, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		return payload, nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return payload, nil
}

func execute(ctx context.Context, cfg *config.Config, req *previewv1alpha1.EnvironmentRequest) error {
	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	ctx = log.IntoContext(ctx, ctrl.Log.WithName("exec"))

	comps, err := newComponents(ctx, cfg, restConfig, dispatch.CollectFailures())
	if err != nil {
		return err
	}
	return runOnce(ctx, comps.dispatcher, req)
}

// runOnce dispatches req and waits for its workflow to finish.
func runOnce(ctx context.Context, d dispatcher, req *previewv1alpha1.EnvironmentRequest) error {
	if err := d.Dispatch(ctx, req); err != nil {
		return err
	}
	return d.Wait()
}
