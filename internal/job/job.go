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

// Package job runs one-off tasks in the cluster as Kubernetes Jobs.
//
// Each Run creates a single-pod Job that executes the spec's tasks in order
// under /bin/sh, waits for it to finish, and returns an *ExecutionError with
// the tail of the pod log when it fails. A Job left over from an earlier run
// with the same name is deleted first.
package job

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Runner executes a Spec to completion.
type Runner interface {
	Run(ctx context.Context, spec Spec) error
}

// Spec describes a single job.
type Spec struct {
	// Name of the Job object
	Name string
	// Namespace to run the Job in
	Namespace string
	// Image runs the tasks; it must provide /bin/sh
	Image string
	// Tasks are shell commands joined with "&&"
	Tasks []string
	// ServiceAccountName is optional
	ServiceAccountName string
	// Labels are added to the Job and its pod
	Labels map[string]string
}

// Script returns the shell script the job container runs.
func (s Spec) Script() string {
	return strings.Join(s.Tasks, " && ")
}

func (s Spec) validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("job name is required")
	case s.Namespace == "":
		return fmt.Errorf("job %q: namespace is required", s.Name)
	case s.Image == "":
		return fmt.Errorf("job %q: image is required", s.Name)
	case len(s.Tasks) == 0:
		return fmt.Errorf("job %q: at least one task is required", s.Name)
	}
	return nil
}

// ExecutionError reports a job that failed or did not finish in time.
type ExecutionError struct {
	Namespace string
	Name      string
	Reason    string
	// Logs holds the tail of the pod log, if it could be read
	Logs string
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("job %s/%s failed: %s", e.Namespace, e.Name, e.Reason)
	if e.Logs != "" {
		msg += "\n" + e.Logs
	}
	return msg
}

const (
	// DefaultCompletionTimeout bounds how long Run waits for a job to finish
	DefaultCompletionTimeout = 10 * time.Minute

	// DefaultPollInterval is the delay between two job status checks
	DefaultPollInterval = 2 * time.Second

	deletionTimeout = 30 * time.Second
	logTailLines    = int64(20)
)
