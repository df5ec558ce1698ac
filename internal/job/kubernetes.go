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

package job

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	labelJobName   = "job-name"
	labelManagedBy = "preview.previewd.io/managed-by"
	containerName  = "task"
)

// KubernetesRunner runs Specs as batch/v1 Jobs.
type KubernetesRunner struct {
	clientset kubernetes.Interface
	timeout   time.Duration
	interval  time.Duration
}

// NewKubernetesRunner returns a runner using clientset. A non-positive timeout
// falls back to DefaultCompletionTimeout.
func NewKubernetesRunner(clientset kubernetes.Interface, timeout time.Duration) *KubernetesRunner {
	if timeout <= 0 {
		timeout = DefaultCompletionTimeout
	}
	return &KubernetesRunner{
		clientset: clientset,
		timeout:   timeout,
		interval:  DefaultPollInterval,
	}
}

// Run creates the Job described by spec and waits for it to complete.
func (r *KubernetesRunner) Run(ctx context.Context, spec Spec) error {
	if err := spec.validate(); err != nil {
		return err
	}

	logger := log.FromContext(ctx).WithValues("job", spec.Name, "namespace", spec.Namespace)

	if err := r.ensureJob(ctx, spec); err != nil {
		return err
	}
	logger.Info("Started job", "image", spec.Image)

	if err := r.waitForCompletion(ctx, spec); err != nil {
		return err
	}

	logger.Info("Job completed")
	return nil
}

// ensureJob deletes any existing Job and creates a fresh one.
func (r *KubernetesRunner) ensureJob(ctx context.Context, spec Spec) error {
	jobs := r.clientset.BatchV1().Jobs(spec.Namespace)

	err := jobs.Delete(ctx, spec.Name, metav1.DeleteOptions{
		PropagationPolicy: ptr.To(metav1.DeletePropagationForeground),
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete existing job %q: %w", spec.Name, err)
	}
	if err == nil {
		if err := r.waitForDeletion(ctx, spec); err != nil {
			return fmt.Errorf("timeout waiting for job %q deletion: %w", spec.Name, err)
		}
	}

	if _, err := jobs.Create(ctx, buildJob(spec), metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create job %q: %w", spec.Name, err)
	}
	return nil
}

func (r *KubernetesRunner) waitForDeletion(ctx context.Context, spec Spec) error {
	return wait.PollUntilContextTimeout(ctx, r.interval, deletionTimeout, true,
		func(ctx context.Context) (bool, error) {
			_, err := r.clientset.BatchV1().Jobs(spec.Namespace).Get(ctx, spec.Name, metav1.GetOptions{})
			if apierrors.IsNotFound(err) {
				return true, nil
			}
			return false, err
		},
	)
}

func (r *KubernetesRunner) waitForCompletion(ctx context.Context, spec Spec) error {
	var failure string
	err := wait.PollUntilContextTimeout(ctx, r.interval, r.timeout, false,
		func(ctx context.Context) (bool, error) {
			job, err := r.clientset.BatchV1().Jobs(spec.Namespace).Get(ctx, spec.Name, metav1.GetOptions{})
			if err != nil {
				return false, fmt.Errorf("failed to get job %q: %w", spec.Name, err)
			}
			for _, condition := range job.Status.Conditions {
				if condition.Status != corev1.ConditionTrue {
					continue
				}
				switch condition.Type {
				case batchv1.JobComplete:
					return true, nil
				case batchv1.JobFailed:
					failure = condition.Message
					if failure == "" {
						failure = condition.Reason
					}
					return true, nil
				}
			}
			return false, nil
		},
	)

	switch {
	case err == nil && failure == "":
		return nil
	case err == nil:
		return r.executionError(ctx, spec, failure)
	case wait.Interrupted(err) && ctx.Err() == nil:
		return r.executionError(ctx, spec, fmt.Sprintf("did not complete within %s", r.timeout))
	default:
		return err
	}
}

func (r *KubernetesRunner) executionError(ctx context.Context, spec Spec, reason string) *ExecutionError {
	execErr := &ExecutionError{
		Namespace: spec.Namespace,
		Name:      spec.Name,
		Reason:    reason,
	}
	logs, err := r.podLogs(ctx, spec)
	if err != nil {
		log.FromContext(ctx).V(1).Info("Could not read job logs", "job", spec.Name, "error", err.Error())
		return execErr
	}
	execErr.Logs = logs
	return execErr
}

// podLogs returns the log tail of the most recent pod of the job.
func (r *KubernetesRunner) podLogs(ctx context.Context, spec Spec) (string, error) {
	pods, err := r.clientset.CoreV1().Pods(spec.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelJobName + "=" + spec.Name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list pods: %w", err)
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("no pods found for job %s", spec.Name)
	}

	pod := pods.Items[len(pods.Items)-1]
	req := r.clientset.CoreV1().Pods(spec.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
		Container: containerName,
		TailLines: ptr.To(logTailLines),
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to stream logs: %w", err)
	}
	defer stream.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, stream); err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return buf.String(), nil
}

func buildJob(spec Spec) *batchv1.Job {
	labels := map[string]string{
		labelManagedBy: "previewd",
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: spec.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			Completions:             ptr.To(int32(1)),
			Parallelism:             ptr.To(int32(1)),
			BackoffLimit:            ptr.To(int32(0)),
			TTLSecondsAfterFinished: ptr.To(int32(3600)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					ServiceAccountName: spec.ServiceAccountName,
					RestartPolicy:      corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:            containerName,
							Image:           spec.Image,
							ImagePullPolicy: corev1.PullAlways,
							Command:         []string{"/bin/sh", "-c"},
							Args:            []string{spec.Script()},
						},
					},
				},
			},
		},
	}
}
