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

// Package namespace provides functionality for managing the Kubernetes
// namespaces that isolate preview environments.
package namespace

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	managedByLabel = "previewd"

	// LabelManagedBy marks objects created by previewd
	LabelManagedBy = "preview.previewd.io/managed-by"

	// LabelEnvironment carries the environment name on objects created by previewd
	LabelEnvironment = "preview.previewd.io/environment"

	// QuotaName is the name of the ResourceQuota created in each namespace
	QuotaName = "preview-quota"
)

// ErrTerminating is returned when the namespace exists but is being deleted.
var ErrTerminating = errors.New("namespace is terminating")

// Manager handles namespace lifecycle for preview environments
type Manager struct {
	client client.Client
	quota  corev1.ResourceList
}

// NewManager creates a new namespace manager. A nil or empty quota disables
// EnsureResourceQuota.
func NewManager(c client.Client, quota corev1.ResourceList) *Manager {
	return &Manager{
		client: c,
		quota:  quota,
	}
}

// DefaultQuota returns resource limits sized for a handful of services and
// one database.
func DefaultQuota() corev1.ResourceList {
	return corev1.ResourceList{
		corev1.ResourceRequestsCPU:            resource.MustParse("2"),
		corev1.ResourceRequestsMemory:         resource.MustParse("4Gi"),
		corev1.ResourceLimitsCPU:              resource.MustParse("4"),
		corev1.ResourceLimitsMemory:           resource.MustParse("8Gi"),
		corev1.ResourcePersistentVolumeClaims: resource.MustParse("2"),
		"services.loadbalancers":              resource.MustParse("0"),
	}
}

// EnsureNamespace makes sure a namespace called name exists. An existing
// namespace is left untouched. It returns once the API server has accepted the
// create; the namespace is usable from that point on.
func (m *Manager) EnsureNamespace(ctx context.Context, name string) error {
	logger := log.FromContext(ctx).WithValues("namespace", name)

	existing := &corev1.Namespace{}
	err := m.client.Get(ctx, types.NamespacedName{Name: name}, existing)
	switch {
	case err == nil:
		if existing.Status.Phase == corev1.NamespaceTerminating {
			return fmt.Errorf("namespace %q: %w", name, ErrTerminating)
		}
		logger.Info("Namespace already exists")
		return nil
	case !apierrors.IsNotFound(err):
		return fmt.Errorf("failed to get namespace %q: %w", name, err)
	}

	logger.Info("Creating namespace")
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				LabelManagedBy:   managedByLabel,
				LabelEnvironment: name,
			},
		},
	}

	if err := m.client.Create(ctx, ns); err != nil {
		if apierrors.IsAlreadyExists(err) {
			// Lost a race with another writer; the namespace exists either way.
			logger.Info("Namespace already exists")
			return nil
		}
		return fmt.Errorf("failed to create namespace %q: %w", name, err)
	}

	logger.Info("Done creating namespace")
	return nil
}

// EnsureResourceQuota creates or updates the resource quota in the namespace
// to limit resource consumption by the preview environment.
func (m *Manager) EnsureResourceQuota(ctx context.Context, name string) error {
	if len(m.quota) == 0 {
		return nil
	}

	quota := &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      QuotaName,
			Namespace: name,
		},
	}

	_, err := controllerutil.CreateOrUpdate(ctx, m.client, quota, func() error {
		quota.Spec.Hard = m.quota.DeepCopy()

		if quota.Labels == nil {
			quota.Labels = make(map[string]string)
		}
		quota.Labels[LabelManagedBy] = managedByLabel
		quota.Labels[LabelEnvironment] = name

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ensure resource quota: %w", err)
	}

	return nil
}

// Destroy deletes the namespace and lets Kubernetes cascade the deletion to
// everything inside it. A missing namespace is not an error.
func (m *Manager) Destroy(ctx context.Context, name string) error {
	logger := log.FromContext(ctx).WithValues("namespace", name)

	ns := &corev1.Namespace{}
	if err := m.client.Get(ctx, types.NamespacedName{Name: name}, ns); err != nil {
		if apierrors.IsNotFound(err) {
			logger.Info("Namespace already deleted")
			return nil
		}
		return fmt.Errorf("failed to get namespace %q: %w", name, err)
	}

	if err := m.client.Delete(ctx, ns, client.PropagationPolicy(metav1.DeletePropagationBackground)); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete namespace %q: %w", name, err)
	}

	logger.Info("Deleted namespace")
	return nil
}
