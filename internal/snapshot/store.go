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

package snapshot

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"
)

const (
	// NamePrefix is prepended to the environment name to form the ConfigMap name
	NamePrefix = "preview-environment-"

	// DataKey holds the YAML rendering of the project set
	DataKey = "projects.yaml"

	// LabelType selects every snapshot
	LabelType = "type"
	// TypeValue is the value of LabelType on snapshots
	TypeValue = "preview-environment-config"
	// LabelEnvironmentName carries the environment name
	LabelEnvironmentName = "environmentName"

	// AnnotationExpiresAt records when the environment expires, in RFC3339
	AnnotationExpiresAt = "preview.previewd.io/expires-at"
	// AnnotationUpdatedAt records the time of the last write, in RFC3339
	AnnotationUpdatedAt = "preview.previewd.io/updated-at"
)

// Options carries the optional metadata written alongside the projects.
type Options struct {
	// ExpiresAt is the expiry of the environment. Zero means never.
	ExpiresAt time.Time
}

// Snapshot is a persisted project set read back from the cluster.
type Snapshot struct {
	Name      string
	Projects  apiextensionsv1.JSON
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the snapshot has an expiry before now.
func (s *Snapshot) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}

// Store reads and writes snapshots in a single control namespace.
type Store struct {
	client    client.Client
	namespace string
	now       func() time.Time
}

// NewStore returns a Store writing to the given control namespace.
func NewStore(c client.Client, namespace string) *Store {
	return &Store{
		client:    c,
		namespace: namespace,
		now:       time.Now,
	}
}

// ConfigMapName returns the name of the ConfigMap holding the snapshot of an environment.
func ConfigMapName(name string) string {
	return NamePrefix + name
}

// Upsert writes the project set of an environment. An existing snapshot is
// replaced in full, with no resourceVersion precondition.
func (s *Store) Upsert(ctx context.Context, name string, projects apiextensionsv1.JSON, opts Options) error {
	logger := log.FromContext(ctx).WithValues("configMap", ConfigMapName(name), "namespace", s.namespace)

	cm, err := s.build(name, projects, opts)
	if err != nil {
		return err
	}

	logger.Info("Creating config map")
	err = s.client.Create(ctx, cm)
	if err == nil {
		logger.Info("Done creating config map")
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create config map %q: %w", cm.Name, err)
	}

	logger.Info("Config map already exists, replacing")
	cm, err = s.build(name, projects, opts)
	if err != nil {
		return err
	}
	if err := s.client.Update(ctx, cm); err != nil {
		return fmt.Errorf("failed to replace config map %q: %w", cm.Name, err)
	}

	logger.Info("Done replacing config map")
	return nil
}

func (s *Store) build(name string, projects apiextensionsv1.JSON, opts Options) (*corev1.ConfigMap, error) {
	raw := projects.Raw
	if len(raw) == 0 {
		raw = []byte("null")
	}
	rendered, err := yaml.JSONToYAML(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to render projects for %q: %w", name, err)
	}

	annotations := map[string]string{
		AnnotationUpdatedAt: s.now().UTC().Format(time.RFC3339),
	}
	if !opts.ExpiresAt.IsZero() {
		annotations[AnnotationExpiresAt] = opts.ExpiresAt.UTC().Format(time.RFC3339)
	}

	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ConfigMapName(name),
			Namespace: s.namespace,
			Labels: map[string]string{
				LabelType:            TypeValue,
				LabelEnvironmentName: name,
			},
			Annotations: annotations,
		},
		Data: map[string]string{
			DataKey: string(rendered),
		},
	}, nil
}

// Load reads back the snapshot of an environment. A missing snapshot returns
// the NotFound status error from the API server.
func (s *Store) Load(ctx context.Context, name string) (*Snapshot, error) {
	cm := &corev1.ConfigMap{}
	key := types.NamespacedName{Name: ConfigMapName(name), Namespace: s.namespace}
	if err := s.client.Get(ctx, key, cm); err != nil {
		return nil, fmt.Errorf("failed to get config map %q: %w", key.Name, err)
	}
	return decode(cm)
}

// Delete removes the snapshot of an environment. A missing snapshot is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ConfigMapName(name),
			Namespace: s.namespace,
		},
	}
	if err := s.client.Delete(ctx, cm); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete config map %q: %w", cm.Name, err)
	}
	log.FromContext(ctx).Info("Deleted config map", "configMap", cm.Name, "namespace", s.namespace)
	return nil
}

// List returns every snapshot in the control namespace.
func (s *Store) List(ctx context.Context) ([]Snapshot, error) {
	var list corev1.ConfigMapList
	if err := s.client.List(ctx, &list,
		client.InNamespace(s.namespace),
		client.MatchingLabels{LabelType: TypeValue},
	); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	snapshots := make([]Snapshot, 0, len(list.Items))
	for i := range list.Items {
		snap, err := decode(&list.Items[i])
		if err != nil {
			log.FromContext(ctx).Error(err, "Skipping unreadable snapshot", "configMap", list.Items[i].Name)
			continue
		}
		snapshots = append(snapshots, *snap)
	}
	return snapshots, nil
}

func decode(cm *corev1.ConfigMap) (*Snapshot, error) {
	snap := &Snapshot{Name: cm.Labels[LabelEnvironmentName]}
	if snap.Name == "" {
		return nil, fmt.Errorf("config map %q has no %s label", cm.Name, LabelEnvironmentName)
	}

	if data, ok := cm.Data[DataKey]; ok {
		raw, err := yaml.YAMLToJSON([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode projects in %q: %w", cm.Name, err)
		}
		if string(raw) != "null" {
			snap.Projects = apiextensionsv1.JSON{Raw: raw}
		}
	}

	var err error
	if snap.ExpiresAt, err = parseTime(cm.Annotations[AnnotationExpiresAt]); err != nil {
		return nil, fmt.Errorf("config map %q: %w", cm.Name, err)
	}
	if snap.UpdatedAt, err = parseTime(cm.Annotations[AnnotationUpdatedAt]); err != nil {
		return nil, fmt.Errorf("config map %q: %w", cm.Name, err)
	}
	return snap, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", v, err)
	}
	return t, nil
}
