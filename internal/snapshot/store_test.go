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
	"encoding/json"
	"errors"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

const controlNamespace = "previewd-system"

func setupTestStore(t *testing.T, funcs *interceptor.Funcs, objs ...client.Object) (*Store, client.Client) {
	t.Helper()

	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatalf("failed to add core scheme: %v", err)
	}

	builder := fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...)
	if funcs != nil {
		builder = builder.WithInterceptorFuncs(*funcs)
	}
	c := builder.Build()

	store := NewStore(c, controlNamespace)
	store.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return store, c
}

func projects(t *testing.T, v any) apiextensionsv1.JSON {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal projects: %v", err)
	}
	return apiextensionsv1.JSON{Raw: raw}
}

func getConfigMap(t *testing.T, c client.Client, name string) *corev1.ConfigMap {
	t.Helper()
	cm := &corev1.ConfigMap{}
	key := types.NamespacedName{Name: ConfigMapName(name), Namespace: controlNamespace}
	if err := c.Get(context.Background(), key, cm); err != nil {
		t.Fatalf("failed to get config map: %v", err)
	}
	return cm
}

func TestStore_Upsert_Creates(t *testing.T) {
	store, c := setupTestStore(t, nil)

	p := projects(t, map[string]any{"api": map[string]any{"branch": "feature-x"}})
	expires := time.Date(2025, 6, 1, 16, 0, 0, 0, time.UTC)
	if err := store.Upsert(context.Background(), "pr-123", p, Options{ExpiresAt: expires}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	cm := getConfigMap(t, c, "pr-123")
	if cm.Name != "preview-environment-pr-123" {
		t.Errorf("Name = %q, want preview-environment-pr-123", cm.Name)
	}
	if cm.Labels[LabelType] != TypeValue {
		t.Errorf("type label = %q, want %q", cm.Labels[LabelType], TypeValue)
	}
	if cm.Labels[LabelEnvironmentName] != "pr-123" {
		t.Errorf("environmentName label = %q, want pr-123", cm.Labels[LabelEnvironmentName])
	}
	if got, want := cm.Data[DataKey], "api:\n  branch: feature-x\n"; got != want {
		t.Errorf("data[%s] = %q, want %q", DataKey, got, want)
	}
	if got := cm.Annotations[AnnotationExpiresAt]; got != "2025-06-01T16:00:00Z" {
		t.Errorf("expires-at = %q, want 2025-06-01T16:00:00Z", got)
	}
	if got := cm.Annotations[AnnotationUpdatedAt]; got != "2025-06-01T12:00:00Z" {
		t.Errorf("updated-at = %q, want 2025-06-01T12:00:00Z", got)
	}
}

func TestStore_Upsert_ReplacesExisting(t *testing.T) {
	stale := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:        ConfigMapName("pr-123"),
			Namespace:   controlNamespace,
			Labels:      map[string]string{"stale": "true"},
			Annotations: map[string]string{AnnotationExpiresAt: "2020-01-01T00:00:00Z"},
		},
		Data: map[string]string{DataKey: "old: true\n", "extra": "x"},
	}
	store, c := setupTestStore(t, nil, stale)

	p := projects(t, map[string]any{"web": map[string]any{"replicas": 2}})
	if err := store.Upsert(context.Background(), "pr-123", p, Options{}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	cm := getConfigMap(t, c, "pr-123")
	if got, want := cm.Data[DataKey], "web:\n  replicas: 2\n"; got != want {
		t.Errorf("data[%s] = %q, want %q", DataKey, got, want)
	}
	if _, ok := cm.Data["extra"]; ok {
		t.Error("replace should drop keys that are no longer written")
	}
	if _, ok := cm.Labels["stale"]; ok {
		t.Error("replace should drop stale labels")
	}
	if cm.Labels[LabelType] != TypeValue || cm.Labels[LabelEnvironmentName] != "pr-123" {
		t.Errorf("snapshot labels missing after replace: %v", cm.Labels)
	}
	if _, ok := cm.Annotations[AnnotationExpiresAt]; ok {
		t.Error("expires-at should be removed when no TTL is given")
	}
}

func TestStore_Upsert_LastWriterWins(t *testing.T) {
	store, c := setupTestStore(t, nil)
	ctx := context.Background()

	first := projects(t, map[string]any{"api": "v1"})
	second := projects(t, map[string]any{"api": "v2"})

	if err := store.Upsert(ctx, "pr-7", first, Options{}); err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}
	if err := store.Upsert(ctx, "pr-7", second, Options{}); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	cm := getConfigMap(t, c, "pr-7")
	if got, want := cm.Data[DataKey], "api: v2\n"; got != want {
		t.Errorf("data[%s] = %q, want %q", DataKey, got, want)
	}
}

func TestStore_Upsert_NullProjects(t *testing.T) {
	store, c := setupTestStore(t, nil)

	if err := store.Upsert(context.Background(), "pr-1", apiextensionsv1.JSON{}, Options{}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	cm := getConfigMap(t, c, "pr-1")
	if got := cm.Data[DataKey]; got != "null\n" {
		t.Errorf("data[%s] = %q, want %q", DataKey, got, "null\n")
	}
}

func TestStore_Upsert_PropagatesErrors(t *testing.T) {
	gr := schema.GroupResource{Resource: "configmaps"}
	tests := []struct {
		name  string
		funcs interceptor.Funcs
	}{
		{
			name: "create fails",
			funcs: interceptor.Funcs{
				Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
					return apierrors.NewForbidden(gr, obj.GetName(), errors.New("denied"))
				},
			},
		},
		{
			name: "replace fails",
			funcs: interceptor.Funcs{
				Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
					return apierrors.NewAlreadyExists(gr, obj.GetName())
				},
				Update: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
					return apierrors.NewForbidden(gr, obj.GetName(), errors.New("denied"))
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := setupTestStore(t, &tt.funcs)
			err := store.Upsert(context.Background(), "pr-1", apiextensionsv1.JSON{}, Options{})
			if !apierrors.IsForbidden(err) {
				t.Errorf("Upsert() error = %v, want Forbidden", err)
			}
		})
	}
}

func TestStore_LoadRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t, nil)
	ctx := context.Background()

	p := projects(t, map[string]any{"api": map[string]any{"branch": "main"}})
	expires := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	if err := store.Upsert(ctx, "pr-9", p, Options{ExpiresAt: expires}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	snap, err := store.Load(ctx, "pr-9")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.Name != "pr-9" {
		t.Errorf("Name = %q, want pr-9", snap.Name)
	}
	if string(snap.Projects.Raw) != `{"api":{"branch":"main"}}` {
		t.Errorf("Projects = %s, want %s", snap.Projects.Raw, `{"api":{"branch":"main"}}`)
	}
	if !snap.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", snap.ExpiresAt, expires)
	}

	if _, err := store.Load(ctx, "missing"); !apierrors.IsNotFound(err) {
		t.Errorf("Load() of missing snapshot error = %v, want NotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store, c := setupTestStore(t, nil)
	ctx := context.Background()

	if err := store.Upsert(ctx, "pr-5", apiextensionsv1.JSON{}, Options{}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.Delete(ctx, "pr-5"); err != nil {
			t.Fatalf("Delete() call %d error = %v", i+1, err)
		}
	}

	key := types.NamespacedName{Name: ConfigMapName("pr-5"), Namespace: controlNamespace}
	if err := c.Get(ctx, key, &corev1.ConfigMap{}); !apierrors.IsNotFound(err) {
		t.Errorf("config map should be deleted, got %v", err)
	}
}

func TestStore_List(t *testing.T) {
	unrelated := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "kube-root-ca.crt", Namespace: controlNamespace},
	}
	otherNamespace := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ConfigMapName("pr-2"),
			Namespace: "default",
			Labels:    map[string]string{LabelType: TypeValue, LabelEnvironmentName: "pr-2"},
		},
	}
	broken := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:        ConfigMapName("pr-3"),
			Namespace:   controlNamespace,
			Labels:      map[string]string{LabelType: TypeValue, LabelEnvironmentName: "pr-3"},
			Annotations: map[string]string{AnnotationExpiresAt: "tomorrow"},
		},
	}
	store, _ := setupTestStore(t, nil, unrelated, otherNamespace, broken)
	ctx := context.Background()

	if err := store.Upsert(ctx, "pr-1", apiextensionsv1.JSON{}, Options{}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	snaps, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(snaps) != 1 || snaps[0].Name != "pr-1" {
		t.Errorf("List() = %+v, want only pr-1", snaps)
	}
}

func TestSnapshot_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "no expiry", want: false},
		{name: "in the past", expiresAt: now.Add(-time.Minute), want: true},
		{name: "in the future", expiresAt: now.Add(time.Minute), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Snapshot{ExpiresAt: tt.expiresAt}
			if got := s.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
