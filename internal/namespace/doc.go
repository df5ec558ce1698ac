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

// Package namespace provides namespace management functionality for preview environments.
//
// Each preview environment lives in its own namespace, named exactly like the
// environment. The Manager handles:
//
//   - Namespace creation with labels identifying the environment
//   - An optional ResourceQuota limiting what the environment may consume
//   - Teardown by deleting the namespace
//
// # Idempotency
//
// EnsureNamespace first looks the namespace up. If it exists nothing is
// mutated, so calling it for every create or refresh event is safe. A create
// that loses a race with another writer (AlreadyExists) is treated as success.
//
// A namespace that is still terminating from an earlier teardown yields
// ErrTerminating; callers should retry the event once deletion finishes.
//
// # Deletion
//
// Destroy deletes the namespace with background propagation. Kubernetes
// removes every object inside it, including the database StatefulSet and its
// volumes. Destroying a namespace that does not exist is a no-op.
//
// Namespace names are never checked against the protected list here; that is
// the dispatcher's job, before any Manager method is reached.
//
// # Usage Example
//
//	mgr := namespace.NewManager(k8sClient, namespace.DefaultQuota())
//
//	if err := mgr.EnsureNamespace(ctx, "pr-123"); err != nil {
//	    return err
//	}
//	if err := mgr.EnsureResourceQuota(ctx, "pr-123"); err != nil {
//	    return err
//	}
//
//	// Tear down
//	if err := mgr.Destroy(ctx, "pr-123"); err != nil {
//	    return err
//	}
package namespace
