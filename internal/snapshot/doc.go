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

// Package snapshot persists the declared project set of each preview
// environment in a ConfigMap in the control namespace.
//
// One ConfigMap is kept per environment, named "preview-environment-<name>"
// and labelled so every snapshot can be listed by type:
//
//	apiVersion: v1
//	kind: ConfigMap
//	metadata:
//	  name: preview-environment-pr-123
//	  namespace: previewd-system
//	  labels:
//	    type: preview-environment-config
//	    environmentName: pr-123
//	  annotations:
//	    preview.previewd.io/expires-at: "2025-06-01T16:00:00Z"
//	    preview.previewd.io/updated-at: "2025-06-01T12:00:00Z"
//	data:
//	  projects.yaml: |
//	    api:
//	      branch: feature-x
//
// Writes are a create followed, on conflict, by an unconditional replace.
// Two concurrent writers for the same environment may race between the two
// calls; whichever Update lands last wins.
package snapshot
