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

// Package guard decides which environment names previewd must never touch.
package guard

// DefaultControlNamespace is the namespace previewd stores its own state in.
const DefaultControlNamespace = "previewd-system"

// systemNamespaces are created by Kubernetes itself.
var systemNamespaces = []string{
	"default",
	"kube-node-lease",
	"kube-public",
	"kube-system",
}

// Guard is a fixed set of protected namespace names
type Guard struct {
	protected map[string]struct{}
}

// New returns a Guard protecting the Kubernetes system namespaces and the
// given control namespace.
func New(controlNamespace string) *Guard {
	g := &Guard{protected: make(map[string]struct{}, len(systemNamespaces)+1)}
	for _, ns := range systemNamespaces {
		g.protected[ns] = struct{}{}
	}
	if controlNamespace != "" {
		g.protected[controlNamespace] = struct{}{}
	}
	return g
}

// IsProtected reports whether name is one of the protected namespaces.
func (g *Guard) IsProtected(name string) bool {
	_, ok := g.protected[name]
	return ok
}
