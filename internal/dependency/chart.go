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

package dependency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// DefaultImage ships the helm client used by install jobs.
const DefaultImage = "lachlanevenson/k8s-helm:v2.12.3"

// Chart declares a helm chart to install into an environment.
type Chart struct {
	// Name is appended to the namespace to form the release name
	Name string
	// Reference is the chart reference passed to helm, e.g. "stable/postgresql"
	Reference string
	// Selector matches the workload and pods of an installed release
	Selector string
	// Values are passed with --set
	Values map[string]string
}

// DefaultChart returns the PostgreSQL chart used by preview environments.
func DefaultChart() Chart {
	return Chart{
		Name:      "postgresql",
		Reference: "stable/postgresql",
		Selector:  "app=postgresql",
		Values: map[string]string{
			"fullnameOverride":                   "postgresql",
			"postgresqlDatabase":                 "products",
			"resources.requests.cpu":             "50m",
			"resources.requests.memory":          "156Mi",
			"readinessProbe.initialDelaySeconds": "60",
			"livenessProbe.initialDelaySeconds":  "60",
		},
	}
}

// maxReleaseName is the longest release name helm accepts.
const maxReleaseName = 53

// Release returns the helm release name of the chart in namespace. A name
// longer than helm allows is shortened and suffixed with a hash of the full
// name, so every namespace keeps a distinct and stable release.
func (c Chart) Release(namespace string) string {
	name := namespace + "-" + c.Name
	if len(name) <= maxReleaseName {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := "-" + hex.EncodeToString(sum[:4])
	return strings.TrimRight(name[:maxReleaseName-len(suffix)], "-") + suffix
}

// JobName returns the name of the install job. Jobs run in the environment
// namespace, so the name is the same in every environment.
func (c Chart) JobName() string {
	return c.Name + "-install"
}

// Tasks returns the composite shell command that installs the chart into
// namespace.
func (c Chart) Tasks(namespace string) []string {
	upgrade := fmt.Sprintf("helm upgrade %s %s --install --namespace=%s",
		shellescape.Quote(c.Release(namespace)),
		shellescape.Quote(c.Reference),
		shellescape.Quote(namespace))

	keys := make([]string, 0, len(c.Values))
	for k := range c.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		upgrade += " --set " + shellescape.Quote(k+"="+c.Values[k])
	}

	return []string{strings.Join([]string{
		"helm init --client-only",
		"helm repo update",
		upgrade,
	}, " && ")}
}
