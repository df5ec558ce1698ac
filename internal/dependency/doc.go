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

// Package dependency installs the stateful services a preview environment
// needs, currently a PostgreSQL database, by running helm in a one-off Job.
//
// Installation is skipped when a StatefulSet matching the chart's selector
// already exists in the namespace. Otherwise a single job installs the chart
// and the deployer waits for a pod of the release to be running.
//
// The chart and its values are plain data:
//
//	chart := dependency.DefaultChart()
//	chart.Values["postgresqlDatabase"] = "orders"
//	deployer := dependency.NewDeployer(c, runner, poller, dependency.Config{Chart: chart})
package dependency
