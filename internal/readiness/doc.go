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

// Package readiness waits for workloads in a preview environment to start
// serving.
//
// A Poller lists pods matching a label selector whose phase is Running, at a
// fixed interval, until at least one is found. The wait is bounded by a
// timeout and by the caller's context:
//
//	poller := readiness.NewPoller(c, 5*time.Second, 15*time.Minute)
//	if err := poller.AwaitRunning(ctx, "pr-123", "app=postgresql"); err != nil {
//		var timeout *readiness.TimeoutError
//		if errors.As(err, &timeout) {
//			// the dependency never came up
//		}
//	}
//
// A timeout of zero or less waits until the context is cancelled.
package readiness
