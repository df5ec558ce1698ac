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

// Package webhook receives environment requests from CI pipelines over HTTP.
//
// The server accepts a JSON EnvironmentRequest on POST /events and hands it
// to the dispatcher. The workflow runs in the background; the response only
// says whether the request was accepted.
//
// Request Security:
//
// When a secret is configured, every request must carry an X-Hub-Signature-256
// header holding "sha256=" and the hex HMAC-SHA256 of the body. Requests with
// invalid or missing signatures are rejected with HTTP 401.
//
// Responses:
//   - 202 Accepted: the workflow was started
//   - 400 Bad Request: the body is not a valid request, or it was rejected
//     (missing name, protected namespace, unknown action)
//   - 401 Unauthorized: bad signature
//   - 405 Method Not Allowed: anything but POST
//   - 429 Too Many Requests: too many requests for one environment
//
// Rate Limiting:
//
// Requests are rate-limited per environment name using a token bucket.
//
// Example usage:
//
//	server := webhook.NewServer(":8081", dispatcher, "webhook-secret", webhook.DefaultRateLimit())
//	if err := mgr.Add(server); err != nil {
//		return err
//	}
package webhook
