/*
Copyright (c) 2025 Mike Lane

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

// Package v1alpha1 contains the event payload consumed by previewd.
package v1alpha1

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
)

// Action selects the workflow run for an EnvironmentRequest
type Action string

const (
	// ActionCreate provisions a new preview environment
	ActionCreate Action = "create"
	// ActionRefresh re-runs provisioning against an existing environment
	ActionRefresh Action = "refresh"
	// ActionDelete tears an environment down
	ActionDelete Action = "delete"
)

// IsValid reports whether a is one of the known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionRefresh, ActionDelete:
		return true
	}
	return false
}

// EnvironmentRequest is the inbound event payload delivered by CI pipelines.
type EnvironmentRequest struct {
	// Commit identifies the commit to report status against (optional)
	// +optional
	Commit *CommitRef `json:"commit,omitempty"`

	// Name is the environment name, used verbatim as the namespace name
	Name string `json:"name"`

	// Action is one of create, refresh or delete
	Action Action `json:"action"`

	// TTL bounds the lifetime of the environment, e.g. "4h" or "2d".
	// Empty means the environment never expires.
	// +optional
	TTL string `json:"ttl,omitempty"`

	// Projects is the declared project set. It is opaque to previewd and
	// persisted as-is.
	// +optional
	Projects apiextensionsv1.JSON `json:"projects,omitempty"`
}

// CommitRef points at a commit in a GitHub repository
type CommitRef struct {
	// Repository is the repository in "owner/repo" format
	Repository string `json:"repository"`

	// SHA is the commit SHA
	SHA string `json:"sha"`
}

// OwnerRepo splits Repository into its owner and name. ok is false when the
// reference is incomplete.
func (c *CommitRef) OwnerRepo() (owner, repo string, ok bool) {
	if c == nil || c.SHA == "" {
		return "", "", false
	}
	owner, repo, found := strings.Cut(c.Repository, "/")
	if !found || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", false
	}
	return owner, repo, true
}

// ParseRequest decodes an EnvironmentRequest from a JSON payload.
func ParseRequest(payload []byte) (*EnvironmentRequest, error) {
	var req EnvironmentRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("failed to parse environment request: %w", err)
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Action = Action(strings.ToLower(strings.TrimSpace(string(req.Action))))
	return &req, nil
}

// HasProjects reports whether the request carries a non-null project set.
func (r *EnvironmentRequest) HasProjects() bool {
	return len(r.Projects.Raw) > 0
}

// maxTTLDays is the largest day count that fits in a time.Duration.
const maxTTLDays = math.MaxInt64 / int64(24*time.Hour)

// ParseTTL parses the TTL of the request.
// Supports formats like "4h", "30m", "2d" (days).
// Returns 0 if no TTL is set.
func (r *EnvironmentRequest) ParseTTL() (time.Duration, error) {
	ttl := strings.TrimSpace(r.TTL)
	if ttl == "" {
		return 0, nil
	}

	// Handle days specially (e.g., "2d" -> 48h)
	if strings.HasSuffix(ttl, "d") {
		daysStr := strings.TrimSuffix(ttl, "d")
		days, err := strconv.ParseInt(daysStr, 10, 64)
		if err != nil || days <= 0 || days > maxTTLDays {
			return 0, fmt.Errorf("invalid TTL format: %s", ttl)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	duration, err := time.ParseDuration(ttl)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("invalid TTL format: %s", ttl)
	}

	return duration, nil
}
