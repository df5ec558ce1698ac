// MIT License
//
// Copyright (c) 2025 Mike Lane
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	previewv1alpha1 "github.com/mikelane/previewd/api/v1alpha1"
)

const (
	contextPrefix  = "previewd/"
	maxDescription = 140
	finishTimeout  = 30 * time.Second
)

// Notifier reports workflow progress as commit statuses.
type Notifier struct {
	client      Client
	urlTemplate string
}

// NewNotifier returns a Notifier. urlTemplate may contain "{name}", which is
// replaced by the environment name to build the status target URL.
func NewNotifier(client Client, urlTemplate string) *Notifier {
	return &Notifier{
		client:      client,
		urlTemplate: urlTemplate,
	}
}

// Started marks the commit of req as pending.
func (n *Notifier) Started(ctx context.Context, req *previewv1alpha1.EnvironmentRequest) error {
	var description string
	switch req.Action {
	case previewv1alpha1.ActionDelete:
		description = "Deleting preview environment " + req.Name
	case previewv1alpha1.ActionRefresh:
		description = "Refreshing preview environment " + req.Name
	default:
		description = "Provisioning preview environment " + req.Name
	}
	return n.send(ctx, req, StatusStatePending, description)
}

// Finished marks the commit of req as successful or failed depending on
// result. The status is still sent when ctx was cancelled by a shutdown.
func (n *Notifier) Finished(ctx context.Context, req *previewv1alpha1.EnvironmentRequest, result error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	state := finishedState(result)
	if result != nil {
		return n.send(ctx, req, state, truncate(fmt.Sprintf("Preview environment %s failed: %v", req.Name, result)))
	}

	description := fmt.Sprintf("Preview environment %s is ready", req.Name)
	if req.Action == previewv1alpha1.ActionDelete {
		description = fmt.Sprintf("Preview environment %s was deleted", req.Name)
	}
	return n.send(ctx, req, state, description)
}

func (n *Notifier) send(ctx context.Context, req *previewv1alpha1.EnvironmentRequest, state StatusState, description string) error {
	if n == nil || n.client == nil {
		return nil
	}
	owner, repo, ok := req.Commit.OwnerRepo()
	if !ok {
		return nil
	}

	status := &Status{
		State:       state,
		Description: description,
		Context:     contextPrefix + string(req.Action),
	}
	if n.urlTemplate != "" && req.Action != previewv1alpha1.ActionDelete {
		status.TargetURL = strings.ReplaceAll(n.urlTemplate, "{name}", req.Name)
	}

	return n.client.UpdateCommitStatus(ctx, owner, repo, req.Commit.SHA, status)
}

// truncate shortens s to the length GitHub accepts for a status description.
func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxDescription {
		return s
	}
	return string(r[:maxDescription-3]) + "..."
}
