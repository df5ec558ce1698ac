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
	"errors"
)

// Client sets commit statuses on a repository.
type Client interface {
	UpdateCommitStatus(ctx context.Context, owner, repo, sha string, status *Status) error
}

// Status is one commit status. Context identifies the check, so a later
// status with the same Context replaces the earlier one on the commit.
type Status struct {
	State       StatusState
	TargetURL   string
	Description string
	Context     string
}

// StatusState is the state shown next to a commit.
type StatusState string

// Commit status states accepted by the GitHub API.
const (
	StatusStatePending StatusState = "pending"
	StatusStateSuccess StatusState = "success"
	StatusStateError   StatusState = "error"
	StatusStateFailure StatusState = "failure"
)

// finishedState maps a workflow result to a final state. Cancelled
// workflows are reported as errors rather than failures of the change.
func finishedState(result error) StatusState {
	switch {
	case result == nil:
		return StatusStateSuccess
	case errors.Is(result, context.Canceled):
		return StatusStateError
	default:
		return StatusStateFailure
	}
}
