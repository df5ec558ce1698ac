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

// Package github reports the progress of preview environment workflows as
// GitHub commit statuses.
//
// Requests that carry a commit reference get a "pending" status when their
// workflow starts and "success" or "failure" when it ends. Each action has
// its own status context, so a refresh does not overwrite the result of the
// create that preceded it:
//
//	previewd/create   success   Preview environment pr-123 is ready
//	previewd/refresh  pending   Refreshing preview environment pr-123
//
// Authentication:
//
// The client needs a token with the repo:status scope. Without a token no
// notifier is built and statuses are not reported.
//
// Retry Logic:
//
// Failed requests are retried with exponential backoff and jitter:
//   - Initial backoff: 500 milliseconds
//   - Maximum backoff: 30 seconds
//   - Maximum retries: 3
//
// Only transient failures are retried: 429, 502, 503, 504 and GitHub's
// primary and secondary rate limits. Everything else fails immediately.
//
// Example usage:
//
//	client := github.NewClient(token)
//	notifier := github.NewNotifier(client, "https://{name}.preview.example.com")
//	dispatcher := dispatch.New(ctx, g, orchestrator, notifier)
package github
