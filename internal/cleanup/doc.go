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

// Package cleanup provides automatic TTL-based cleanup of expired preview environments.
//
// This package implements a background scheduler that periodically lists the
// persisted environment snapshots and dispatches a delete request for every
// environment whose expiry has passed.
//
// Key features:
//   - Periodic cleanup based on configurable interval (default: 5 minutes)
//   - Expiry recorded on the snapshot from the request TTL
//   - Honors the "do-not-expire" namespace label for long-running environments
//   - Graceful shutdown via context cancellation
//
// TTL Calculation:
//
// Each create or refresh that carries a TTL records an expiry on the snapshot:
//
//	expiresAt = time of the request + ttl
//
// A refresh therefore extends the lifetime of an environment. Requests
// without a TTL never expire.
//
// Exempting Environments from Cleanup:
//
// To keep an environment past its expiry, label its namespace:
//
//	kubectl label namespace pr-123 preview.previewd.io/do-not-expire=true
//
// Example usage:
//
//	scheduler := cleanup.NewScheduler(k8sClient, store, dispatcher, 5*time.Minute)
//	if err := mgr.Add(scheduler); err != nil {
//		return err
//	}
package cleanup
