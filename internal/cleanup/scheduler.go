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

package cleanup

import (
	"context"
	"errors"
	"time"

	previewv1alpha1 "github.com/mikelane/previewd/api/v1alpha1"
	"github.com/mikelane/previewd/internal/snapshot"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// LabelDoNotExpire exempts a namespace from TTL cleanup when set to "true".
const LabelDoNotExpire = "preview.previewd.io/do-not-expire"

// DefaultInterval is the time between two cleanup passes.
const DefaultInterval = 5 * time.Minute

// SnapshotLister lists persisted environments.
type SnapshotLister interface {
	List(ctx context.Context) ([]snapshot.Snapshot, error)
}

// Dispatcher starts environment workflows.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *previewv1alpha1.EnvironmentRequest) error
}

// Scheduler manages automatic cleanup of expired preview environments.
// It runs periodically to check for environments that have exceeded their TTL
// and requests their deletion to prevent resource waste.
type Scheduler struct {
	client     client.Client
	snapshots  SnapshotLister
	dispatcher Dispatcher
	interval   time.Duration
	now        func() time.Time
}

// NewScheduler creates a new cleanup scheduler with the specified interval.
// The scheduler will check for expired environments every interval duration.
func NewScheduler(k8sClient client.Client, snapshots SnapshotLister, d Dispatcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		client:     k8sClient,
		snapshots:  snapshots,
		dispatcher: d,
		interval:   interval,
		now:        time.Now,
	}
}

// Start begins the cleanup scheduler, running periodically until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger := log.FromContext(ctx).WithName("cleanup")
	ctx = log.IntoContext(ctx, logger)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.cleanup(ctx); err != nil {
				logger.Error(err, "cleanup pass failed")
				// Continue to next tick - don't stop scheduler on transient errors
			}
		}
	}
}

// NeedLeaderElection keeps cleanup on a single replica.
func (s *Scheduler) NeedLeaderElection() bool {
	return true
}

// cleanup performs a single cleanup pass.
//
// The following rules apply:
//   - Environments without an expiry are skipped
//   - Environments whose namespace has "preview.previewd.io/do-not-expire=true" are skipped
//   - Only environments whose expiry is before the current time are deleted
//
// A failure for one environment does not stop the pass; all failures are returned.
func (s *Scheduler) cleanup(ctx context.Context) error {
	logger := log.FromContext(ctx)

	snaps, err := s.snapshots.List(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	var errs []error
	for i := range snaps {
		snap := &snaps[i]
		if !snap.Expired(now) {
			continue
		}

		exempt, err := s.exempt(ctx, snap.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if exempt {
			logger.V(1).Info("Skipping exempt environment", "environment", snap.Name)
			continue
		}

		logger.Info("Environment expired", "environment", snap.Name, "expiresAt", snap.ExpiresAt)
		req := &previewv1alpha1.EnvironmentRequest{Name: snap.Name, Action: previewv1alpha1.ActionDelete}
		if err := s.dispatcher.Dispatch(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Scheduler) exempt(ctx context.Context, name string) (bool, error) {
	ns := &corev1.Namespace{}
	if err := s.client.Get(ctx, types.NamespacedName{Name: name}, ns); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return ns.Labels[LabelDoNotExpire] == "true", nil
}
