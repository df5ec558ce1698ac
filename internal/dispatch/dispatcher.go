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

package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	previewv1alpha1 "github.com/mikelane/previewd/api/v1alpha1"
	"github.com/mikelane/previewd/internal/guard"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/validation"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Workflows runs environment workflows.
type Workflows interface {
	Provision(ctx context.Context, req *previewv1alpha1.EnvironmentRequest) error
	Refresh(ctx context.Context, req *previewv1alpha1.EnvironmentRequest) error
	Destroy(ctx context.Context, name string) error
}

// Notifier is told when a workflow starts and finishes.
type Notifier interface {
	Started(ctx context.Context, req *previewv1alpha1.EnvironmentRequest) error
	Finished(ctx context.Context, req *previewv1alpha1.EnvironmentRequest, result error) error
}

// Dispatcher routes requests to workflows.
type Dispatcher struct {
	base      context.Context
	guard     *guard.Guard
	workflows Workflows
	notifier  Notifier
	collect   bool

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// CollectFailures keeps workflow failures for Wait. Without it failures are
// only logged, which suits a long-running process.
func CollectFailures() Option {
	return func(d *Dispatcher) {
		d.collect = true
	}
}

// New returns a Dispatcher. Workflows run under base, so they outlive the
// context of the call that dispatched them and stop when base is cancelled.
// notifier may be nil.
func New(base context.Context, g *guard.Guard, workflows Workflows, notifier Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		base:      base,
		guard:     g,
		workflows: workflows,
		notifier:  notifier,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates req and starts its workflow on a new goroutine. It
// returns a *ValidationError when the request is rejected; no cluster call is
// made in that case.
func (d *Dispatcher) Dispatch(ctx context.Context, req *previewv1alpha1.EnvironmentRequest) error {
	logger := log.FromContext(ctx).WithValues("environment", req.Name, "action", req.Action)

	if err := d.validate(req); err != nil {
		logger.Error(err, "Rejected environment request")
		return err
	}

	requestID := uuid.NewString()
	logger = logger.WithValues("requestID", requestID)
	wctx := log.IntoContext(d.base, logger)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(wctx, logger, req)
	}()

	logger.Info("Dispatched environment request")
	return nil
}

// Wait blocks until every dispatched workflow has finished. With
// CollectFailures it returns their failures joined together and forgets them.
func (d *Dispatcher) Wait() error {
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	err := errors.Join(d.errs...)
	d.errs = nil
	return err
}

func (d *Dispatcher) validate(req *previewv1alpha1.EnvironmentRequest) error {
	name := req.Name
	switch {
	case name == "":
		return &ValidationError{Reason: ReasonNameRequired}
	case d.guard.IsProtected(name):
		return &ValidationError{Name: name, Reason: ReasonProtected}
	case !req.Action.IsValid():
		return &ValidationError{Name: name, Reason: ReasonUnsupportedAction, Detail: string(req.Action)}
	}

	if errs := validation.IsDNS1123Label(name); len(errs) > 0 {
		return &ValidationError{Name: name, Reason: ReasonInvalidName, Detail: strings.Join(errs, "; ")}
	}
	if _, err := req.ParseTTL(); err != nil {
		return &ValidationError{Name: name, Reason: ReasonInvalidTTL, Detail: err.Error()}
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, logger logr.Logger, req *previewv1alpha1.EnvironmentRequest) {
	d.notify(logger, func() error { return d.notifier.Started(ctx, req) })

	var err error
	switch req.Action {
	case previewv1alpha1.ActionCreate:
		err = d.workflows.Provision(ctx, req)
	case previewv1alpha1.ActionRefresh:
		err = d.workflows.Refresh(ctx, req)
	case previewv1alpha1.ActionDelete:
		err = d.workflows.Destroy(ctx, req.Name)
	}

	d.notify(logger, func() error { return d.notifier.Finished(ctx, req, err) })

	if err == nil {
		logger.Info("Environment workflow succeeded")
		return
	}

	logFailure(logger, err)

	if d.collect {
		d.mu.Lock()
		d.errs = append(d.errs, err)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) notify(logger logr.Logger, fn func() error) {
	if d.notifier == nil {
		return
	}
	if err := fn(); err != nil {
		logger.Error(err, "Failed to report workflow status")
	}
}

// logFailure logs a workflow error with as much structure as it carries.
func logFailure(logger logr.Logger, err error) {
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		s := status.Status()
		kv := []any{"code", s.Code, "reason", s.Reason, "message", s.Message}
		if s.Details != nil {
			kv = append(kv, "details", s.Details)
		}
		logger.Error(err, "Environment workflow failed with cluster error", kv...)
		return
	}
	logger.Error(err, "Environment workflow failed")
}
