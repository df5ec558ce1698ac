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

package provision

import (
	"context"
	"fmt"
	"time"

	previewv1alpha1 "github.com/mikelane/previewd/api/v1alpha1"
	"github.com/mikelane/previewd/internal/metrics"
	"github.com/mikelane/previewd/internal/snapshot"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// NamespaceProvisioner creates and removes environment namespaces.
type NamespaceProvisioner interface {
	EnsureNamespace(ctx context.Context, name string) error
	EnsureResourceQuota(ctx context.Context, name string) error
	Destroy(ctx context.Context, name string) error
}

// ConfigPersister stores the project set of an environment.
type ConfigPersister interface {
	Upsert(ctx context.Context, name string, projects apiextensionsv1.JSON, opts snapshot.Options) error
	Load(ctx context.Context, name string) (*snapshot.Snapshot, error)
	Delete(ctx context.Context, name string) error
}

// DependencyDeployer installs stateful dependencies into a namespace.
type DependencyDeployer interface {
	EnsureDependency(ctx context.Context, namespace string) error
}

// Orchestrator runs environment workflows.
type Orchestrator struct {
	namespaces NamespaceProvisioner
	snapshots  ConfigPersister
	deployer   DependencyDeployer
	locks      *keyedLock
	now        func() time.Time
}

// NewOrchestrator returns an Orchestrator wired to its steps.
func NewOrchestrator(namespaces NamespaceProvisioner, snapshots ConfigPersister, deployer DependencyDeployer) *Orchestrator {
	return &Orchestrator{
		namespaces: namespaces,
		snapshots:  snapshots,
		deployer:   deployer,
		locks:      newKeyedLock(),
		now:        time.Now,
	}
}

// Provision creates the environment described by req, or converges an
// existing one towards it.
func (o *Orchestrator) Provision(ctx context.Context, req *previewv1alpha1.EnvironmentRequest) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveWorkflow(string(previewv1alpha1.ActionCreate), start, err) }()
	return o.provision(ctx, req, false)
}

// Refresh re-applies req to an environment. It runs the same steps as
// Provision, except that a request without projects keeps the stored project
// set, and a request without a TTL keeps the stored expiry.
func (o *Orchestrator) Refresh(ctx context.Context, req *previewv1alpha1.EnvironmentRequest) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveWorkflow(string(previewv1alpha1.ActionRefresh), start, err) }()
	return o.provision(ctx, req, true)
}

func (o *Orchestrator) provision(ctx context.Context, req *previewv1alpha1.EnvironmentRequest, keepStored bool) error {
	name := req.Name
	logger := log.FromContext(ctx).WithValues("environment", name)

	ttl, err := req.ParseTTL()
	if err != nil {
		return err
	}

	unlock, err := o.locks.Lock(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to lock environment %q: %w", name, err)
	}
	defer unlock()

	logger.Info("Provisioning environment")

	if err := o.namespaces.EnsureNamespace(ctx, name); err != nil {
		return err
	}
	if err := o.namespaces.EnsureResourceQuota(ctx, name); err != nil {
		return err
	}

	projects := req.Projects
	var opts snapshot.Options
	if ttl > 0 {
		opts.ExpiresAt = o.now().Add(ttl)
	}
	if keepStored && (!req.HasProjects() || ttl == 0) {
		stored, err := o.snapshots.Load(ctx, name)
		switch {
		case apierrors.IsNotFound(err):
		case err != nil:
			return err
		default:
			if !req.HasProjects() {
				logger.Info("Reusing stored projects")
				projects = stored.Projects
			}
			if ttl == 0 {
				opts.ExpiresAt = stored.ExpiresAt
			}
		}
	}
	if err := o.snapshots.Upsert(ctx, name, projects, opts); err != nil {
		return err
	}

	if err := o.deployer.EnsureDependency(ctx, name); err != nil {
		return err
	}

	logger.Info("Environment ready")
	return nil
}

// Destroy deletes the environment namespace, cascading to everything in it,
// and its snapshot. Destroying a missing environment succeeds.
func (o *Orchestrator) Destroy(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveWorkflow(string(previewv1alpha1.ActionDelete), start, err) }()

	unlock, err := o.locks.Lock(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to lock environment %q: %w", name, err)
	}
	defer unlock()

	log.FromContext(ctx).Info("Destroying environment", "environment", name)

	if err := o.namespaces.Destroy(ctx, name); err != nil {
		return err
	}
	return o.snapshots.Delete(ctx, name)
}
