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
	"errors"
	"sync"
	"sync/atomic"
	"time"

	previewv1alpha1 "github.com/mikelane/previewd/api/v1alpha1"
	"github.com/mikelane/previewd/internal/dependency"
	"github.com/mikelane/previewd/internal/job"
	"github.com/mikelane/previewd/internal/namespace"
	"github.com/mikelane/previewd/internal/snapshot"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

const controlNamespace = "previewd-system"

// helmRunner stands in for the install job: it records the spec and creates
// the StatefulSet helm would have created.
type helmRunner struct {
	client client.Client
	mu     sync.Mutex
	specs  []job.Spec
	err    error
}

func (r *helmRunner) Run(ctx context.Context, spec job.Spec) error {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	return r.client.Create(ctx, &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "postgresql",
			Namespace: spec.Namespace,
			Labels:    map[string]string{"app": "postgresql"},
		},
	})
}

func (r *helmRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.specs)
}

type countingAwaiter struct {
	calls atomic.Int32
}

func (a *countingAwaiter) AwaitRunning(context.Context, string, string) error {
	a.calls.Add(1)
	return nil
}

// callCounter counts cluster writes by kind.
type callCounter struct {
	mu      sync.Mutex
	creates map[string]int
	updates map[string]int
}

func (c *callCounter) add(m map[string]int, obj client.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m[kindOf(obj)]++
}

func (c *callCounter) get(m map[string]int, kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return m[kind]
}

func kindOf(obj client.Object) string {
	switch obj.(type) {
	case *corev1.Namespace:
		return "Namespace"
	case *corev1.ConfigMap:
		return "ConfigMap"
	case *appsv1.StatefulSet:
		return "StatefulSet"
	}
	return "Other"
}

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	Expect(corev1.AddToScheme(scheme)).To(Succeed())
	Expect(appsv1.AddToScheme(scheme)).To(Succeed())
	return scheme
}

func request(name, projects string) *previewv1alpha1.EnvironmentRequest {
	return &previewv1alpha1.EnvironmentRequest{
		Name:     name,
		Action:   previewv1alpha1.ActionCreate,
		Projects: apiextensionsv1.JSON{Raw: []byte(projects)},
	}
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx          context.Context
		k8sClient    client.Client
		counter      *callCounter
		getErr       error
		runner       *helmRunner
		awaiter      *countingAwaiter
		orchestrator *Orchestrator
	)

	BeforeEach(func() {
		ctx = context.Background()
		getErr = nil
		counter = &callCounter{creates: map[string]int{}, updates: map[string]int{}}

		k8sClient = fake.NewClientBuilder().
			WithScheme(newScheme()).
			WithInterceptorFuncs(interceptor.Funcs{
				Get: func(ctx context.Context, c client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
					if getErr != nil {
						return getErr
					}
					return c.Get(ctx, key, obj, opts...)
				},
				Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
					counter.add(counter.creates, obj)
					return c.Create(ctx, obj, opts...)
				},
				Update: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
					counter.add(counter.updates, obj)
					return c.Update(ctx, obj, opts...)
				},
			}).
			Build()

		runner = &helmRunner{client: k8sClient}
		awaiter = &countingAwaiter{}
		deployer := dependency.NewDeployer(k8sClient, runner, awaiter, dependency.Config{Chart: dependency.DefaultChart()})
		orchestrator = NewOrchestrator(
			namespace.NewManager(k8sClient, nil),
			snapshot.NewStore(k8sClient, controlNamespace),
			deployer,
		)
		orchestrator.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	})

	loadSnapshot := func(name string) *corev1.ConfigMap {
		cm := &corev1.ConfigMap{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{
			Name:      snapshot.ConfigMapName(name),
			Namespace: controlNamespace,
		}, cm)).To(Succeed())
		return cm
	}

	Describe("Scenario: create a new environment", func() {
		It("creates the namespace, writes the snapshot and installs the dependency", func() {
			By("provisioning pr-123")
			Expect(orchestrator.Provision(ctx, request("pr-123", `{"api":{"branch":"feature-x"}}`))).To(Succeed())

			By("checking the namespace")
			ns := &corev1.Namespace{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "pr-123"}, ns)).To(Succeed())
			Expect(ns.Labels).To(HaveKeyWithValue(namespace.LabelEnvironment, "pr-123"))

			By("checking the snapshot")
			cm := loadSnapshot("pr-123")
			Expect(cm.Labels).To(HaveKeyWithValue(snapshot.LabelType, snapshot.TypeValue))
			Expect(cm.Labels).To(HaveKeyWithValue(snapshot.LabelEnvironmentName, "pr-123"))
			Expect(cm.Data).To(HaveKeyWithValue(snapshot.DataKey, "api:\n  branch: feature-x\n"))

			By("checking the dependency install")
			Expect(runner.count()).To(Equal(1))
			Expect(runner.specs[0].Namespace).To(Equal("pr-123"))
			Expect(awaiter.calls.Load()).To(BeEquivalentTo(1))
		})

		It("records the expiry when a TTL is given", func() {
			req := request("pr-124", `{}`)
			req.TTL = "2d"
			Expect(orchestrator.Provision(ctx, req)).To(Succeed())

			cm := loadSnapshot("pr-124")
			Expect(cm.Annotations).To(HaveKeyWithValue(snapshot.AnnotationExpiresAt, "2025-06-03T12:00:00Z"))
		})
	})

	Describe("Scenario: repeat create for an existing environment", func() {
		It("creates nothing new and replaces the snapshot", func() {
			Expect(orchestrator.Provision(ctx, request("pr-123", `{"api":"v1"}`))).To(Succeed())
			Expect(orchestrator.Provision(ctx, request("pr-123", `{"api":"v2"}`))).To(Succeed())

			Expect(counter.get(counter.creates, "Namespace")).To(Equal(1))
			Expect(counter.get(counter.updates, "ConfigMap")).To(Equal(1))
			Expect(runner.count()).To(Equal(1))
			Expect(awaiter.calls.Load()).To(BeEquivalentTo(1))
			Expect(loadSnapshot("pr-123").Data).To(HaveKeyWithValue(snapshot.DataKey, "api: v2\n"))
		})

		It("treats refresh like create", func() {
			Expect(orchestrator.Provision(ctx, request("pr-123", `{"api":"v1"}`))).To(Succeed())

			req := request("pr-123", `{"api":"v3"}`)
			req.Action = previewv1alpha1.ActionRefresh
			Expect(orchestrator.Refresh(ctx, req)).To(Succeed())

			Expect(runner.count()).To(Equal(1))
			Expect(loadSnapshot("pr-123").Data).To(HaveKeyWithValue(snapshot.DataKey, "api: v3\n"))
		})

		It("keeps the stored projects and expiry when refresh carries neither", func() {
			req := request("pr-123", `{"api":"v1"}`)
			req.TTL = "2d"
			Expect(orchestrator.Provision(ctx, req)).To(Succeed())

			refresh := &previewv1alpha1.EnvironmentRequest{Name: "pr-123", Action: previewv1alpha1.ActionRefresh}
			Expect(orchestrator.Refresh(ctx, refresh)).To(Succeed())

			cm := loadSnapshot("pr-123")
			Expect(cm.Data).To(HaveKeyWithValue(snapshot.DataKey, "api: v1\n"))
			Expect(cm.Annotations).To(HaveKeyWithValue(snapshot.AnnotationExpiresAt, "2025-06-03T12:00:00Z"))
		})

		It("refreshes a missing environment with an empty project set", func() {
			refresh := &previewv1alpha1.EnvironmentRequest{Name: "pr-321", Action: previewv1alpha1.ActionRefresh}
			Expect(orchestrator.Refresh(ctx, refresh)).To(Succeed())

			cm := loadSnapshot("pr-321")
			Expect(cm.Annotations).NotTo(HaveKey(snapshot.AnnotationExpiresAt))
			Expect(runner.count()).To(Equal(1))
		})

		It("create replaces the projects even when the request has none", func() {
			Expect(orchestrator.Provision(ctx, request("pr-123", `{"api":"v1"}`))).To(Succeed())
			Expect(orchestrator.Provision(ctx, &previewv1alpha1.EnvironmentRequest{Name: "pr-123"})).To(Succeed())

			Expect(loadSnapshot("pr-123").Data).NotTo(HaveKeyWithValue(snapshot.DataKey, "api: v1\n"))
		})
	})

	Describe("Scenario: a step fails", func() {
		It("aborts before later steps when the namespace cannot be read", func() {
			getErr = apierrors.NewForbidden(schema.GroupResource{Resource: "namespaces"}, "pr-9", errors.New("denied"))

			err := orchestrator.Provision(ctx, request("pr-9", `{}`))
			Expect(apierrors.IsForbidden(err)).To(BeTrue())

			Expect(counter.get(counter.creates, "ConfigMap")).To(BeZero())
			Expect(runner.count()).To(BeZero())
		})

		It("returns the job failure and skips the readiness wait", func() {
			runner.err = &job.ExecutionError{Namespace: "pr-9", Name: "postgresql-install", Reason: "failed"}

			err := orchestrator.Provision(ctx, request("pr-9", `{}`))
			var execErr *job.ExecutionError
			Expect(errors.As(err, &execErr)).To(BeTrue())
			Expect(awaiter.calls.Load()).To(BeZero())
		})

		It("rejects an invalid TTL before touching the cluster", func() {
			req := request("pr-9", `{}`)
			req.TTL = "soon"

			Expect(orchestrator.Provision(ctx, req)).NotTo(Succeed())
			Expect(counter.get(counter.creates, "Namespace")).To(BeZero())
		})
	})

	Describe("Scenario: destroy an environment", func() {
		It("removes the namespace and the snapshot", func() {
			Expect(orchestrator.Provision(ctx, request("pr-5", `{}`))).To(Succeed())
			Expect(orchestrator.Destroy(ctx, "pr-5")).To(Succeed())

			err := k8sClient.Get(ctx, types.NamespacedName{Name: "pr-5"}, &corev1.Namespace{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())

			err = k8sClient.Get(ctx, types.NamespacedName{
				Name:      snapshot.ConfigMapName("pr-5"),
				Namespace: controlNamespace,
			}, &corev1.ConfigMap{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("succeeds when the environment does not exist", func() {
			Expect(orchestrator.Destroy(ctx, "pr-404")).To(Succeed())
			Expect(orchestrator.Destroy(ctx, "pr-404")).To(Succeed())
		})
	})

	Describe("Scenario: concurrent workflows for one environment", func() {
		It("runs them one at a time", func() {
			var active, maxActive atomic.Int32
			blocking := &blockingDeployer{active: &active, maxActive: &maxActive}
			o := NewOrchestrator(
				namespace.NewManager(k8sClient, nil),
				snapshot.NewStore(k8sClient, controlNamespace),
				blocking,
			)

			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					Expect(o.Provision(ctx, request("pr-77", `{}`))).To(Succeed())
				}()
			}
			wg.Wait()

			Expect(maxActive.Load()).To(BeEquivalentTo(1))
			Expect(counter.get(counter.creates, "Namespace")).To(Equal(1))
			Expect(o.locks.len()).To(BeZero())
		})
	})
})

type blockingDeployer struct {
	active    *atomic.Int32
	maxActive *atomic.Int32
}

func (b *blockingDeployer) EnsureDependency(context.Context, string) error {
	n := b.active.Add(1)
	for {
		m := b.maxActive.Load()
		if n <= m || b.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	b.active.Add(-1)
	return nil
}
