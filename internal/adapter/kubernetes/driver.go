// Package kubernetes implements the backend driver for a cluster
// orchestrator: one namespace per tenant holding a PVC, a deployment and a
// service.
//
// Storage: the PVC lives in the tenant namespace. Remove with keepStorage
// deletes only the deployment and service; the namespace (and with it the
// PVC) is deleted only when storage is not kept.
package kubernetes

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sclient "k8s.io/client-go/kubernetes"

	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/descriptor"
	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/port/backend"
)

func init() {
	backend.Register(tenant.BackendKubernetes, func(cfg *config.Config) (backend.Driver, error) {
		cs, err := NewClientset(cfg.Kubernetes)
		if err != nil {
			return nil, err
		}
		return New(cs), nil
	})
}

// Driver drives the cluster API through a typed clientset.
type Driver struct {
	client k8sclient.Interface
}

// New creates a Driver using client.
func New(client k8sclient.Interface) *Driver {
	return &Driver{client: client}
}

// Kind returns "kubernetes".
func (d *Driver) Kind() tenant.BackendKind { return tenant.BackendKubernetes }

// Apply creates namespace, PVC, deployment and service in that order.
// Existing objects count as success; an existing deployment is updated to the
// descriptor's template.
func (d *Driver) Apply(ctx context.Context, desc *descriptor.Descriptor) (tenant.Handles, error) {
	res := desc.Cluster
	if res == nil {
		return tenant.Handles{}, fmt.Errorf("%w: descriptor for %s has no cluster resources", domain.ErrValidation, desc.Username)
	}
	core := d.client.CoreV1()
	ns := res.Namespace.Name

	if _, err := core.Namespaces().Create(ctx, res.Namespace, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return tenant.Handles{}, backendErr("create namespace", ns, err)
	}
	if _, err := core.PersistentVolumeClaims(ns).Create(ctx, res.PVC, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return tenant.Handles{}, backendErr("create pvc", res.PVC.Name, err)
	}
	if err := d.applyDeployment(ctx, desc); err != nil {
		return tenant.Handles{}, err
	}
	if _, err := core.Services(ns).Create(ctx, res.Service, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return tenant.Handles{}, backendErr("create service", res.Service.Name, err)
	}
	return desc.Handles, nil
}

func (d *Driver) applyDeployment(ctx context.Context, desc *descriptor.Descriptor) error {
	want := desc.Cluster.Deployment
	deployments := d.client.AppsV1().Deployments(want.Namespace)

	_, err := deployments.Create(ctx, want, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return backendErr("create deployment", want.Name, err)
	}

	current, err := deployments.Get(ctx, want.Name, metav1.GetOptions{})
	if err != nil {
		return backendErr("get deployment", want.Name, err)
	}
	current.Labels = want.Labels
	current.Spec = want.Spec
	if _, err := deployments.Update(ctx, current, metav1.UpdateOptions{}); err != nil {
		return backendErr("update deployment", want.Name, err)
	}
	return nil
}

// Stop scales the deployment to zero replicas. A missing deployment is
// already stopped.
func (d *Driver) Stop(ctx context.Context, h tenant.Handles) error {
	err := d.scale(ctx, h, 0)
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return backendErr("stop deployment", h.Workload, err)
	}
	return nil
}

// Start scales the deployment back to one replica.
func (d *Driver) Start(ctx context.Context, h tenant.Handles) error {
	err := d.scale(ctx, h, 1)
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("%w: deployment %s/%s", domain.ErrNotFound, h.Namespace, h.Workload)
	}
	if err != nil {
		return backendErr("start deployment", h.Workload, err)
	}
	return nil
}

func (d *Driver) scale(ctx context.Context, h tenant.Handles, replicas int32) error {
	deployments := d.client.AppsV1().Deployments(h.Namespace)
	dep, err := deployments.Get(ctx, h.Workload, metav1.GetOptions{})
	if err != nil {
		return err
	}
	if dep.Spec.Replicas != nil && *dep.Spec.Replicas == replicas {
		return nil
	}
	dep.Spec.Replicas = &replicas
	_, err = deployments.Update(ctx, dep, metav1.UpdateOptions{})
	return err
}

// Remove deletes the tenant's workload. With keepStorage the namespace and
// PVC stay; otherwise the namespace is deleted, cascading to everything in it.
func (d *Driver) Remove(ctx context.Context, h tenant.Handles, keepStorage bool) error {
	if !keepStorage {
		err := d.client.CoreV1().Namespaces().Delete(ctx, h.Namespace, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return backendErr("delete namespace", h.Namespace, err)
		}
		return nil
	}

	err := d.client.AppsV1().Deployments(h.Namespace).Delete(ctx, h.Workload, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return backendErr("delete deployment", h.Workload, err)
	}
	err = d.client.CoreV1().Services(h.Namespace).Delete(ctx, h.Workload, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return backendErr("delete service", h.Workload, err)
	}
	return nil
}

// Recreate converges the deployment onto desc in place. The PVC is never
// touched; the deployment's Recreate strategy replaces the pod so the new
// revision picks up a fresh image.
func (d *Driver) Recreate(ctx context.Context, _ tenant.Handles, desc *descriptor.Descriptor) (tenant.Handles, error) {
	return d.Apply(ctx, desc)
}

// Ping lists at most one namespace to prove API access.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1}); err != nil {
		return backendErr("list namespaces", "", err)
	}
	return nil
}

func backendErr(op, name string, err error) error {
	if name == "" {
		return fmt.Errorf("%w: %s: %w", domain.ErrBackend, op, err)
	}
	return fmt.Errorf("%w: %s %s: %w", domain.ErrBackend, op, name, err)
}
