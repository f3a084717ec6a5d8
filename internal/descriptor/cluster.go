package descriptor

import (
	"fmt"
	"maps"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/Strob0t/TenantForge/internal/domain"
)

// Labels and annotations stamped on cluster resources.
const (
	LabelApp        = "app"
	LabelManagedBy  = "app.kubernetes.io/managed-by"
	LabelTenant     = "tenantforge.io/tenant"
	AnnotationRev   = "tenantforge.io/revision"
	AnnotationHost  = "tenantforge.io/host"
	managedByValue  = "tenantforge"
	dataVolumeName  = "n8n-data"
	initContainer   = "fix-permissions"
	workloadName    = "n8n"
	traefikAnnoBase = "traefik.ingress.kubernetes.io/"
)

// ClusterResources is the ordered resource set applied for a cluster tenant.
type ClusterResources struct {
	Namespace  *corev1.Namespace
	PVC        *corev1.PersistentVolumeClaim
	Deployment *appsv1.Deployment
	Service    *corev1.Service
}

func (b *Builder) clusterResources(p Params, d *Descriptor) (*ClusterResources, error) {
	size, err := resource.ParseQuantity(b.kube.StorageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: storage size %q: %v", domain.ErrValidation, b.kube.StorageSize, err)
	}

	ns := d.Handles.Namespace
	name := d.Handles.Workload
	labels := map[string]string{
		LabelApp:       name,
		LabelManagedBy: managedByValue,
		LabelTenant:    d.Username,
	}

	namespace := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: ns, Labels: maps.Clone(labels)},
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: d.Handles.Storage, Namespace: ns, Labels: maps.Clone(labels)},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}
	if b.kube.StorageClass != "" {
		class := b.kube.StorageClass
		pvc.Spec.StorageClassName = &class
	}

	env := make([]corev1.EnvVar, 0, 8)
	for _, kv := range b.env(p, d.Subdomain) {
		env = append(env, corev1.EnvVar{Name: kv[0], Value: kv[1]})
	}

	uid := b.kube.RunAsUser
	root := int64(0)
	replicas := int32(1)
	mount := []corev1.VolumeMount{{Name: dataVolumeName, MountPath: b.workload.DataPath}}

	podAnnotations := map[string]string{}
	if p.Revision != "" {
		podAnnotations[AnnotationRev] = p.Revision
	}

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: maps.Clone(labels)},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{LabelApp: name}},
			Strategy: appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: maps.Clone(labels), Annotations: podAnnotations},
				Spec: corev1.PodSpec{
					SecurityContext: &corev1.PodSecurityContext{FSGroup: &uid},
					InitContainers: []corev1.Container{{
						Name:    initContainer,
						Image:   b.kube.InitImage,
						Command: []string{"sh", "-c"},
						Args: []string{fmt.Sprintf("chown -R %d:%d %s && chmod -R 755 %s",
							uid, uid, b.workload.DataPath, b.workload.DataPath)},
						VolumeMounts:    mount,
						SecurityContext: &corev1.SecurityContext{RunAsUser: &root},
					}},
					Containers: []corev1.Container{{
						Name:            workloadName,
						Image:           b.workload.Image,
						Args:            b.command(p),
						ImagePullPolicy: pullPolicy(b.workload.PullPolicy),
						Ports: []corev1.ContainerPort{{
							ContainerPort: int32(b.workload.ContainerPort), //nolint:gosec // G115: validated port range
							Protocol:      corev1.ProtocolTCP,
						}},
						Env:          env,
						VolumeMounts: mount,
						SecurityContext: &corev1.SecurityContext{
							RunAsUser:  &uid,
							RunAsGroup: &uid,
						},
					}},
					Volumes: []corev1.Volume{{
						Name: dataVolumeName,
						VolumeSource: corev1.VolumeSource{
							PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: d.Handles.Storage},
						},
					}},
				},
			},
		},
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:        d.Endpoint.Service,
			Namespace:   ns,
			Labels:      maps.Clone(labels),
			Annotations: b.serviceAnnotations(d.Subdomain),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceType(b.kube.ServiceType),
			Selector: map[string]string{LabelApp: name},
			Ports: []corev1.ServicePort{{
				Port:       b.kube.ServicePort,
				TargetPort: intstr.FromInt32(int32(b.workload.ContainerPort)), //nolint:gosec // G115: validated port range
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}

	return &ClusterResources{
		Namespace:  namespace,
		PVC:        pvc,
		Deployment: deployment,
		Service:    service,
	}, nil
}

func pullPolicy(s string) corev1.PullPolicy {
	switch s {
	case "always":
		return corev1.PullAlways
	case "never":
		return corev1.PullNever
	case "missing", "if_not_present":
		return corev1.PullIfNotPresent
	default:
		return ""
	}
}

// serviceAnnotations routes the tenant subdomain through Traefik.
func (b *Builder) serviceAnnotations(subdomain string) map[string]string {
	a := map[string]string{AnnotationHost: subdomain}
	a[traefikAnnoBase+"router.entrypoints"] = b.workload.Entrypoints
	a[traefikAnnoBase+"router.tls"] = "true"
	a[traefikAnnoBase+"router.tls.certresolver"] = b.workload.CertResolver
	return a
}
