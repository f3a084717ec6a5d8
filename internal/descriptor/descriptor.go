// Package descriptor builds backend-specific deployment descriptors for a
// tenant. Building is pure: the same parameters always yield the same
// descriptor and nothing is written anywhere.
package descriptor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
)

// maxNameLength is the DNS label limit shared by compose project names,
// Kubernetes namespaces and object names.
const maxNameLength = 63

// Params are the per-tenant inputs to Build.
type Params struct {
	Username string
	// Port is the host port for compose tenants. Ignored for kubernetes.
	Port int
	// Revision is stamped onto the workload so a rebuild forces a rollout.
	Revision string
	// Tunnel runs the workload with "start --tunnel" for ad hoc test deployments.
	Tunnel        bool
	LoginEmail    string
	LoginPassword string
}

// Descriptor is the declarative resource set for one tenant.
// Exactly one of Compose and Cluster is set, matching Kind.
type Descriptor struct {
	Kind      tenant.BackendKind
	Username  string
	Subdomain string
	Handles   tenant.Handles
	Endpoint  tenant.Endpoint

	Compose *ComposeFile
	Cluster *ClusterResources
}

// Builder turns tenant parameters into descriptors.
type Builder struct {
	workload config.Workload
	kube     config.Kubernetes
	compose  config.Compose
}

// NewBuilder creates a Builder from the service configuration.
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{
		workload: cfg.Workload,
		kube:     cfg.Kubernetes,
		compose:  cfg.Compose,
	}
}

// Build returns the descriptor for p on the given backend.
func (b *Builder) Build(p Params, kind tenant.BackendKind) (*Descriptor, error) {
	username, err := tenant.NormalizeUsername(p.Username)
	if err != nil {
		return nil, err
	}
	p.Username = username

	handles, endpoint := b.Names(username, kind)
	for _, name := range []string{handles.Workload, handles.Namespace, handles.Storage, endpoint.Service} {
		if len(name) > maxNameLength {
			return nil, fmt.Errorf("%w: resource name %q exceeds %d characters", domain.ErrValidation, name, maxNameLength)
		}
	}

	d := &Descriptor{
		Kind:      kind,
		Username:  username,
		Subdomain: tenant.Subdomain(username, b.workload.Domain),
		Handles:   handles,
		Endpoint:  endpoint,
	}

	switch kind {
	case tenant.BackendCompose:
		if p.Port < 1 || p.Port > 65535 {
			return nil, fmt.Errorf("%w: compose descriptor needs a host port, got %d", domain.ErrValidation, p.Port)
		}
		d.Endpoint.Port = p.Port
		d.Compose = b.composeFile(p, d)
	case tenant.BackendKubernetes:
		cluster, err := b.clusterResources(p, d)
		if err != nil {
			return nil, err
		}
		d.Cluster = cluster
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", domain.ErrValidation, kind)
	}

	return d, nil
}

// Names derives the resource handles and the port-less endpoint for a
// normalized username. Deprovisioning uses it to address resources of a
// tenant whose registry row is gone.
func (b *Builder) Names(username string, kind tenant.BackendKind) (tenant.Handles, tenant.Endpoint) {
	workload := b.workload.NamePrefix + "-" + username
	if kind == tenant.BackendKubernetes {
		h := tenant.Handles{
			Workload:  workload,
			Namespace: workload,
			Storage:   b.workload.StoragePrefix + "-" + username,
		}
		return h, tenant.Endpoint{Namespace: workload, Service: workload}
	}
	h := tenant.Handles{
		Workload: workload,
		Storage:  strings.ReplaceAll(b.workload.StoragePrefix, "-", "_") + "_" + username,
	}
	return h, tenant.Endpoint{}
}

// env returns the workload environment in a stable order.
func (b *Builder) env(p Params, subdomain string) [][2]string {
	vars := [][2]string{
		{"N8N_HOST", subdomain},
		{"N8N_PORT", strconv.Itoa(b.workload.ContainerPort)},
		{"N8N_PROTOCOL", "https"},
		{"NODE_ENV", "production"},
		{"WEBHOOK_URL", "https://" + subdomain + "/"},
		{"GENERIC_TIMEZONE", b.workload.Timezone},
	}
	if p.LoginEmail != "" {
		vars = append(vars, [2]string{"LOGIN_EMAIL", p.LoginEmail})
	}
	if p.LoginPassword != "" {
		vars = append(vars, [2]string{"LOGIN_PASSWORD", p.LoginPassword})
	}
	return vars
}

func (b *Builder) command(p Params) []string {
	if p.Tunnel {
		return []string{"start", "--tunnel"}
	}
	return nil
}
