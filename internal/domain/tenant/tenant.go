// Package tenant defines the tenant domain model: one provisioned workload
// instance identified by a normalized username.
package tenant

import (
	"fmt"
	"time"

	"github.com/Strob0t/TenantForge/internal/domain"
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusProvisioning   Status = "provisioning"
	StatusActive         Status = "active"
	StatusStopped        Status = "stopped"
	StatusDeprovisioning Status = "deprovisioning"
	StatusRemoved        Status = "removed"
	StatusFailed         Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusProvisioning, StatusActive, StatusStopped, StatusDeprovisioning, StatusRemoved, StatusFailed:
		return true
	}
	return false
}

// BackendKind identifies the execution substrate a tenant runs on.
type BackendKind string

const (
	BackendCompose    BackendKind = "compose"
	BackendKubernetes BackendKind = "kubernetes"
)

// ParseBackendKind validates a configured backend name.
func ParseBackendKind(s string) (BackendKind, error) {
	switch BackendKind(s) {
	case BackendCompose, BackendKubernetes:
		return BackendKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown backend %q (must be \"compose\" or \"kubernetes\")", domain.ErrValidation, s)
}

// Endpoint is the addressable access point of a tenant's workload.
// Compose tenants have a host Port; cluster tenants have a Namespace/Service pair.
type Endpoint struct {
	Port      int    `json:"port,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Service   string `json:"service,omitempty"`
}

// IsZero reports whether no endpoint has been assigned.
func (e Endpoint) IsZero() bool {
	return e.Port == 0 && e.Namespace == "" && e.Service == ""
}

// Handles are the identifiers needed to address deployed resources.
type Handles struct {
	// Workload is the compose project name or the deployment name.
	Workload  string `json:"workload"`
	Namespace string `json:"namespace,omitempty"`
	// Storage is the compose volume name or the PVC name.
	Storage string `json:"storage"`
}

// Tenant is a registry record.
type Tenant struct {
	Username  string      `json:"username"`
	Subdomain string      `json:"subdomain"`
	Backend   BackendKind `json:"backend_kind"`
	Status    Status      `json:"status"`
	Endpoint  Endpoint    `json:"endpoint"`
	Handles   Handles     `json:"resource_handles"`
	LastError string      `json:"last_error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Toggleable reports whether stop/start may act on the tenant.
func (t *Tenant) Toggleable() bool {
	return t.Status == StatusActive || t.Status == StatusStopped
}

// Updatable reports whether the tenant's resources may be recreated.
// Failed tenants are included so an update can repair them.
func (t *Tenant) Updatable() bool {
	return t.Toggleable() || t.Status == StatusFailed
}

// UpdateRequest holds the registry fields that may change after insert.
// Nil fields are left untouched.
type UpdateRequest struct {
	Status    *Status
	LastError *string
}

// Request is the body accepted by every lifecycle endpoint.
type Request struct {
	Username string `json:"username"`
}

// Subdomain derives the routed host name for a username.
func Subdomain(username, baseDomain string) string {
	return username + "." + baseDomain
}
