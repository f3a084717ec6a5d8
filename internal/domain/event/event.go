// Package event defines tenant lifecycle events published to subscribers.
package event

import (
	"strings"
	"time"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	TypeTenantProvisioned   Type = "tenant.provisioned"
	TypeTenantStopped       Type = "tenant.stopped"
	TypeTenantStarted       Type = "tenant.started"
	TypeTenantUpdated       Type = "tenant.updated"
	TypeTenantDeprovisioned Type = "tenant.deprovisioned"
	TypeTenantFailed        Type = "tenant.failed"
)

// TenantEvent is emitted after every lifecycle transition.
type TenantEvent struct {
	Type      Type      `json:"type"`
	Username  string    `json:"username"`
	Backend   string    `json:"backend_kind"`
	Status    string    `json:"status"`
	Subdomain string    `json:"subdomain,omitempty"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Subject returns the message subject for the event, e.g. "tenants.provisioned".
func (e *TenantEvent) Subject() string {
	return "tenants." + strings.TrimPrefix(string(e.Type), "tenant.")
}
