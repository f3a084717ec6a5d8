package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/TenantForge/internal/adapter/ws"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/secrets"
	"github.com/Strob0t/TenantForge/internal/service"
)

// WelcomeMessage is served at the root path.
const WelcomeMessage = "Welcome to N8N Provisioning Service"

// Handlers holds the HTTP handlers for the provisioning API.
type Handlers struct {
	Lifecycle *service.LifecycleService
	Hub       *ws.Hub        // nil disables /ws
	Vault     *secrets.Vault // redacts secret values from error responses
}

type statusResponse struct {
	Status    string `json:"status"`
	Subdomain string `json:"subdomain,omitempty"`
}

type pendingResponse struct {
	Status      string `json:"status"`
	OperationID string `json:"operation_id"`
}

// Root answers with the service banner.
func (h *Handlers) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(WelcomeMessage))
}

// Provision handles POST /provision.
func (h *Handlers) Provision(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tenant.Request](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	t, err := h.Lifecycle.Provision(r.Context(), req.Username)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Subdomain: t.Subdomain})
}

// ProvisionTest handles POST /provision-test. The deployment runs in the
// background; its progress is available at /operations/{id}.
func (h *Handlers) ProvisionTest(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tenant.Request](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	op, err := h.Lifecycle.ProvisionAsync(r.Context(), req.Username, true)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/operations/"+op.ID)
	writeJSON(w, http.StatusAccepted, pendingResponse{Status: string(op.Status), OperationID: op.ID})
}

// GetOperation handles GET /operations/{id}.
func (h *Handlers) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.Lifecycle.Operation(urlParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if op.Error != "" {
		op.Error = h.redact(op.Error)
	}
	writeJSON(w, http.StatusOK, op)
}

// Stop handles POST /stop.
func (h *Handlers) Stop(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.Lifecycle.Stop)
}

// Start handles POST /start.
func (h *Handlers) Start(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.Lifecycle.Start)
}

// Update handles POST /update.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.Lifecycle.Update)
}

// Deprovision handles POST /deprovision. Unknown tenants succeed.
func (h *Handlers) Deprovision(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.Lifecycle.Deprovision)
}

// ListTenants handles GET /tenants.
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Lifecycle.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []tenant.Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

// GetTenant handles GET /tenants/{username}.
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Lifecycle.Get(r.Context(), urlParam(r, "username"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Health handles GET /health. Any unavailable dependency yields 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	report := h.Lifecycle.Health(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// WS handles GET /ws.
func (h *Handlers) WS(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeError(w, http.StatusNotFound, "event stream disabled", "NotFoundError")
		return
	}
	h.Hub.HandleWS(w, r)
}

func (h *Handlers) simple(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	req, ok := readJSON[tenant.Request](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if err := fn(r.Context(), req.Username); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if h.Vault != nil {
		err = &redactedError{err: err, msg: h.Vault.RedactString(err.Error())}
	}
	writeDomainError(w, r, err)
}

func (h *Handlers) redact(s string) string {
	if h.Vault == nil {
		return s
	}
	return h.Vault.RedactString(s)
}

// redactedError replaces an error's text while keeping its chain.
type redactedError struct {
	err error
	msg string
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
