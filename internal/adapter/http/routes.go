package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. The mutating
// middlewares (idempotent replay, for example) wrap only the POST routes.
func MountRoutes(r chi.Router, h *Handlers, mutating ...func(http.Handler) http.Handler) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/ws", h.WS)

	// Reads
	r.Get("/tenants", h.ListTenants)
	r.Get("/tenants/{username}", h.GetTenant)
	r.Get("/operations/{id}", h.GetOperation)

	// Lifecycle
	r.Group(func(r chi.Router) {
		r.Use(mutating...)
		r.Post("/provision", h.Provision)
		r.Post("/provision-test", h.ProvisionTest)
		r.Post("/stop", h.Stop)
		r.Post("/start", h.Start)
		r.Post("/update", h.Update)
		r.Post("/deprovision", h.Deprovision)
	})
}
