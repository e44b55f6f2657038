// internal/app/features/channel/routes.go
package channel

import "github.com/go-chi/chi/v5"

// MountRoutes attaches the realtime endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ws", h.Serve)
}
