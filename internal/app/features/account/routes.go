// internal/app/features/account/routes.go
package account

import (
	"github.com/go-chi/chi/v5"
	"github.com/josefm09/tracker/internal/app/system/auth"
)

// Routes returns the /api/account subrouter.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	// The session endpoints check the bearer token themselves.
	r.Post("/session", h.HandleStartSession)
	r.Delete("/session", h.HandleEndSession)

	r.Group(func(pr chi.Router) {
		pr.Use(auth.RequireSignedIn)
		pr.Get("/", h.ServeMe)
		pr.Patch("/profile", h.HandleUpdateProfile)
		pr.Put("/settings/location", h.HandleLocationSettings)
		pr.Put("/settings/privacy", h.HandlePrivacySettings)
		pr.Post("/deactivate", h.HandleDeactivate)
	})
	return r
}
