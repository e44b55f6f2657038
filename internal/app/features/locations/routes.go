// internal/app/features/locations/routes.go
package locations

import (
	"github.com/go-chi/chi/v5"
	"github.com/josefm09/tracker/internal/app/system/auth"
)

// Routes returns the /api/locations subrouter. Every route needs a
// signed-in user.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Group(func(pr chi.Router) {
		pr.Use(auth.RequireSignedIn)

		pr.Post("/", h.HandleSubmit)
		pr.Get("/nearby", h.ServeNearby)
		pr.Get("/current/{userID}", h.ServeCurrent)
		pr.Get("/history/{userID}", h.ServeHistory)

		pr.Delete("/history", h.HandleDeleteHistory)
		pr.Delete("/{id}", h.HandleDelete)
	})
	return r
}
