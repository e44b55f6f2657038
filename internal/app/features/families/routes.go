// internal/app/features/families/routes.go
package families

import (
	"github.com/go-chi/chi/v5"
	"github.com/josefm09/tracker/internal/app/system/auth"
)

// Routes returns the /api/families subrouter.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Group(func(pr chi.Router) {
		pr.Use(auth.RequireSignedIn)

		pr.Get("/", h.ServeList)
		pr.Post("/", h.HandleCreate)
		pr.Post("/join", h.HandleJoin)
		pr.Get("/locations", h.ServeAllLocations)

		pr.Route("/{familyID}", func(fr chi.Router) {
			fr.Get("/", h.ServeFamily)
			fr.Patch("/settings", h.HandleUpdateSettings)
			fr.Post("/invite-code", h.HandleRotateInviteCode)
			fr.Post("/leave", h.HandleLeave)
			fr.Put("/notifications", h.HandleUpdateNotifications)
			fr.Get("/locations", h.ServeLocations)

			// MEMBERS
			fr.Post("/members", h.HandleAddMember)
			fr.Put("/members/{userID}/role", h.HandleUpdateRole)
			fr.Delete("/members/{userID}", h.HandleRemoveMember)

			// PLACES
			fr.Get("/places", h.ServePlaces)
			fr.Post("/places", h.HandleAddPlace)
			fr.Delete("/places/{placeID}", h.HandleRemovePlace)
		})
	})
	return r
}
