// internal/app/features/families/places.go
package families

import (
	"net/http"

	"github.com/josefm09/tracker/internal/app/services/familysvc"
	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
	"github.com/josefm09/tracker/internal/domain/membership"
	"github.com/josefm09/tracker/internal/domain/models"
)

// ServePlaces handles GET /api/families/{familyID}/places.
func (h *Handler) ServePlaces(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "list places")
	defer cancel()

	f, err := h.Service.Get(ctx, su.ObjectID(), fid)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	places := membership.PlacesOf(f)
	if places == nil {
		places = []models.Place{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"places": places})
}

// HandleAddPlace handles POST /api/families/{familyID}/places.
func (h *Handler) HandleAddPlace(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	var in familysvc.PlaceInput
	if err := decode(r, &in); err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "add place")
	defer cancel()

	p, err := h.Service.AddPlace(ctx, su.ObjectID(), fid, in)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, p)
}

// HandleRemovePlace handles DELETE /api/families/{familyID}/places/{placeID}.
func (h *Handler) HandleRemovePlace(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	pid, err := idParam(r, "placeID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "remove place")
	defer cancel()

	if err := h.Service.RemovePlace(ctx, su.ObjectID(), fid, pid); err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
