// internal/app/features/locations/delete.go
package locations

import (
	"errors"
	"net/http"

	locationstore "github.com/josefm09/tracker/internal/app/store/locations"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/app/system/paging"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
)

// HandleDelete handles DELETE /api/locations/{id}. Only the owner can hide
// a sample; anyone else gets 404.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	id, err := idParam(r, "id")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "delete location")
	defer cancel()

	err = h.Locations.SoftDelete(ctx, su.ObjectID(), id)
	if errors.Is(err, locationstore.ErrNotFound) {
		respond.Error(w, h.Log, apperr.New(apperr.KindNotFound, "locations", "location not found"))
		return
	}
	if err != nil {
		respond.Error(w, h.Log, apperr.Wrap(apperr.KindStorage, "locations", "failed to delete location", err))
		return
	}
	h.Audit.HistoryDeleted(ctx, su.ObjectID(), 1)
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteHistory handles DELETE /api/locations/history?before=. It
// hides every sample older than before, or all of them.
func (h *Handler) HandleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	before, err := paging.ParseTime(r, "before")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "delete location history")
	defer cancel()

	n, err := h.Locations.SoftDeleteHistory(ctx, su.ObjectID(), before)
	if err != nil {
		respond.Error(w, h.Log, apperr.Wrap(apperr.KindStorage, "locations", "failed to delete history", err))
		return
	}
	h.Audit.HistoryDeleted(ctx, su.ObjectID(), n)
	respond.JSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
