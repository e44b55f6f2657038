// internal/app/features/locations/submit.go
package locations

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/josefm09/tracker/internal/app/services/ingest"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
)

// HandleSubmit handles POST /api/locations. The stored sample is returned
// with 201; family members are notified in the background.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)

	var raw ingest.RawSample
	if err := respond.DecodeJSON(r, &raw); err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "submit location")
	defer cancel()

	sample, err := h.Ingest.Ingest(ctx, ingest.Input{UserID: su.ObjectID(), Sample: &raw})
	if err != nil {
		if errors.Is(err, apperr.RateLimit) {
			secs := int(h.Ingest.RetryAfter().Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		}
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, sample)
}
