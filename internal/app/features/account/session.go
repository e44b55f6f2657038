// internal/app/features/account/session.go
package account

import (
	"net/http"

	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// HandleStartSession handles POST /api/account/session. It trades the
// bearer token for a session cookie so browser clients can open the
// socket without putting the token in the URL. The account is provisioned
// on first sight.
func (h *Handler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	su, err := h.Sessions.StartSession(w, r)
	if err != nil {
		h.Log.Debug("start session: token rejected", zap.Error(err))
		respond.JSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]string{
				"kind":    string(apperr.KindPermission),
				"message": "a valid bearer token is required",
			},
		})
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "start session")
	defer cancel()

	u, err := h.Users.EnsureFromIdentity(ctx, su.ObjectID(), su.Name, su.Email)
	if err != nil {
		_ = h.Sessions.EndSession(w, r)
		respond.Error(w, h.Log, apperr.Wrap(apperr.KindStorage, "account.StartSession", "failed to load account", err))
		return
	}
	if !u.IsActive() {
		_ = h.Sessions.EndSession(w, r)
		respond.Error(w, h.Log, apperr.New(apperr.KindPermission, "account.StartSession", "account is deactivated"))
		return
	}
	respond.JSON(w, http.StatusOK, u)
}

// HandleEndSession handles DELETE /api/account/session.
func (h *Handler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.EndSession(w, r); err != nil {
		h.Log.Error("end session", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}
