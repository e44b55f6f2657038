// internal/app/features/account/account.go
package account

import (
	"net/http"

	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/app/system/htmlsanitize"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.uber.org/zap"
)

type profileRequest struct {
	FullName string `json:"fullName" validate:"required,max=100"`
}

// ServeMe handles GET /api/account.
func (h *Handler) ServeMe(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "load account")
	defer cancel()

	u, err := h.me(ctx, su.ObjectID())
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, u)
}

// HandleUpdateProfile handles PATCH /api/account/profile.
func (h *Handler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	var req profileRequest
	if err := decode(r, &req); err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "update profile")
	defer cancel()

	u, err := h.Users.UpdateProfile(ctx, su.ObjectID(), htmlsanitize.PlainTextMax(req.FullName, 100))
	if err != nil {
		respond.Error(w, h.Log, storeErr("account.UpdateProfile", err))
		return
	}
	h.Audit.SettingsUpdated(ctx, u.ID, "profile")
	respond.JSON(w, http.StatusOK, u)
}

// HandleLocationSettings handles PUT /api/account/settings/location. The
// body replaces the stored settings.
func (h *Handler) HandleLocationSettings(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	var ls models.LocationSettings
	if err := decode(r, &ls); err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "update location settings")
	defer cancel()

	u, err := h.Users.UpdateLocationSettings(ctx, su.ObjectID(), ls)
	if err != nil {
		respond.Error(w, h.Log, storeErr("account.UpdateLocationSettings", err))
		return
	}
	h.Audit.SettingsUpdated(ctx, u.ID, "location")
	respond.JSON(w, http.StatusOK, u)
}

// HandlePrivacySettings handles PUT /api/account/settings/privacy.
func (h *Handler) HandlePrivacySettings(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	var ps models.PrivacySettings
	if err := decode(r, &ps); err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "update privacy settings")
	defer cancel()

	u, err := h.Users.UpdatePrivacySettings(ctx, su.ObjectID(), ps)
	if err != nil {
		respond.Error(w, h.Log, storeErr("account.UpdatePrivacySettings", err))
		return
	}
	h.Audit.SettingsUpdated(ctx, u.ID, "privacy")
	respond.JSON(w, http.StatusOK, u)
}

// HandleDeactivate handles POST /api/account/deactivate. The user leaves
// every family first, then the account is anonymized and its live
// connections and session are dropped. Stored samples stay until they
// age out.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	uid := su.ObjectID()

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "deactivate account")
	defer cancel()

	if err := h.Families.RemoveUserEverywhere(ctx, uid); err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	if _, err := h.Users.Deactivate(ctx, uid); err != nil {
		respond.Error(w, h.Log, storeErr("account.Deactivate", err))
		return
	}
	h.Audit.AccountDeactivated(ctx, uid)

	if h.Conns != nil {
		if n := h.Conns.CloseUser(uid); n > 0 {
			h.Log.Info("closed connections of deactivated account",
				zap.String("user_id", uid.Hex()), zap.Int("connections", n))
		}
	}
	if h.Sessions != nil {
		if err := h.Sessions.EndSession(w, r); err != nil {
			h.Log.Warn("deactivate: clear session", zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
