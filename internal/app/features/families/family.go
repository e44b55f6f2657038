// internal/app/features/families/family.go
package families

import (
	"net/http"

	"github.com/josefm09/tracker/internal/app/services/familysvc"
	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
	"github.com/josefm09/tracker/internal/domain/models"
)

type createRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type joinRequest struct {
	InviteCode string `json:"inviteCode" validate:"required"`
}

// ServeList handles GET /api/families.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "list families")
	defer cancel()

	fams, err := h.Service.ListMine(ctx, su.ObjectID())
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	if fams == nil {
		fams = []models.Family{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"families": fams})
}

// HandleCreate handles POST /api/families.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	var req createRequest
	if err := decode(r, &req); err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "create family")
	defer cancel()

	f, err := h.Service.Create(ctx, su.ObjectID(), req.Name)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, f)
}

// HandleJoin handles POST /api/families/join.
func (h *Handler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	var req joinRequest
	if err := decode(r, &req); err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "join family")
	defer cancel()

	f, err := h.Service.Join(ctx, su.ObjectID(), req.InviteCode)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, f)
}

// ServeFamily handles GET /api/families/{familyID}.
func (h *Handler) ServeFamily(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "get family")
	defer cancel()

	f, err := h.Service.Get(ctx, su.ObjectID(), fid)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, f)
}

// HandleUpdateSettings handles PATCH /api/families/{familyID}/settings.
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	var in familysvc.SettingsInput
	if err := decode(r, &in); err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "update family settings")
	defer cancel()

	f, err := h.Service.UpdateSettings(ctx, su.ObjectID(), fid, in)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, f)
}

// HandleRotateInviteCode handles POST /api/families/{familyID}/invite-code.
func (h *Handler) HandleRotateInviteCode(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "rotate invite code")
	defer cancel()

	code, err := h.Service.RotateInviteCode(ctx, su.ObjectID(), fid)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"inviteCode": code})
}

// HandleLeave handles POST /api/families/{familyID}/leave.
func (h *Handler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "leave family")
	defer cancel()

	if err := h.Service.Leave(ctx, su.ObjectID(), fid); err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpdateNotifications handles PUT /api/families/{familyID}/notifications.
// It replaces the caller's own notification preferences for the family.
func (h *Handler) HandleUpdateNotifications(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	var prefs models.NotificationPrefs
	if err := decode(r, &prefs); err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "update notification prefs")
	defer cancel()

	f, err := h.Service.UpdateNotificationPrefs(ctx, su.ObjectID(), fid, prefs)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, f)
}

// ServeLocations handles GET /api/families/{familyID}/locations. It is the
// REST form of the get_family_locations event.
func (h *Handler) ServeLocations(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "family locations")
	defer cancel()

	// Membership is checked first so a foreign family reads as missing.
	if _, err := h.Service.Get(ctx, su.ObjectID(), fid); err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	reply, err := h.Locator.FamilyLocations(ctx, su.ObjectID(), &fid)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, reply)
}

// ServeAllLocations handles GET /api/families/locations.
func (h *Handler) ServeAllLocations(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "family locations")
	defer cancel()

	reply, err := h.Locator.FamilyLocations(ctx, su.ObjectID(), nil)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, reply)
}
