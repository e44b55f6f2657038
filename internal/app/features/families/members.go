// internal/app/features/families/members.go
package families

import (
	"net/http"

	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type addMemberRequest struct {
	UserID string            `json:"userId" validate:"required"`
	Role   models.FamilyRole `json:"role" validate:"omitempty,oneof=admin member"`
}

type roleRequest struct {
	Role models.FamilyRole `json:"role" validate:"required,oneof=admin member"`
}

// HandleAddMember handles POST /api/families/{familyID}/members.
func (h *Handler) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	var req addMemberRequest
	if err := decode(r, &req); err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	target, err := primitive.ObjectIDFromHex(req.UserID)
	if err != nil {
		respond.Error(w, h.Log, apperr.New(apperr.KindValidation, "families", "userId is not a valid id"))
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "add member")
	defer cancel()

	f, err := h.Service.AddMember(ctx, su.ObjectID(), fid, target, req.Role)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, f)
}

// HandleUpdateRole handles PUT /api/families/{familyID}/members/{userID}/role.
func (h *Handler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	target, err := idParam(r, "userID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	var req roleRequest
	if err := decode(r, &req); err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "update role")
	defer cancel()

	f, err := h.Service.UpdateRole(ctx, su.ObjectID(), fid, target, req.Role)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, f)
}

// HandleRemoveMember handles DELETE /api/families/{familyID}/members/{userID}.
// Members may remove themselves; admins may remove anyone.
func (h *Handler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	fid, err := idParam(r, "familyID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	target, err := idParam(r, "userID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "remove member")
	defer cancel()

	if err := h.Service.RemoveMember(ctx, su.ObjectID(), fid, target); err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
