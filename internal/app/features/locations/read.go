// internal/app/features/locations/read.go
package locations

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dalemusser/waffle/pantry/query"
	"github.com/josefm09/tracker/internal/app/policy/locationpolicy"
	locationstore "github.com/josefm09/tracker/internal/app/store/locations"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/app/system/paging"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
	"github.com/josefm09/tracker/internal/domain/geo"
	"github.com/josefm09/tracker/internal/domain/membership"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Nearby query bounds.
const (
	DefaultNearbyRadius = 1000.0
	MaxNearbyRadius     = 50000.0
	DefaultNearbyMaxAge = time.Hour
	MaxNearbyMaxAge     = 24 * time.Hour
)

// errHidden is returned for a user the requester may not see. It reads the
// same as a missing user so the REST surface does not confirm existence.
func errHidden() error {
	return apperr.New(apperr.KindNotFound, "locations", "location not found")
}

// authorize loads the requester and target and applies the privacy policy.
// Reading your own data always passes. The requester is returned so
// callers can look at shared families.
func (h *Handler) authorize(ctx context.Context, requesterID, targetID primitive.ObjectID, category locationpolicy.Category) (*models.User, *models.User, error) {
	requester, err := h.loadUser(ctx, requesterID)
	if err != nil {
		return nil, nil, err
	}
	if requesterID == targetID {
		return requester, requester, nil
	}
	target, err := h.loadUser(ctx, targetID)
	if errors.Is(err, apperr.NotFound) {
		return nil, nil, errHidden()
	}
	if err != nil {
		return nil, nil, err
	}
	if !locationpolicy.CanAccess(requester, target, category) {
		return nil, nil, errHidden()
	}
	return requester, target, nil
}

// ServeCurrent handles GET /api/locations/current/{userID}. Owners get
// their full sample; family members get the public view.
func (h *Handler) ServeCurrent(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	targetID, err := idParam(r, "userID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "current location")
	defer cancel()

	if _, _, err := h.authorize(ctx, su.ObjectID(), targetID, locationpolicy.CurrentLocation); err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	s, err := h.Locations.Latest(ctx, targetID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		respond.Error(w, h.Log, apperr.New(apperr.KindNotFound, "locations", "no location recorded yet"))
		return
	}
	if err != nil {
		respond.Error(w, h.Log, apperr.Wrap(apperr.KindStorage, "locations", "failed to load location", err))
		return
	}

	if targetID == su.ObjectID() {
		respond.JSON(w, http.StatusOK, s)
		return
	}
	respond.JSON(w, http.StatusOK, s.Public())
}

type historyResponse struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Locations any       `json:"locations"`
}

// ServeHistory handles GET /api/locations/history/{userID}?from=&to=&limit=.
// Family members only see as far back as the longest history setting of
// the families they share with the owner.
func (h *Handler) ServeHistory(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)
	targetID, err := idParam(r, "userID")
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	win, err := paging.ParseWindow(r, h.now())
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "location history")
	defer cancel()

	requester, target, err := h.authorize(ctx, su.ObjectID(), targetID, locationpolicy.LocationHistory)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}

	self := requester.ID == target.ID
	if !self {
		days, err := h.sharedHistoryDays(ctx, requester, target)
		if err != nil {
			respond.Error(w, h.Log, err)
			return
		}
		win = win.ClampFrom(time.Duration(days) * 24 * time.Hour)
	}

	samples, err := h.Locations.History(ctx, locationstore.HistoryQuery{
		UserID: targetID,
		From:   win.From,
		To:     win.To,
		Limit:  win.Limit,
	})
	if err != nil {
		respond.Error(w, h.Log, apperr.Wrap(apperr.KindStorage, "locations", "failed to load history", err))
		return
	}

	resp := historyResponse{From: win.From, To: win.To}
	if self {
		resp.Locations = samples
	} else {
		public := make([]models.PublicLocation, 0, len(samples))
		for _, s := range samples {
			public = append(public, s.Public())
		}
		resp.Locations = public
	}
	respond.JSON(w, http.StatusOK, resp)
}

// sharedHistoryDays returns the largest LocationHistoryDays among the
// families requester and target share.
func (h *Handler) sharedHistoryDays(ctx context.Context, requester, target *models.User) (int, error) {
	fams, err := h.Families.ListByIDs(ctx, membership.SharedFamilies(requester, target))
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, "locations", "failed to load families", err)
	}
	days := 0
	for _, f := range fams {
		if f.Settings.LocationHistoryDays > days {
			days = f.Settings.LocationHistoryDays
		}
	}
	if days == 0 {
		days = models.DefaultFamilySettings().LocationHistoryDays
	}
	return days, nil
}

type nearbyMember struct {
	User           models.PublicUser     `json:"user"`
	Location       models.PublicLocation `json:"location"`
	DistanceMeters float64               `json:"distanceMeters"`
}

func floatQuery(r *http.Request, name string, def float64, required bool) (float64, error) {
	s := query.Get(r, name)
	if s == "" {
		if required {
			return 0, apperr.New(apperr.KindValidation, "locations", name+" is required")
		}
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !geo.IsFinite(v) {
		return 0, apperr.New(apperr.KindValidation, "locations", name+" must be a number")
	}
	return v, nil
}

// ServeNearby handles GET /api/locations/nearby?latitude=&longitude=&radius=&maxAgeMinutes=.
// It lists family members whose latest recent sample lies within radius
// meters, nearest first. Members hiding their location are left out.
func (h *Handler) ServeNearby(w http.ResponseWriter, r *http.Request) {
	su, _ := auth.CurrentUser(r)

	lat, err := floatQuery(r, "latitude", 0, true)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	lng, err := floatQuery(r, "longitude", 0, true)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	center := models.Coordinates{Latitude: lat, Longitude: lng}
	if err := geo.ValidateCoordinates(center); err != nil {
		respond.Error(w, h.Log, apperr.Wrap(apperr.KindValidation, "locations", err.Error(), err))
		return
	}
	radius, err := floatQuery(r, "radius", DefaultNearbyRadius, false)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	if radius <= 0 || radius > MaxNearbyRadius {
		respond.Error(w, h.Log, apperr.New(apperr.KindValidation, "locations", "radius must be between 0 and 50000 meters"))
		return
	}
	ageMin, err := floatQuery(r, "maxAgeMinutes", DefaultNearbyMaxAge.Minutes(), false)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	maxAge := time.Duration(ageMin * float64(time.Minute))
	if maxAge <= 0 || maxAge > MaxNearbyMaxAge {
		respond.Error(w, h.Log, apperr.New(apperr.KindValidation, "locations", "maxAgeMinutes must be between 1 and 1440"))
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "nearby members")
	defer cancel()

	me, err := h.loadUser(ctx, su.ObjectID())
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	visible, err := h.visibleMembers(ctx, me)
	if err != nil {
		respond.Error(w, h.Log, err)
		return
	}
	ids := make([]primitive.ObjectID, 0, len(visible))
	for id := range visible {
		ids = append(ids, id)
	}

	hits, err := h.Locations.Nearby(ctx, center, radius, ids, h.now().Add(-maxAge))
	if err != nil {
		respond.Error(w, h.Log, apperr.Wrap(apperr.KindStorage, "locations", "failed to search locations", err))
		return
	}

	out := make([]nearbyMember, 0, len(hits))
	for _, hit := range hits {
		u := visible[hit.Sample.UserID]
		out = append(out, nearbyMember{
			User:           u.Public(),
			Location:       hit.Sample.Public(),
			DistanceMeters: hit.DistanceMeters,
		})
	}
	respond.JSON(w, http.StatusOK, map[string]any{"members": out})
}

// visibleMembers returns the other members of me's families who disclose
// their current location.
func (h *Handler) visibleMembers(ctx context.Context, me *models.User) (map[primitive.ObjectID]*models.User, error) {
	fams, err := h.Families.ListByIDs(ctx, me.FamilyIDs())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "locations", "failed to load families", err)
	}
	seen := map[primitive.ObjectID]bool{me.ID: true}
	var ids []primitive.ObjectID
	for i := range fams {
		for _, id := range membership.MemberIDs(&fams[i]) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return map[primitive.ObjectID]*models.User{}, nil
	}

	users, err := h.Users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "locations", "failed to load members", err)
	}
	out := make(map[primitive.ObjectID]*models.User, len(users))
	for i := range users {
		u := &users[i]
		if u.IsActive() && locationpolicy.CanAccess(me, u, locationpolicy.CurrentLocation) {
			out[u.ID] = u
		}
	}
	return out, nil
}
