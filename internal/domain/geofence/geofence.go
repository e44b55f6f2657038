// Package geofence decides which place alerts a new location sample causes.
//
// Alerts fire on edges only: an arrival when a user is inside a place they
// were not inside at their previous sample, a departure for the reverse.
// The caller persists the returned visits and passes them back as prior
// state on the next sample.
package geofence

import (
	"time"

	"github.com/josefm09/tracker/internal/domain/geo"
	"github.com/josefm09/tracker/internal/domain/membership"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AlertType is the edge that produced an alert.
type AlertType string

const (
	Arrival   AlertType = "arrival"
	Departure AlertType = "departure"
)

// PlaceRef is the part of a place included in an alert.
type PlaceRef struct {
	ID   primitive.ObjectID `json:"id"`
	Name string             `json:"name"`
	Type models.PlaceType   `json:"type"`
}

// Alert is one arrival or departure to deliver to Recipients.
type Alert struct {
	Type        AlertType            `json:"type"`
	FamilyID    primitive.ObjectID   `json:"familyId"`
	Place       PlaceRef             `json:"place"`
	User        models.PublicUser    `json:"user"`
	Coordinates models.Coordinates   `json:"coordinates"`
	Timestamp   time.Time            `json:"timestamp"`
	Recipients  []primitive.ObjectID `json:"-"`
}

type visitKey struct {
	family primitive.ObjectID
	place  primitive.ObjectID
}

// Evaluate compares sample against every place of every family owner
// belongs to. families should be owner's families in membership order;
// families owner is no longer a member of are skipped. prior is the
// visit list returned by the previous call (nil for a user's first sample).
//
// It returns the alerts to deliver and the visits to persist.
func Evaluate(owner *models.User, families []models.Family, sample models.LocationSample, prior []models.PlaceVisit) ([]Alert, []models.PlaceVisit) {
	wasInside := make(map[visitKey]time.Time, len(prior))
	for _, v := range prior {
		wasInside[visitKey{v.FamilyID, v.PlaceID}] = v.Since
	}

	var alerts []Alert
	var next []models.PlaceVisit

	for i := range families {
		f := &families[i]
		if !membership.IsMember(f, owner.ID) {
			continue
		}
		for _, place := range f.Places {
			key := visitKey{f.ID, place.ID}
			since, was := wasInside[key]
			inside := geo.IsWithin(sample.Coordinates, place)

			switch {
			case inside && !was:
				next = append(next, models.PlaceVisit{FamilyID: f.ID, PlaceID: place.ID, Since: sample.Timestamp})
				if place.Notifications.ArrivalAlerts {
					alerts = append(alerts, newAlert(Arrival, f, place, owner, sample))
				}
			case inside && was:
				next = append(next, models.PlaceVisit{FamilyID: f.ID, PlaceID: place.ID, Since: since})
			case !inside && was:
				if place.Notifications.DepartureAlerts {
					alerts = append(alerts, newAlert(Departure, f, place, owner, sample))
				}
			}
		}
	}

	// Drop alerts nobody would receive.
	out := alerts[:0]
	for _, a := range alerts {
		if len(a.Recipients) > 0 {
			out = append(out, a)
		}
	}
	return out, next
}

// Recipients returns who should hear about owner at place in f:
// place.Notifications.MembersToNotify when set, otherwise every member.
// Only current members are returned and the owner is always excluded.
func Recipients(f *models.Family, place models.Place, ownerID primitive.ObjectID) []primitive.ObjectID {
	candidates := place.Notifications.MembersToNotify
	if len(candidates) == 0 {
		candidates = membership.MemberIDs(f)
	}
	out := make([]primitive.ObjectID, 0, len(candidates))
	seen := make(map[primitive.ObjectID]bool, len(candidates))
	for _, id := range candidates {
		if id == ownerID || seen[id] || !membership.IsMember(f, id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// FirstMatch returns the first place, in family-then-place order, that
// contains point. It is used to tag samples and deliberately does not look
// for the nearest place.
func FirstMatch(families []models.Family, point models.Coordinates) (*models.ResolvedPlace, bool) {
	for _, f := range families {
		for _, p := range f.Places {
			if geo.IsWithin(point, p) {
				return &models.ResolvedPlace{PlaceID: p.ID, FamilyID: f.ID, Name: p.Name, Type: p.Type}, true
			}
		}
	}
	return nil, false
}

func newAlert(t AlertType, f *models.Family, place models.Place, owner *models.User, sample models.LocationSample) Alert {
	return Alert{
		Type:        t,
		FamilyID:    f.ID,
		Place:       PlaceRef{ID: place.ID, Name: place.Name, Type: place.Type},
		User:        owner.Public(),
		Coordinates: sample.Coordinates,
		Timestamp:   sample.Timestamp,
		Recipients:  Recipients(f, place, owner.ID),
	}
}
