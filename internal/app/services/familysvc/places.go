// internal/app/services/familysvc/places.go
package familysvc

import (
	"context"
	"errors"

	"github.com/dalemusser/waffle/pantry/text"
	familystore "github.com/josefm09/tracker/internal/app/store/families"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/htmlsanitize"
	"github.com/josefm09/tracker/internal/domain/geo"
	"github.com/josefm09/tracker/internal/domain/membership"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Limits on user-supplied family and place fields.
const (
	MaxNameLength    = 100
	MaxAddressLength = 300
	MinPlaceRadius   = 10.0
	MaxPlaceRadius   = 50000.0
	MinHistoryDays   = 1
)

func cleanName(op, name string) (string, error) {
	name = htmlsanitize.PlainTextMax(name, MaxNameLength)
	if name == "" {
		return "", apperr.New(apperr.KindValidation, op, "name is required")
	}
	return name, nil
}

// PlaceInput describes a new place. Nil alert flags default to on.
type PlaceInput struct {
	Name            string               `json:"name"`
	Type            models.PlaceType     `json:"type"`
	Address         string               `json:"address"`
	Coordinates     *models.Coordinates  `json:"coordinates"`
	RadiusMeters    *float64             `json:"radiusMeters"`
	ArrivalAlerts   *bool                `json:"arrivalAlerts"`
	DepartureAlerts *bool                `json:"departureAlerts"`
	MembersToNotify []primitive.ObjectID `json:"membersToNotify"`
}

func (s *Service) buildPlace(op string, actorID primitive.ObjectID, in PlaceInput) (models.Place, error) {
	name, err := cleanName(op, in.Name)
	if err != nil {
		return models.Place{}, err
	}
	if in.Coordinates == nil {
		return models.Place{}, apperr.New(apperr.KindValidation, op, "coordinates are required")
	}
	if err := geo.ValidateCoordinates(*in.Coordinates); err != nil {
		return models.Place{}, apperr.Wrap(apperr.KindValidation, op, err.Error(), err)
	}
	radius := s.cfg.DefaultPlaceRadius
	if in.RadiusMeters != nil {
		radius = *in.RadiusMeters
		if !geo.IsFinite(radius) || radius < MinPlaceRadius || radius > MaxPlaceRadius {
			return models.Place{}, apperr.New(apperr.KindValidation, op, "radius must be between 10 and 50000 meters")
		}
	}
	typ := in.Type
	if typ == "" {
		typ = models.PlaceOther
	}
	if !typ.IsValid() {
		return models.Place{}, apperr.New(apperr.KindValidation, op, "type must be one of home, work, school, other")
	}

	return models.Place{
		ID:           primitive.NewObjectID(),
		Name:         name,
		Type:         typ,
		Address:      htmlsanitize.PlainTextMax(in.Address, MaxAddressLength),
		Coordinates:  *in.Coordinates,
		RadiusMeters: radius,
		Notifications: models.PlaceNotifications{
			ArrivalAlerts:   in.ArrivalAlerts == nil || *in.ArrivalAlerts,
			DepartureAlerts: in.DepartureAlerts == nil || *in.DepartureAlerts,
			MembersToNotify: in.MembersToNotify,
		},
		CreatedBy: actorID,
		CreatedAt: s.now(),
	}, nil
}

// AddPlace lets an admin add a geofence to the family.
// MembersToNotify entries that are not members are dropped.
func (s *Service) AddPlace(ctx context.Context, actorID, familyID primitive.ObjectID, in PlaceInput) (*models.Place, error) {
	const op = "familysvc.AddPlace"
	p, err := s.buildPlace(op, actorID, in)
	if err != nil {
		return nil, err
	}

	fam, err := s.families.Mutate(ctx, familyID, func(f *models.Family) error {
		if err := requireAdmin(op, f, actorID); err != nil {
			return err
		}
		return membership.AddPlace(f, p)
	})
	if err != nil {
		return nil, classify(op, err)
	}

	for i := range fam.Places {
		if fam.Places[i].ID == p.ID {
			p = fam.Places[i]
			break
		}
	}
	s.audit.PlaceCreated(ctx, familyID, p.ID, actorID, p.Name)
	return &p, nil
}

// RemovePlace lets an admin delete a geofence. Visits recorded for it are
// forgotten so a re-created place starts clean.
func (s *Service) RemovePlace(ctx context.Context, actorID, familyID, placeID primitive.ObjectID) error {
	const op = "familysvc.RemovePlace"
	_, err := s.families.Mutate(ctx, familyID, func(f *models.Family) error {
		if err := requireAdmin(op, f, actorID); err != nil {
			return err
		}
		_, err := membership.RemovePlace(f, placeID)
		return err
	})
	if err != nil {
		return classify(op, err)
	}

	if s.states != nil {
		if err := s.states.ForgetPlace(ctx, placeID); err != nil {
			s.log.Warn("familysvc: forget place state failed",
				zap.String("place_id", placeID.Hex()), zap.Error(err))
		}
	}
	s.audit.PlaceDeleted(ctx, familyID, placeID, actorID)
	return nil
}

// RotateInviteCode gives the family a fresh invite code.
func (s *Service) RotateInviteCode(ctx context.Context, actorID, familyID primitive.ObjectID) (string, error) {
	const op = "familysvc.RotateInviteCode"
	for attempt := 1; ; attempt++ {
		code, err := s.codes()
		if err != nil {
			return "", apperr.Wrap(apperr.KindInternal, op, "failed to generate invite code", err)
		}
		fam, err := s.families.Mutate(ctx, familyID, func(f *models.Family) error {
			if err := requireAdmin(op, f, actorID); err != nil {
				return err
			}
			f.InviteCode = code
			return nil
		})
		if err == nil {
			s.audit.InviteCodeRotated(ctx, familyID, actorID)
			return fam.InviteCode, nil
		}
		if !errors.Is(err, familystore.ErrDuplicateInviteCode) || attempt >= MaxInviteCodeAttempts {
			return "", classify(op, err)
		}
	}
}

// SettingsInput holds the family fields an admin may change. Nil fields
// are left alone.
type SettingsInput struct {
	Name                *string `json:"name"`
	AllowNewMembers     *bool   `json:"allowNewMembers"`
	LocationHistoryDays *int    `json:"locationHistoryDays"`
}

// UpdateSettings applies in to the family.
func (s *Service) UpdateSettings(ctx context.Context, actorID, familyID primitive.ObjectID, in SettingsInput) (*models.Family, error) {
	const op = "familysvc.UpdateSettings"
	var name string
	if in.Name != nil {
		n, err := cleanName(op, *in.Name)
		if err != nil {
			return nil, err
		}
		name = n
	}
	if d := in.LocationHistoryDays; d != nil && (*d < MinHistoryDays || *d > s.cfg.MaxHistoryDays) {
		return nil, apperr.New(apperr.KindValidation, op, "locationHistoryDays is out of range")
	}

	fam, err := s.families.Mutate(ctx, familyID, func(f *models.Family) error {
		if err := requireAdmin(op, f, actorID); err != nil {
			return err
		}
		if in.Name != nil {
			f.Name = name
			f.NameCI = text.Fold(name)
		}
		if in.AllowNewMembers != nil {
			f.Settings.AllowNewMembers = *in.AllowNewMembers
		}
		if in.LocationHistoryDays != nil {
			f.Settings.LocationHistoryDays = *in.LocationHistoryDays
		}
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return fam, nil
}

// UpdateNotificationPrefs replaces the caller's own preferences in a family.
func (s *Service) UpdateNotificationPrefs(ctx context.Context, userID, familyID primitive.ObjectID, prefs models.NotificationPrefs) (*models.Family, error) {
	const op = "familysvc.UpdateNotificationPrefs"
	fam, err := s.families.Mutate(ctx, familyID, func(f *models.Family) error {
		for i := range f.Members {
			if f.Members[i].UserID == userID {
				f.Members[i].NotificationPrefs = prefs
				return nil
			}
		}
		return notFound(op)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return fam, nil
}
