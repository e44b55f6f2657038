// internal/app/services/familysvc/familysvc.go
package familysvc

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	familystore "github.com/josefm09/tracker/internal/app/store/families"
	userstore "github.com/josefm09/tracker/internal/app/store/users"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/auditlog"
	"github.com/josefm09/tracker/internal/domain/membership"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// MaxInviteCodeAttempts bounds invite code regeneration on collision.
const MaxInviteCodeAttempts = 5

// inviteAlphabet leaves out 0/O and 1/I. Its length divides 256 so a
// random byte maps onto it without bias.
const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// FamilyStore is the family side of membership.
type FamilyStore interface {
	Create(ctx context.Context, f models.Family) (models.Family, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Family, error)
	GetByInviteCode(ctx context.Context, code string) (*models.Family, error)
	ListForMember(ctx context.Context, userID primitive.ObjectID) ([]models.Family, error)
	Mutate(ctx context.Context, id primitive.ObjectID, fn func(*models.Family) error) (*models.Family, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// UserStore is the user side of membership.
type UserStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	AddFamilyRef(ctx context.Context, userID primitive.ObjectID, ref models.FamilyRef) error
	RemoveFamilyRef(ctx context.Context, userID, familyID primitive.ObjectID) error
	SetFamilyRole(ctx context.Context, userID, familyID primitive.ObjectID, role models.FamilyRole) error
}

// PlaceStates forgets geofence state that no longer applies.
type PlaceStates interface {
	ForgetFamily(ctx context.Context, userID, familyID primitive.ObjectID) error
	ForgetPlace(ctx context.Context, placeID primitive.ObjectID) error
}

// RoomSync keeps live connections' family subscriptions in step with
// membership.
type RoomSync interface {
	SubscribeUser(userID, familyID primitive.ObjectID)
	UnsubscribeUser(userID, familyID primitive.ObjectID)
}

type noRooms struct{}

func (noRooms) SubscribeUser(primitive.ObjectID, primitive.ObjectID)   {}
func (noRooms) UnsubscribeUser(primitive.ObjectID, primitive.ObjectID) {}

// Config tunes the service.
type Config struct {
	DefaultPlaceRadius float64
	MaxHistoryDays     int
}

// Service owns every membership and place mutation. Each one changes the
// family document first and then the user document, undoing the family
// change when the user side fails.
type Service struct {
	families FamilyStore
	users    UserStore
	states   PlaceStates
	rooms    RoomSync
	audit    *auditlog.Logger
	log      *zap.Logger
	cfg      Config

	now   func() time.Time
	codes func() (string, error)
}

// New wires the service. states, rooms and audit may be nil.
func New(families FamilyStore, users UserStore, states PlaceStates, rooms RoomSync, audit *auditlog.Logger, log *zap.Logger, cfg Config) *Service {
	if rooms == nil {
		rooms = noRooms{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DefaultPlaceRadius <= 0 {
		cfg.DefaultPlaceRadius = models.DefaultPlaceRadiusMeters
	}
	if cfg.MaxHistoryDays <= 0 {
		cfg.MaxHistoryDays = 90
	}
	return &Service{
		families: families,
		users:    users,
		states:   states,
		rooms:    rooms,
		audit:    audit,
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		codes:    NewInviteCode,
	}
}

// NewInviteCode returns a random code of models.InviteCodeLength characters.
func NewInviteCode() (string, error) {
	b := make([]byte, models.InviteCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = inviteAlphabet[int(b[i])%len(inviteAlphabet)]
	}
	return string(b), nil
}

// classify turns store and domain errors into caller-facing errors.
func classify(op string, err error) error {
	var ae *apperr.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ae):
		return err
	case errors.Is(err, membership.ErrAlreadyMember):
		return apperr.Wrap(apperr.KindConflict, op, "user is already a member of this family", err)
	case errors.Is(err, membership.ErrLastAdmin):
		return apperr.Wrap(apperr.KindConflict, op, "a family needs at least one admin; promote someone else first", err)
	case errors.Is(err, membership.ErrNotAMember):
		return apperr.Wrap(apperr.KindNotFound, op, "user is not a member of this family", err)
	case errors.Is(err, membership.ErrInvalidRole):
		return apperr.Wrap(apperr.KindValidation, op, err.Error(), err)
	case errors.Is(err, membership.ErrPlaceExists):
		return apperr.Wrap(apperr.KindConflict, op, "place already exists", err)
	case errors.Is(err, membership.ErrPlaceNotFound):
		return apperr.Wrap(apperr.KindNotFound, op, "place not found", err)
	case errors.Is(err, familystore.ErrNotFound), errors.Is(err, mongo.ErrNoDocuments):
		return apperr.Wrap(apperr.KindNotFound, op, "family not found", err)
	case errors.Is(err, familystore.ErrVersionConflict):
		return apperr.Wrap(apperr.KindConflict, op, "family was changed by someone else; try again", err)
	case errors.Is(err, familystore.ErrDuplicateInviteCode):
		return apperr.Wrap(apperr.KindConflict, op, "invite code already in use", err)
	}
	return apperr.Wrap(apperr.KindStorage, op, "failed to update family", err)
}

// notFound hides families the actor does not belong to.
func notFound(op string) error {
	return apperr.New(apperr.KindNotFound, op, "family not found")
}

func requireMember(op string, f *models.Family, actorID primitive.ObjectID) error {
	if !membership.IsMember(f, actorID) {
		return notFound(op)
	}
	return nil
}

func requireAdmin(op string, f *models.Family, actorID primitive.ObjectID) error {
	if err := requireMember(op, f, actorID); err != nil {
		return err
	}
	if !membership.IsAdmin(f, actorID) {
		return apperr.New(apperr.KindPermission, op, "only family admins can do that")
	}
	return nil
}

func (s *Service) activeUser(ctx context.Context, op string, id primitive.ObjectID) (*models.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.New(apperr.KindNotFound, op, "user not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, op, "failed to load user", err)
	}
	if !u.IsActive() {
		return nil, apperr.New(apperr.KindNotFound, op, "user not found")
	}
	return u, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Reads                                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

// Get returns a family the actor belongs to.
func (s *Service) Get(ctx context.Context, actorID, familyID primitive.ObjectID) (*models.Family, error) {
	const op = "familysvc.Get"
	f, err := s.families.GetByID(ctx, familyID)
	if err != nil {
		return nil, classify(op, err)
	}
	if err := requireMember(op, f, actorID); err != nil {
		return nil, err
	}
	return f, nil
}

// ListMine returns the actor's families ordered by name.
func (s *Service) ListMine(ctx context.Context, actorID primitive.ObjectID) ([]models.Family, error) {
	fams, err := s.families.ListForMember(ctx, actorID)
	if err != nil {
		return nil, classify("familysvc.ListMine", err)
	}
	return fams, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Membership                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

// Create makes a family with creatorID as its only admin.
func (s *Service) Create(ctx context.Context, creatorID primitive.ObjectID, name string) (*models.Family, error) {
	const op = "familysvc.Create"
	name, err := cleanName(op, name)
	if err != nil {
		return nil, err
	}
	if _, err := s.activeUser(ctx, op, creatorID); err != nil {
		return nil, err
	}

	now := s.now()
	draft := models.Family{
		ID:        primitive.NewObjectID(),
		Name:      name,
		Settings:  models.DefaultFamilySettings(),
		CreatedBy: creatorID,
	}
	creator := models.FamilyMember{
		UserID:            creatorID,
		Role:              models.RoleAdmin,
		NotificationPrefs: models.DefaultNotificationPrefs(),
		JoinedAt:          now,
	}
	if err := membership.AddMember(&draft, creator); err != nil {
		return nil, classify(op, err)
	}

	var created models.Family
	for attempt := 1; ; attempt++ {
		code, err := s.codes()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, op, "failed to generate invite code", err)
		}
		draft.InviteCode = code
		created, err = s.families.Create(ctx, draft)
		if err == nil {
			break
		}
		if !errors.Is(err, familystore.ErrDuplicateInviteCode) || attempt >= MaxInviteCodeAttempts {
			return nil, classify(op, err)
		}
		s.log.Debug("familysvc: invite code collision", zap.Int("attempt", attempt))
	}

	if err := s.users.AddFamilyRef(ctx, creatorID, membership.RefFor(created.ID, created.Members[0])); err != nil {
		if derr := s.families.Delete(ctx, created.ID); derr != nil {
			s.log.Error("familysvc: compensation failed; orphan family left behind",
				zap.String("family_id", created.ID.Hex()), zap.Error(derr))
		}
		return nil, apperr.Wrap(apperr.KindStorage, op, "failed to create family", err)
	}

	s.rooms.SubscribeUser(creatorID, created.ID)
	s.audit.FamilyCreated(ctx, created.ID, creatorID, created.Name)
	return &created, nil
}

// Join adds userID to the family holding inviteCode.
func (s *Service) Join(ctx context.Context, userID primitive.ObjectID, inviteCode string) (*models.Family, error) {
	const op = "familysvc.Join"
	if inviteCode == "" {
		return nil, apperr.New(apperr.KindValidation, op, "invite code is required")
	}
	f, err := s.families.GetByInviteCode(ctx, inviteCode)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.New(apperr.KindNotFound, op, "invalid invite code")
	}
	if err != nil {
		return nil, classify(op, err)
	}

	fam, err := s.addMember(ctx, op, f.ID, userID, models.RoleMember, func(f *models.Family) error {
		if !f.Settings.AllowNewMembers && !membership.IsMember(f, userID) {
			return apperr.New(apperr.KindPermission, op, "this family is not accepting new members")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.MemberJoined(ctx, fam.ID, userID)
	return fam, nil
}

// AddMember lets an admin add targetID with role.
func (s *Service) AddMember(ctx context.Context, actorID, familyID, targetID primitive.ObjectID, role models.FamilyRole) (*models.Family, error) {
	const op = "familysvc.AddMember"
	if role == "" {
		role = models.RoleMember
	}
	if !role.IsValid() {
		return nil, classify(op, membership.ErrInvalidRole)
	}
	fam, err := s.addMember(ctx, op, familyID, targetID, role, func(f *models.Family) error {
		return requireAdmin(op, f, actorID)
	})
	if err != nil {
		return nil, err
	}
	s.audit.MemberAdded(ctx, fam.ID, targetID, actorID, string(role))
	return fam, nil
}

func (s *Service) addMember(ctx context.Context, op string, familyID, userID primitive.ObjectID, role models.FamilyRole, check func(*models.Family) error) (*models.Family, error) {
	if _, err := s.activeUser(ctx, op, userID); err != nil {
		return nil, err
	}

	var added models.FamilyMember
	fam, err := s.families.Mutate(ctx, familyID, func(f *models.Family) error {
		if err := check(f); err != nil {
			return err
		}
		m := models.FamilyMember{
			UserID:            userID,
			Role:              role,
			NotificationPrefs: models.DefaultNotificationPrefs(),
			JoinedAt:          s.now(),
		}
		if err := membership.AddMember(f, m); err != nil {
			return err
		}
		added, _ = membership.Member(f, userID)
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}

	if err := s.users.AddFamilyRef(ctx, userID, membership.RefFor(familyID, added)); err != nil {
		s.undo(ctx, familyID, "add member", func(f *models.Family) error {
			_, err := membership.RemoveMember(f, userID)
			return err
		})
		return nil, apperr.Wrap(apperr.KindStorage, op, "failed to add member", err)
	}

	s.rooms.SubscribeUser(userID, familyID)
	return fam, nil
}

// RemoveMember removes targetID. Admins may remove anyone; members may
// only remove themselves. The last admin cannot leave while others remain,
// and a family left with no members is deleted.
func (s *Service) RemoveMember(ctx context.Context, actorID, familyID, targetID primitive.ObjectID) error {
	const op = "familysvc.RemoveMember"

	var removed models.FamilyMember
	at := -1
	fam, err := s.families.Mutate(ctx, familyID, func(f *models.Family) error {
		if actorID == targetID {
			if err := requireMember(op, f, actorID); err != nil {
				return err
			}
		} else if err := requireAdmin(op, f, actorID); err != nil {
			return err
		}
		at = membership.Position(f, targetID)
		m, err := membership.RemoveMember(f, targetID)
		if err != nil {
			return err
		}
		removed = m
		return nil
	})
	if err != nil {
		return classify(op, err)
	}

	err = s.users.RemoveFamilyRef(ctx, targetID, familyID)
	if err != nil && !errors.Is(err, userstore.ErrNotFound) {
		s.undo(ctx, familyID, "remove member", func(f *models.Family) error {
			if membership.IsMember(f, removed.UserID) {
				return nil
			}
			return membership.RestoreMember(f, removed, at)
		})
		return apperr.Wrap(apperr.KindStorage, op, "failed to remove member", err)
	}

	s.rooms.UnsubscribeUser(targetID, familyID)
	if s.states != nil {
		if err := s.states.ForgetFamily(ctx, targetID, familyID); err != nil {
			s.log.Warn("familysvc: forget place state failed",
				zap.String("user_id", targetID.Hex()),
				zap.String("family_id", familyID.Hex()),
				zap.Error(err))
		}
	}
	if actorID == targetID {
		s.audit.MemberLeft(ctx, familyID, targetID)
	} else {
		s.audit.MemberRemoved(ctx, familyID, targetID, actorID)
	}

	if len(fam.Members) == 0 {
		if err := s.families.Delete(ctx, familyID); err != nil {
			s.log.Warn("familysvc: delete empty family failed",
				zap.String("family_id", familyID.Hex()), zap.Error(err))
		}
	}
	return nil
}

// Leave removes userID from the family.
func (s *Service) Leave(ctx context.Context, userID, familyID primitive.ObjectID) error {
	return s.RemoveMember(ctx, userID, familyID, userID)
}

// UpdateRole changes targetID's role. Only admins may change roles and
// the last admin cannot be demoted.
func (s *Service) UpdateRole(ctx context.Context, actorID, familyID, targetID primitive.ObjectID, role models.FamilyRole) (*models.Family, error) {
	const op = "familysvc.UpdateRole"
	if !role.IsValid() {
		return nil, classify(op, membership.ErrInvalidRole)
	}

	var prev models.FamilyRole
	fam, err := s.families.Mutate(ctx, familyID, func(f *models.Family) error {
		if err := requireAdmin(op, f, actorID); err != nil {
			return err
		}
		p, err := membership.UpdateRole(f, targetID, role)
		if err != nil {
			return err
		}
		prev = p
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	if prev == role {
		return fam, nil
	}

	if err := s.users.SetFamilyRole(ctx, targetID, familyID, role); err != nil {
		s.undo(ctx, familyID, "update role", func(f *models.Family) error {
			// The revert may itself be refused if the admin floor moved meanwhile.
			_, err := membership.UpdateRole(f, targetID, prev)
			return err
		})
		return nil, apperr.Wrap(apperr.KindStorage, op, "failed to update role", err)
	}

	s.audit.RoleChanged(ctx, familyID, targetID, actorID, string(prev), string(role))
	return fam, nil
}

// undo reverts a family change after the user side failed. A failed undo
// leaves the two sides out of step, which is logged loudly.
func (s *Service) undo(ctx context.Context, familyID primitive.ObjectID, what string, fn func(*models.Family) error) {
	if _, err := s.families.Mutate(ctx, familyID, fn); err != nil {
		s.log.Error("familysvc: compensation failed; family and user membership differ",
			zap.String("family_id", familyID.Hex()),
			zap.String("operation", what),
			zap.Error(err))
	}
}

// RemoveUserEverywhere takes a deactivating user out of every family.
// Where they are the only admin the longest-standing other member is
// promoted first.
func (s *Service) RemoveUserEverywhere(ctx context.Context, userID primitive.ObjectID) error {
	const op = "familysvc.RemoveUserEverywhere"
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.New(apperr.KindNotFound, op, "user not found")
	}
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, op, "failed to load user", err)
	}

	var errs []error
	for _, ref := range u.Families {
		if err := s.handOver(ctx, userID, ref.FamilyID); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.Leave(ctx, userID, ref.FamilyID); err != nil && !errors.Is(err, apperr.NotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) handOver(ctx context.Context, userID, familyID primitive.ObjectID) error {
	f, err := s.families.GetByID(ctx, familyID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		return classify("familysvc.handOver", err)
	}
	if !membership.IsAdmin(f, userID) || membership.AdminCount(f) > 1 || len(f.Members) < 2 {
		return nil
	}
	var heir *models.FamilyMember
	for i := range f.Members {
		m := &f.Members[i]
		if m.UserID == userID {
			continue
		}
		if heir == nil || m.JoinedAt.Before(heir.JoinedAt) {
			heir = m
		}
	}
	_, err = s.UpdateRole(ctx, userID, familyID, heir.UserID, models.RoleAdmin)
	return err
}
