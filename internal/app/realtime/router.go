// internal/app/realtime/router.go
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/josefm09/tracker/internal/app/policy/locationpolicy"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/auditlog"
	"github.com/josefm09/tracker/internal/app/system/htmlsanitize"
	"github.com/josefm09/tracker/internal/domain/geo"
	"github.com/josefm09/tracker/internal/domain/geofence"
	"github.com/josefm09/tracker/internal/domain/membership"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultLowBatteryThreshold is the battery level, in percent, at or below
// which battery alerts are broadcast.
const DefaultLowBatteryThreshold = 20.0

// MaxEmergencyMessageLength bounds the optional text of an emergency alert.
const MaxEmergencyMessageLength = 500

// UserReader is the part of the user store the router needs.
type UserReader interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	ListByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error)
	TouchLastActive(ctx context.Context, id primitive.ObjectID, at time.Time) error
}

// FamilyReader is the part of the family store the router needs.
type FamilyReader interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Family, error)
	ListByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Family, error)
}

// LocationReader is the part of the location store the router needs.
type LocationReader interface {
	Latest(ctx context.Context, userID primitive.ObjectID) (*models.LocationSample, error)
}

// Config tunes the router.
type Config struct {
	LowBatteryThreshold float64
}

// Router decides who hears about what. It is the only component that
// emits to the hub; everything else is handed a *Router explicitly.
type Router struct {
	hub       *Hub
	users     UserReader
	families  FamilyReader
	locations LocationReader
	audit     *auditlog.Logger
	log       *zap.Logger
	cfg       Config
	now       func() time.Time
}

// NewRouter wires a router. audit may be nil.
func NewRouter(hub *Hub, users UserReader, families FamilyReader, locations LocationReader, audit *auditlog.Logger, log *zap.Logger, cfg Config) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.LowBatteryThreshold <= 0 {
		cfg.LowBatteryThreshold = DefaultLowBatteryThreshold
	}
	return &Router{
		hub:       hub,
		users:     users,
		families:  families,
		locations: locations,
		audit:     audit,
		log:       log,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Hub returns the hub the router emits to.
func (r *Router) Hub() *Hub { return r.hub }

func (r *Router) activeUser(ctx context.Context, op string, id primitive.ObjectID) (*models.User, error) {
	u, err := r.users.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.New(apperr.KindPermission, op, "account is not available")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, op, "failed to load account", err)
	}
	if !u.IsActive() {
		return nil, apperr.New(apperr.KindPermission, op, "account is not available")
	}
	return u, nil
}

func familyRooms(ids []primitive.ObjectID) []string {
	rooms := make([]string, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, FamilyRoom(id))
	}
	return rooms
}

// membersWith returns a filter admitting users who, in at least one of
// the families listed in ids, have the preference picked by want.
func membersWith(families []models.Family, ids []primitive.ObjectID, want func(models.NotificationPrefs) bool) func(primitive.ObjectID) bool {
	wanted := make(map[primitive.ObjectID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	allowed := make(map[primitive.ObjectID]bool)
	for _, f := range families {
		if !wanted[f.ID] {
			continue
		}
		for _, m := range f.Members {
			if want(m.NotificationPrefs) {
				allowed[m.UserID] = true
			}
		}
	}
	return func(id primitive.ObjectID) bool { return allowed[id] }
}

// Connect registers c, subscribes it to the user's personal room and one
// room per family, and announces the user online when this is their first
// connection.
func (r *Router) Connect(ctx context.Context, c Conn) (*models.User, error) {
	const op = "realtime.Connect"
	u, err := r.activeUser(ctx, op, c.UserID())
	if err != nil {
		return nil, err
	}

	first := r.hub.Register(c)
	r.hub.Join(c, UserRoom(u.ID))
	ids := u.FamilyIDs()
	for _, fid := range ids {
		r.hub.Join(c, FamilyRoom(fid))
	}

	r.log.Debug("realtime: connected",
		zap.String("conn_id", c.ID()),
		zap.String("user_id", u.ID.Hex()),
		zap.Int("families", len(ids)))

	if first && locationpolicy.DisclosedToFamily(u, locationpolicy.Profile) {
		r.hub.EmitRooms(familyRooms(ids), Event{
			Name: OutUserStatusChange,
			Data: UserStatusChange{UserID: u.ID, Status: StatusOnline},
		}, Except(c.ID()))
	}
	return u, nil
}

// Disconnect unregisters c. When it was the user's last connection the
// user's last-active time is saved and the user is announced offline.
func (r *Router) Disconnect(ctx context.Context, c Conn) {
	last, rooms := r.hub.Unregister(c)
	if !last {
		return
	}

	at := r.now()
	if err := r.users.TouchLastActive(ctx, c.UserID(), at); err != nil {
		r.log.Warn("realtime: save last active failed",
			zap.String("user_id", c.UserID().Hex()), zap.Error(err))
	}

	u, err := r.users.GetByID(ctx, c.UserID())
	if err != nil {
		r.log.Warn("realtime: load user on disconnect failed",
			zap.String("user_id", c.UserID().Hex()), zap.Error(err))
		return
	}
	if !locationpolicy.DisclosedToFamily(u, locationpolicy.Profile) {
		return
	}

	var fams []string
	for _, room := range rooms {
		if IsFamilyRoom(room) {
			fams = append(fams, room)
		}
	}
	r.hub.EmitRooms(fams, Event{
		Name: OutUserStatusChange,
		Data: UserStatusChange{UserID: u.ID, Status: StatusOffline, LastActive: &at},
	})
}

// LocationUpdate broadcasts sample to every family in its snapshot,
// skipping the connection that reported it. families, when non-nil, is
// used to honor members' location-update preferences.
func (r *Router) LocationUpdate(owner *models.User, families []models.Family, sample models.LocationSample, originConnID string) int {
	if !locationpolicy.DisclosedToFamily(owner, locationpolicy.CurrentLocation) {
		return 0
	}
	ids := sample.FamilyIDsSnapshot
	if len(ids) == 0 {
		return 0
	}

	var opts []EmitOption
	if originConnID != "" {
		opts = append(opts, Except(originConnID))
	}
	if families != nil {
		opts = append(opts, OnlyUsers(membersWith(families, ids, func(p models.NotificationPrefs) bool {
			return p.LocationUpdates
		})))
	}
	return r.hub.EmitRooms(familyRooms(ids), Event{
		Name: OutMemberLocationUpdate,
		Data: MemberLocationUpdate{User: owner.Public(), Location: sample.Public(), FamilyIDs: ids},
	}, opts...)
}

// EmergencyRequest is the body of an inbound emergency_alert.
type EmergencyRequest struct {
	Coordinates *models.Coordinates `json:"coordinates,omitempty"`
	Message     string              `json:"message,omitempty"`
}

// EmergencyAlert broadcasts an emergency to every family of the sender.
// Privacy settings are deliberately not consulted. The location is the
// one supplied, else the sender's latest sample, else null.
func (r *Router) EmergencyAlert(ctx context.Context, c Conn, req EmergencyRequest) (string, error) {
	const op = "realtime.EmergencyAlert"
	u, err := r.activeUser(ctx, op, c.UserID())
	if err != nil {
		return "", err
	}

	now := r.now()
	var loc *models.PublicLocation
	if req.Coordinates != nil {
		if err := geo.ValidateCoordinates(*req.Coordinates); err != nil {
			return "", apperr.Wrap(apperr.KindValidation, op, err.Error(), err)
		}
		loc = &models.PublicLocation{UserID: u.ID, Coordinates: *req.Coordinates, Timestamp: now}
	} else {
		latest, err := r.locations.Latest(ctx, u.ID)
		switch {
		case err == nil:
			pub := latest.Public()
			loc = &pub
		case !errors.Is(err, mongo.ErrNoDocuments):
			r.log.Warn("realtime: latest location for emergency failed",
				zap.String("user_id", u.ID.Hex()), zap.Error(err))
		}
	}

	alertID := uuid.NewString()
	ids := u.FamilyIDs()
	n := r.hub.EmitRooms(r.emergencyRooms(ctx, u.ID, ids), Event{
		Name: OutEmergencyAlert,
		Data: EmergencyAlert{
			AlertID:   alertID,
			User:      u.Public(),
			Location:  loc,
			Message:   htmlsanitize.PlainTextMax(req.Message, MaxEmergencyMessageLength),
			FamilyIDs: ids,
			Timestamp: now,
		},
	})

	r.log.Info("realtime: emergency alert",
		zap.String("alert_id", alertID),
		zap.String("user_id", u.ID.Hex()),
		zap.Int("families", len(ids)),
		zap.Int("delivered", n))
	r.audit.EmergencyAlert(ctx, u.ID, alertID, len(ids))
	return alertID, nil
}

// emergencyRooms is every family room plus the personal room of every
// member, so a connection that left a family room still hears the alert.
// If the families cannot be loaded the family rooms alone are used.
func (r *Router) emergencyRooms(ctx context.Context, senderID primitive.ObjectID, ids []primitive.ObjectID) []string {
	rooms := familyRooms(ids)
	if len(ids) == 0 {
		return rooms
	}
	families, err := r.families.ListByIDs(ctx, ids)
	if err != nil {
		r.log.Warn("realtime: load families for emergency failed; using family rooms only",
			zap.String("user_id", senderID.Hex()), zap.Error(err))
		return rooms
	}
	seen := make(map[primitive.ObjectID]bool)
	for _, f := range families {
		for _, m := range f.Members {
			if seen[m.UserID] {
				continue
			}
			seen[m.UserID] = true
			rooms = append(rooms, UserRoom(m.UserID))
		}
	}
	return rooms
}

// BatteryRequest is the body of an inbound battery_alert.
type BatteryRequest struct {
	Level      *float64 `json:"level"`
	IsCharging bool     `json:"isCharging"`
}

// BatteryAlert broadcasts a low-battery warning to the sender's families
// when the level is at or below the configured threshold. It reports
// whether anything was broadcast.
func (r *Router) BatteryAlert(ctx context.Context, c Conn, req BatteryRequest) (bool, error) {
	const op = "realtime.BatteryAlert"
	if req.Level == nil || !geo.IsFinite(*req.Level) || *req.Level < 0 || *req.Level > 100 {
		return false, apperr.New(apperr.KindValidation, op, "battery level must be between 0 and 100")
	}
	if *req.Level > r.cfg.LowBatteryThreshold {
		return false, nil
	}

	u, err := r.activeUser(ctx, op, c.UserID())
	if err != nil {
		return false, err
	}
	if !locationpolicy.DisclosedToFamily(u, locationpolicy.Profile) {
		return false, nil
	}
	ids := u.FamilyIDs()
	if len(ids) == 0 {
		return false, nil
	}

	opts := []EmitOption{Except(c.ID())}
	families, err := r.families.ListByIDs(ctx, ids)
	if err != nil {
		r.log.Warn("realtime: load families for battery alert failed",
			zap.String("user_id", u.ID.Hex()), zap.Error(err))
	} else {
		opts = append(opts, OnlyUsers(membersWith(families, ids, func(p models.NotificationPrefs) bool {
			return p.BatteryAlerts
		})))
	}

	r.hub.EmitRooms(familyRooms(ids), Event{
		Name: OutBatteryAlert,
		Data: BatteryAlert{
			User:      u.Public(),
			Battery:   models.Battery{Level: *req.Level, IsCharging: req.IsCharging},
			FamilyIDs: ids,
			Timestamp: r.now(),
		},
	}, opts...)
	return true, nil
}

// JoinFamily subscribes c to a family room after checking membership.
func (r *Router) JoinFamily(ctx context.Context, c Conn, familyID primitive.ObjectID) error {
	const op = "realtime.JoinFamily"
	f, err := r.families.GetByID(ctx, familyID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.New(apperr.KindNotFound, op, "family not found")
	}
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, op, "failed to load family", err)
	}
	if !membership.IsMember(f, c.UserID()) {
		return apperr.New(apperr.KindPermission, op, "you are not a member of this family")
	}
	r.hub.Join(c, FamilyRoom(familyID))
	_ = r.hub.SendTo(c, Event{Name: OutJoinedFamily, Data: FamilyRoomAck{FamilyID: familyID}})
	return nil
}

// LeaveFamily unsubscribes c from a family room. Leaving a room does not
// change membership.
func (r *Router) LeaveFamily(ctx context.Context, c Conn, familyID primitive.ObjectID) error {
	r.hub.Leave(c, FamilyRoom(familyID))
	_ = r.hub.SendTo(c, Event{Name: OutLeftFamily, Data: FamilyRoomAck{FamilyID: familyID}})
	return nil
}

// SendFamilyLocations answers get_family_locations on c.
func (r *Router) SendFamilyLocations(ctx context.Context, c Conn, familyID *primitive.ObjectID) error {
	reply, err := r.FamilyLocations(ctx, c.UserID(), familyID)
	if err != nil {
		return err
	}
	_ = r.hub.SendTo(c, Event{Name: OutFamilyLocations, Data: reply})
	return nil
}

// FamilyLocations returns the members of the requester's families, or of
// one family when familyID is set, with each member's latest location.
// Members hidden from the requester are omitted and locations the member
// does not share are null. Families and members keep their stored order.
func (r *Router) FamilyLocations(ctx context.Context, requesterID primitive.ObjectID, familyID *primitive.ObjectID) (FamilyLocationsReply, error) {
	const op = "realtime.FamilyLocations"
	requester, err := r.activeUser(ctx, op, requesterID)
	if err != nil {
		return FamilyLocationsReply{}, err
	}

	ids := requester.FamilyIDs()
	if familyID != nil {
		if !membership.HasFamily(requester, *familyID) {
			return FamilyLocationsReply{}, apperr.New(apperr.KindPermission, op, "you are not a member of this family")
		}
		ids = []primitive.ObjectID{*familyID}
	}

	families, err := r.families.ListByIDs(ctx, ids)
	if err != nil {
		return FamilyLocationsReply{}, apperr.Wrap(apperr.KindStorage, op, "failed to load families", err)
	}
	if familyID != nil && len(families) == 0 {
		return FamilyLocationsReply{}, apperr.New(apperr.KindNotFound, op, "family not found")
	}

	cache := &latestCache{byUser: make(map[primitive.ObjectID]*models.PublicLocation)}
	out := make([]FamilyLocations, len(families))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range families {
		g.Go(func() error {
			fl, err := r.familyLocations(gctx, requester, &families[i], cache)
			if err != nil {
				return err
			}
			out[i] = fl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return FamilyLocationsReply{}, apperr.Wrap(apperr.KindStorage, op, "failed to load family locations", err)
	}
	return FamilyLocationsReply{Families: out}, nil
}

func (r *Router) familyLocations(ctx context.Context, requester *models.User, f *models.Family, cache *latestCache) (FamilyLocations, error) {
	fl := FamilyLocations{FamilyID: f.ID, Name: f.Name, Members: []MemberLocation{}}
	if !membership.IsMember(f, requester.ID) {
		return fl, nil
	}

	users, err := r.users.ListByIDs(ctx, membership.MemberIDs(f))
	if err != nil {
		return fl, err
	}
	byID := make(map[primitive.ObjectID]*models.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}

	for _, m := range f.Members {
		u, ok := byID[m.UserID]
		if !ok || !u.IsActive() {
			continue
		}
		if !locationpolicy.CanAccess(requester, u, locationpolicy.Profile) {
			continue
		}
		entry := MemberLocation{
			User:   u.Public(),
			Role:   m.Role,
			Color:  m.Color,
			Online: r.hub.Online(u.ID),
		}
		if locationpolicy.CanAccess(requester, u, locationpolicy.CurrentLocation) {
			loc, err := cache.get(ctx, r.locations, u.ID)
			if err != nil {
				return fl, err
			}
			entry.Location = loc
		}
		fl.Members = append(fl.Members, entry)
	}
	return fl, nil
}

// latestCache shares latest-sample lookups between families in one request.
type latestCache struct {
	mu     sync.Mutex
	byUser map[primitive.ObjectID]*models.PublicLocation
}

func (c *latestCache) get(ctx context.Context, locations LocationReader, userID primitive.ObjectID) (*models.PublicLocation, error) {
	c.mu.Lock()
	loc, ok := c.byUser[userID]
	c.mu.Unlock()
	if ok {
		return loc, nil
	}

	sample, err := locations.Latest(ctx, userID)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		loc = nil
	case err != nil:
		return nil, err
	default:
		pub := sample.Public()
		loc = &pub
	}

	c.mu.Lock()
	c.byUser[userID] = loc
	c.mu.Unlock()
	return loc, nil
}

// DeliverPlaceAlerts sends each alert to its recipients' personal rooms
// only. families is used to honor members' place-alert preferences.
func (r *Router) DeliverPlaceAlerts(alerts []geofence.Alert, families []models.Family) int {
	byID := make(map[primitive.ObjectID]*models.Family, len(families))
	for i := range families {
		byID[families[i].ID] = &families[i]
	}

	delivered := 0
	for _, a := range alerts {
		f := byID[a.FamilyID]
		ev := Event{Name: OutPlaceAlert, Data: a}
		for _, rid := range a.Recipients {
			if f != nil {
				if m, ok := membership.Member(f, rid); !ok || !m.NotificationPrefs.PlaceAlerts {
					continue
				}
			}
			delivered += r.hub.EmitToUser(rid, ev)
		}
	}
	return delivered
}
