package realtime_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/josefm09/tracker/internal/app/realtime"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type fakeConn struct {
	id   string
	user primitive.ObjectID

	mu     sync.Mutex
	events []realtime.Event
	fail   bool
	closed bool
}

func newConn(id string, user primitive.ObjectID) *fakeConn {
	return &fakeConn{id: id, user: user}
}

func (c *fakeConn) ID() string                 { return c.id }
func (c *fakeConn) UserID() primitive.ObjectID { return c.user }

func (c *fakeConn) Send(ev realtime.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errors.New("send buffer full")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) received(name string) []realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []realtime.Event
	for _, ev := range c.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

type fakeUsers struct {
	mu      sync.Mutex
	byID    map[primitive.ObjectID]*models.User
	touched map[primitive.ObjectID]time.Time
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{byID: map[primitive.ObjectID]*models.User{}, touched: map[primitive.ObjectID]time.Time{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) ListByIDs(_ context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, id := range ids {
		if u, ok := f.byID[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUsers) TouchLastActive(_ context.Context, id primitive.ObjectID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id] = at
	return nil
}

type fakeFamilies struct {
	byID    map[primitive.ObjectID]*models.Family
	listErr error
}

func (f *fakeFamilies) GetByID(_ context.Context, id primitive.ObjectID) (*models.Family, error) {
	fam, ok := f.byID[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	cp := *fam
	return &cp, nil
}

func (f *fakeFamilies) ListByIDs(_ context.Context, ids []primitive.ObjectID) ([]models.Family, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Family
	for _, id := range ids {
		if fam, ok := f.byID[id]; ok {
			out = append(out, *fam)
		}
	}
	return out, nil
}

type fakeLocations struct {
	latest map[primitive.ObjectID]*models.LocationSample
}

func (f *fakeLocations) Latest(_ context.Context, userID primitive.ObjectID) (*models.LocationSample, error) {
	s, ok := f.latest[userID]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	cp := *s
	return &cp, nil
}

// fixture is one family of three (alice admin, bob and carol members)
// plus dave, who belongs to a second family with alice only.
type fixture struct {
	alice, bob, carol, dave *models.User
	family, other           *models.Family

	users     *fakeUsers
	families  *fakeFamilies
	locations *fakeLocations
	hub       *realtime.Hub
	router    *realtime.Router
}

func newUser(name string) *models.User {
	return &models.User{
		ID:               primitive.NewObjectID(),
		FullName:         name,
		Status:           models.UserStatusActive,
		LocationSettings: models.DefaultLocationSettings(),
		PrivacySettings:  models.DefaultPrivacySettings(),
	}
}

func newFamily(name string, admin *models.User, members ...*models.User) *models.Family {
	f := &models.Family{ID: primitive.NewObjectID(), Name: name}
	all := append([]*models.User{admin}, members...)
	for i, u := range all {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleAdmin
		}
		f.Members = append(f.Members, models.FamilyMember{
			UserID:            u.ID,
			Role:              role,
			Color:             models.MemberColors[i],
			NotificationPrefs: models.DefaultNotificationPrefs(),
		})
		u.Families = append(u.Families, models.FamilyRef{FamilyID: f.ID, Role: role})
	}
	return f
}

func newFixture() *fixture {
	fx := &fixture{
		alice: newUser("Alice"),
		bob:   newUser("Bob"),
		carol: newUser("Carol"),
		dave:  newUser("Dave"),
	}
	fx.family = newFamily("Smiths", fx.alice, fx.bob, fx.carol)
	fx.other = newFamily("Book Club", fx.alice, fx.dave)

	fx.users = newFakeUsers(fx.alice, fx.bob, fx.carol, fx.dave)
	fx.families = &fakeFamilies{byID: map[primitive.ObjectID]*models.Family{
		fx.family.ID: fx.family,
		fx.other.ID:  fx.other,
	}}
	fx.locations = &fakeLocations{latest: map[primitive.ObjectID]*models.LocationSample{}}
	fx.hub = realtime.NewHub(nil, nil)
	fx.router = realtime.NewRouter(fx.hub, fx.users, fx.families, fx.locations, nil, nil, realtime.Config{})
	return fx
}

func (fx *fixture) connect(ctx context.Context, id string, u *models.User) *fakeConn {
	c := newConn(id, u.ID)
	if _, err := fx.router.Connect(ctx, c); err != nil {
		panic(err)
	}
	return c
}
