package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dalemusser/waffle/pantry/text"
	"github.com/josefm09/tracker/internal/app/system/indexes"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// EnsureIndexes creates the application indexes on db.
func EnsureIndexes(t *testing.T, ctx context.Context, db *mongo.Database) {
	t.Helper()
	if err := indexes.EnsureAll(ctx, db, indexes.Options{}); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser inserts an active user with default settings.
func (f *Fixtures) CreateUser(ctx context.Context, fullName, email string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	u := models.User{
		ID:               primitive.NewObjectID(),
		FullName:         fullName,
		Email:            email,
		Status:           models.UserStatusActive,
		LocationSettings: models.DefaultLocationSettings(),
		PrivacySettings:  models.DefaultPrivacySettings(),
		Families:         []models.FamilyRef{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := f.db.Collection("users").InsertOne(ctx, u); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

// CreateFamily inserts a family with admin as its first member and the
// others as members, and writes the matching references on each user.
func (f *Fixtures) CreateFamily(ctx context.Context, name string, admin models.User, others ...models.User) models.Family {
	f.t.Helper()

	now := time.Now().UTC()
	fam := models.Family{
		ID:         primitive.NewObjectID(),
		Name:       name,
		NameCI:     text.Fold(name),
		InviteCode: inviteCodeFor(primitive.NewObjectID()),
		Places:     []models.Place{},
		Settings:   models.DefaultFamilySettings(),
		CreatedBy:  admin.ID,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	all := append([]models.User{admin}, others...)
	for i, u := range all {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleAdmin
		}
		fam.Members = append(fam.Members, models.FamilyMember{
			UserID:            u.ID,
			Role:              role,
			Color:             models.MemberColors[i%len(models.MemberColors)],
			NotificationPrefs: models.DefaultNotificationPrefs(),
			JoinedAt:          now,
		})
	}
	if _, err := f.db.Collection("families").InsertOne(ctx, fam); err != nil {
		f.t.Fatalf("failed to create test family: %v", err)
	}
	for _, m := range fam.Members {
		ref := models.FamilyRef{FamilyID: fam.ID, Role: m.Role, JoinedAt: now}
		if _, err := f.db.Collection("users").UpdateOne(ctx,
			bson.M{"_id": m.UserID},
			bson.M{"$push": bson.M{"families": ref}}); err != nil {
			f.t.Fatalf("failed to link test user to family: %v", err)
		}
	}
	return fam
}

// AddPlace appends p to the family. Zero ID, radius and notification
// settings are filled in with arrival and departure alerts enabled.
func (f *Fixtures) AddPlace(ctx context.Context, familyID primitive.ObjectID, p models.Place) models.Place {
	f.t.Helper()

	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	if p.Type == "" {
		p.Type = models.PlaceOther
	}
	if p.RadiusMeters == 0 {
		p.RadiusMeters = models.DefaultPlaceRadiusMeters
	}
	if !p.Notifications.ArrivalAlerts && !p.Notifications.DepartureAlerts {
		p.Notifications.ArrivalAlerts = true
		p.Notifications.DepartureAlerts = true
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if _, err := f.db.Collection("families").UpdateOne(ctx,
		bson.M{"_id": familyID},
		bson.M{"$push": bson.M{"places": p}, "$inc": bson.M{"version": 1}}); err != nil {
		f.t.Fatalf("failed to add test place: %v", err)
	}
	return p
}

// CreateLocation inserts an active sample for userID at c taken at ts.
func (f *Fixtures) CreateLocation(ctx context.Context, userID primitive.ObjectID, c models.Coordinates, ts time.Time) models.LocationSample {
	f.t.Helper()

	s := models.LocationSample{
		ID:                primitive.NewObjectID(),
		UserID:            userID,
		Coordinates:       c,
		Geo:               models.NewGeoPoint(c),
		Accuracy:          10,
		Timestamp:         ts.UTC(),
		LocationMethod:    models.MethodGPS,
		FamilyIDsSnapshot: []primitive.ObjectID{},
		IsActive:          true,
		CreatedAt:         time.Now().UTC(),
	}
	if _, err := f.db.Collection("locations").InsertOne(ctx, s); err != nil {
		f.t.Fatalf("failed to create test location: %v", err)
	}
	return s
}

// inviteCodeFor derives a 6-character code from an ObjectID's random tail.
func inviteCodeFor(id primitive.ObjectID) string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := id[len(id)-models.InviteCodeLength:]
	out := make([]byte, models.InviteCodeLength)
	for i := range out {
		out[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(out)
}
