package userstore

import (
	"context"
	"errors"
	"time"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/josefm09/tracker/internal/app/system/normalize"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrDuplicateEmail is returned when another user already has the email.
	ErrDuplicateEmail = errors.New("a user with this email already exists")
	// ErrNotFound is returned by writes that matched no user.
	ErrNotFound = errors.New("user not found")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

// GetByID loads a user by ObjectID. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail looks up a user by case-insensitive email. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListByIDs returns the users with the given ids in no particular order.
// Missing ids are skipped.
func (s *Store) ListByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func applyDefaults(u *models.User) {
	if u.Status == "" {
		u.Status = models.UserStatusActive
	}
	if u.LocationSettings == (models.LocationSettings{}) {
		u.LocationSettings = models.DefaultLocationSettings()
	}
	if u.PrivacySettings == (models.PrivacySettings{}) {
		u.PrivacySettings = models.DefaultPrivacySettings()
	}
	if u.Families == nil {
		u.Families = []models.FamilyRef{}
	}
}

// Create inserts a new user. Zero-valued settings are replaced with the
// defaults; an ID is assigned when none is given.
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	u.FullName = normalize.Name(u.FullName)
	u.Email = normalize.Email(u.Email)
	applyDefaults(&u)

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, err
	}
	return u, nil
}

// EnsureFromIdentity returns the user with id, creating it with default
// settings from the identity provider's name and email on first sight.
// Existing users keep their stored name and settings.
func (s *Store) EnsureFromIdentity(ctx context.Context, id primitive.ObjectID, fullName, email string) (*models.User, error) {
	now := time.Now().UTC()
	email = normalize.Email(email)
	if email == "" {
		// unique index on email; synthesize a stable per-user value
		email = id.Hex() + "@users.invalid"
	}
	insert := bson.M{
		"full_name":         normalize.Name(fullName),
		"email":             email,
		"status":            models.UserStatusActive,
		"location_settings": models.DefaultLocationSettings(),
		"privacy_settings":  models.DefaultPrivacySettings(),
		"families":          []models.FamilyRef{},
		"created_at":        now,
		"updated_at":        now,
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var u models.User
	err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$setOnInsert": insert}, opts).Decode(&u)
	if err != nil {
		if wafflemongo.IsDup(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return &u, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Family references (user side of membership)                                |
*─────────────────────────────────────────────────────────────────────────────*/

// AddFamilyRef appends ref unless the user already references that family.
// Adding an existing reference is a no-op.
func (s *Store) AddFamilyRef(ctx context.Context, userID primitive.ObjectID, ref models.FamilyRef) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": userID, "families.family_id": bson.M{"$ne": ref.FamilyID}},
		bson.M{
			"$push": bson.M{"families": ref},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.existsOr(ctx, userID)
	}
	return nil
}

// RemoveFamilyRef drops the user's reference to familyID. Removing a
// reference that is not there is a no-op.
func (s *Store) RemoveFamilyRef(ctx context.Context, userID, familyID primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$pull": bson.M{"families": bson.M{"family_id": familyID}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFamilyRole updates the role recorded on the user's reference.
func (s *Store) SetFamilyRole(ctx context.Context, userID, familyID primitive.ObjectID, role models.FamilyRole) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": userID, "families.family_id": familyID},
		bson.M{"$set": bson.M{
			"families.$.role": role,
			"updated_at":      time.Now().UTC(),
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) existsOr(ctx context.Context, id primitive.ObjectID) error {
	n, err := s.c.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Settings, presence, deactivation                                           |
*─────────────────────────────────────────────────────────────────────────────*/

func (s *Store) setAndReturn(ctx context.Context, id primitive.ObjectID, set bson.M) (*models.User, error) {
	set["updated_at"] = time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var u models.User
	err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateLocationSettings replaces the user's location settings.
func (s *Store) UpdateLocationSettings(ctx context.Context, id primitive.ObjectID, ls models.LocationSettings) (*models.User, error) {
	return s.setAndReturn(ctx, id, bson.M{"location_settings": ls})
}

// UpdatePrivacySettings replaces the user's privacy settings.
func (s *Store) UpdatePrivacySettings(ctx context.Context, id primitive.ObjectID, ps models.PrivacySettings) (*models.User, error) {
	return s.setAndReturn(ctx, id, bson.M{"privacy_settings": ps})
}

// UpdateProfile sets the user's display name.
func (s *Store) UpdateProfile(ctx context.Context, id primitive.ObjectID, fullName string) (*models.User, error) {
	return s.setAndReturn(ctx, id, bson.M{"full_name": normalize.Name(fullName)})
}

// TouchLastActive records when the user was last seen online.
func (s *Store) TouchLastActive(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"last_active_at": at.UTC()}})
	return err
}

// Deactivate anonymizes the account and stops location sharing. Family
// references are left for the caller to unwind.
func (s *Store) Deactivate(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.setAndReturn(ctx, id, bson.M{
		"status":                             models.UserStatusDeactivated,
		"full_name":                          "Deleted User",
		"email":                              "deleted+" + id.Hex() + "@deleted.invalid",
		"location_settings.share_location":   false,
		"privacy_settings.visible_to_family": false,
	})
}
