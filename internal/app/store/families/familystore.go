// internal/app/store/families/familystore.go
package familystore

import (
	"context"
	"errors"
	"time"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/josefm09/tracker/internal/app/system/normalize"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrDuplicateInviteCode = errors.New("invite code already in use")
	ErrVersionConflict     = errors.New("family was modified concurrently")
	ErrNotFound            = errors.New("family not found")
)

// MaxMutateAttempts bounds the read-modify-write retries in Mutate.
const MaxMutateAttempts = 5

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("families")}
}

// Create inserts f with version 1. The caller supplies the invite code.
func (s *Store) Create(ctx context.Context, f models.Family) (models.Family, error) {
	now := time.Now().UTC()
	if f.ID.IsZero() {
		f.ID = primitive.NewObjectID()
	}
	f.Name = normalize.Name(f.Name)
	f.NameCI = text.Fold(f.Name)
	f.InviteCode = normalize.InviteCode(f.InviteCode)
	if f.Members == nil {
		f.Members = []models.FamilyMember{}
	}
	if f.Places == nil {
		f.Places = []models.Place{}
	}
	f.Version = 1
	f.CreatedAt = now
	f.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, f); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Family{}, ErrDuplicateInviteCode
		}
		return models.Family{}, err
	}
	return f, nil
}

// GetByID returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Family, error) {
	var f models.Family
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetByInviteCode returns mongo.ErrNoDocuments if no family has code.
func (s *Store) GetByInviteCode(ctx context.Context, code string) (*models.Family, error) {
	var f models.Family
	if err := s.c.FindOne(ctx, bson.M{"invite_code": normalize.InviteCode(code)}).Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ListByIDs returns the families with the given ids in the order of ids.
// Ids with no family are skipped.
func (s *Store) ListByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Family, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var found []models.Family
	if err := cur.All(ctx, &found); err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]models.Family, len(found))
	for _, f := range found {
		byID[f.ID] = f
	}
	out := make([]models.Family, 0, len(found))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
			delete(byID, id)
		}
	}
	return out, nil
}

// ListForMember returns every family whose member list includes userID,
// ordered by name.
func (s *Store) ListForMember(ctx context.Context, userID primitive.ObjectID) ([]models.Family, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name_ci", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"members.user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Family
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Replace writes f if its stored version still equals f.Version, then
// bumps f.Version. A stale f yields ErrVersionConflict.
func (s *Store) Replace(ctx context.Context, f *models.Family) error {
	next := *f
	next.Version = f.Version + 1
	next.UpdatedAt = time.Now().UTC()

	res, err := s.c.ReplaceOne(ctx, bson.M{"_id": f.ID, "version": f.Version}, next)
	if err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicateInviteCode
		}
		return err
	}
	if res.MatchedCount == 0 {
		n, err := s.c.CountDocuments(ctx, bson.M{"_id": f.ID}, options.Count().SetLimit(1))
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	*f = next
	return nil
}

// Mutate loads the family, applies fn and writes the result, retrying from
// a fresh read on version conflicts. An error from fn aborts without
// writing and is returned as is.
func (s *Store) Mutate(ctx context.Context, id primitive.ObjectID, fn func(*models.Family) error) (*models.Family, error) {
	for attempt := 0; attempt < MaxMutateAttempts; attempt++ {
		f, err := s.GetByID(ctx, id)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if err := fn(f); err != nil {
			return nil, err
		}
		err = s.Replace(ctx, f)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, ErrVersionConflict
}

// Delete removes the family document.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
