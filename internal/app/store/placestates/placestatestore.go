// internal/app/store/placestates/placestatestore.go
package placestatestore

import (
	"context"
	"errors"
	"time"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store persists which places each user was last seen inside, so place
// transitions survive restarts and are shared across server instances.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("place_states")}
}

// Get returns the user's state. A user with no stored state gets an empty
// one with a zero LastSampleAt.
func (s *Store) Get(ctx context.Context, userID primitive.ObjectID) (models.PlaceState, error) {
	var st models.PlaceState
	err := s.c.FindOne(ctx, bson.M{"_id": userID}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.PlaceState{UserID: userID, Inside: []models.PlaceVisit{}}, nil
	}
	if err != nil {
		return models.PlaceState{}, err
	}
	if st.Inside == nil {
		st.Inside = []models.PlaceVisit{}
	}
	return st, nil
}

// Save replaces the user's visits with the result of evaluating a sample
// taken at sampleAt. It reports false, and writes nothing, when a newer
// sample has already been saved.
func (s *Store) Save(ctx context.Context, userID primitive.ObjectID, sampleAt time.Time, inside []models.PlaceVisit) (bool, error) {
	if inside == nil {
		inside = []models.PlaceVisit{}
	}
	filter := bson.M{
		"_id": userID,
		"$or": bson.A{
			bson.M{"last_sample_at": bson.M{"$lte": sampleAt}},
			bson.M{"last_sample_at": bson.M{"$exists": false}},
		},
	}
	update := bson.M{"$set": bson.M{
		"inside":         inside,
		"last_sample_at": sampleAt,
		"updated_at":     time.Now().UTC(),
	}}
	res, err := s.c.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// The document exists with a newer last_sample_at, so the upsert
		// collided on _id.
		if wafflemongo.IsDup(err) {
			return false, nil
		}
		return false, err
	}
	return res.MatchedCount > 0 || res.UpsertedCount > 0, nil
}

// ForgetFamily drops the user's visits to places of familyID.
func (s *Store) ForgetFamily(ctx context.Context, userID, familyID primitive.ObjectID) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"inside": bson.M{"family_id": familyID}}})
	return err
}

// ForgetPlace drops every user's visit to placeID.
func (s *Store) ForgetPlace(ctx context.Context, placeID primitive.ObjectID) error {
	_, err := s.c.UpdateMany(ctx,
		bson.M{"inside.place_id": placeID},
		bson.M{"$pull": bson.M{"inside": bson.M{"place_id": placeID}}})
	return err
}

// Delete removes the user's state.
func (s *Store) Delete(ctx context.Context, userID primitive.ObjectID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": userID})
	return err
}
