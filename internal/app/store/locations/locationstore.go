// internal/app/store/locations/locationstore.go
package locationstore

import (
	"context"
	"errors"
	"time"

	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MaxHistoryLimit caps a single history read.
const MaxHistoryLimit = 1000

var ErrNotFound = errors.New("location not found")

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("locations")}
}

// Create stores a sample as active and fills in its ID, GeoJSON point and
// creation time.
func (s *Store) Create(ctx context.Context, sample models.LocationSample) (models.LocationSample, error) {
	if sample.ID.IsZero() {
		sample.ID = primitive.NewObjectID()
	}
	sample.Geo = models.NewGeoPoint(sample.Coordinates)
	sample.IsActive = true
	if sample.FamilyIDsSnapshot == nil {
		sample.FamilyIDsSnapshot = []primitive.ObjectID{}
	}
	sample.CreatedAt = time.Now().UTC()

	if _, err := s.c.InsertOne(ctx, sample); err != nil {
		return models.LocationSample{}, err
	}
	return sample, nil
}

// Latest returns the user's most recent active sample by timestamp.
// Returns mongo.ErrNoDocuments when the user has none.
func (s *Store) Latest(ctx context.Context, userID primitive.ObjectID) (*models.LocationSample, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	var out models.LocationSample
	err := s.c.FindOne(ctx, bson.M{"user_id": userID, "is_active": true}, opts).Decode(&out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryQuery selects a window of a user's active samples.
type HistoryQuery struct {
	UserID primitive.ObjectID
	From   time.Time // inclusive; zero means unbounded
	To     time.Time // inclusive; zero means unbounded
	Limit  int64     // clamped to 1..MaxHistoryLimit
}

// History returns samples newest first.
func (s *Store) History(ctx context.Context, q HistoryQuery) ([]models.LocationSample, error) {
	filter := bson.M{"user_id": q.UserID, "is_active": true}
	ts := bson.M{}
	if !q.From.IsZero() {
		ts["$gte"] = q.From.UTC()
	}
	if !q.To.IsZero() {
		ts["$lte"] = q.To.UTC()
	}
	if len(ts) > 0 {
		filter["timestamp"] = ts
	}

	limit := q.Limit
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)

	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.LocationSample{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NearbyHit is the newest qualifying sample of one user with its distance
// from the query point.
type NearbyHit struct {
	Sample         models.LocationSample `bson:"doc"`
	DistanceMeters float64               `bson:"distance"`
}

// Nearby returns, per user in userIDs, the newest active sample recorded
// since `since`, when that sample lies within maxMeters of center. A user
// whose newest sample is farther away is left out even if an older one
// was close. Results are ordered by distance.
func (s *Store) Nearby(ctx context.Context, center models.Coordinates, maxMeters float64, userIDs []primitive.ObjectID, since time.Time) ([]NearbyHit, error) {
	if len(userIDs) == 0 {
		return []NearbyHit{}, nil
	}
	// $geoNear has to come first; it only annotates distance here so the
	// radius can be applied to each user's newest sample.
	pipeline := mongo.Pipeline{
		{{Key: "$geoNear", Value: bson.M{
			"near":          models.NewGeoPoint(center),
			"key":           "geo",
			"distanceField": "distance",
			"spherical":     true,
			"query": bson.M{
				"user_id":   bson.M{"$in": userIDs},
				"is_active": true,
				"timestamp": bson.M{"$gte": since.UTC()},
			},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":      "$user_id",
			"doc":      bson.M{"$first": "$$ROOT"},
			"distance": bson.M{"$first": "$distance"},
		}}},
		{{Key: "$match", Value: bson.M{"distance": bson.M{"$lte": maxMeters}}}},
		{{Key: "$sort", Value: bson.D{{Key: "distance", Value: 1}}}},
	}

	cur, err := s.c.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []NearbyHit{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDelete hides one of the user's samples.
func (s *Store) SoftDelete(ctx context.Context, userID, id primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID, "is_active": true},
		bson.M{"$set": bson.M{"is_active": false}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteHistory hides the user's samples taken before `before`, or all
// of them when before is zero. It returns how many were hidden.
func (s *Store) SoftDeleteHistory(ctx context.Context, userID primitive.ObjectID, before time.Time) (int64, error) {
	filter := bson.M{"user_id": userID, "is_active": true}
	if !before.IsZero() {
		filter["timestamp"] = bson.M{"$lt": before.UTC()}
	}
	res, err := s.c.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"is_active": false}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
