// internal/domain/models/placestate.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PlaceVisit records that a user was last seen inside a family's place.
type PlaceVisit struct {
	FamilyID primitive.ObjectID `bson:"family_id"`
	PlaceID  primitive.ObjectID `bson:"place_id"`
	Since    time.Time          `bson:"since"`
}

// PlaceState is the last known set of places a user is inside.
// One document per user; _id is the user id. LastSampleAt is the
// timestamp of the newest sample evaluated into Inside.
type PlaceState struct {
	UserID       primitive.ObjectID `bson:"_id"`
	Inside       []PlaceVisit       `bson:"inside"`
	LastSampleAt time.Time          `bson:"last_sample_at,omitempty"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}
