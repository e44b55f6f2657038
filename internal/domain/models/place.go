// internal/domain/models/place.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PlaceType classifies a geofence.
type PlaceType string

const (
	PlaceHome   PlaceType = "home"
	PlaceWork   PlaceType = "work"
	PlaceSchool PlaceType = "school"
	PlaceOther  PlaceType = "other"
)

// IsValid reports whether t is a known place type.
func (t PlaceType) IsValid() bool {
	switch t {
	case PlaceHome, PlaceWork, PlaceSchool, PlaceOther:
		return true
	}
	return false
}

// DefaultPlaceRadiusMeters applies when a place is saved without a radius.
const DefaultPlaceRadiusMeters = 100.0

// PlaceNotifications decide who hears about arrivals and departures.
// An empty MembersToNotify means every family member.
type PlaceNotifications struct {
	ArrivalAlerts   bool                 `bson:"arrival_alerts" json:"arrivalAlerts"`
	DepartureAlerts bool                 `bson:"departure_alerts" json:"departureAlerts"`
	MembersToNotify []primitive.ObjectID `bson:"members_to_notify" json:"membersToNotify"`
}

// Place is a circular geofence owned by a family.
type Place struct {
	ID            primitive.ObjectID `bson:"_id" json:"id"`
	Name          string             `bson:"name" json:"name"`
	Type          PlaceType          `bson:"type" json:"type"`
	Address       string             `bson:"address,omitempty" json:"address,omitempty"`
	Coordinates   Coordinates        `bson:"coordinates" json:"coordinates"`
	RadiusMeters  float64            `bson:"radius_meters" json:"radiusMeters"`
	Notifications PlaceNotifications `bson:"notifications" json:"notifications"`
	CreatedBy     primitive.ObjectID `bson:"created_by" json:"createdBy"`
	CreatedAt     time.Time          `bson:"created_at" json:"createdAt"`
}

// Radius returns the effective radius in meters.
func (p Place) Radius() float64 {
	if p.RadiusMeters <= 0 {
		return DefaultPlaceRadiusMeters
	}
	return p.RadiusMeters
}
