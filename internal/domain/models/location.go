// internal/domain/models/location.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Coordinates are WGS84 degrees.
type Coordinates struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}

// GeoPoint is the GeoJSON form stored next to Coordinates so the
// 2dsphere index can serve proximity queries.
type GeoPoint struct {
	Type        string    `bson:"type" json:"type"`
	Coordinates []float64 `bson:"coordinates" json:"coordinates"` // [lon, lat]
}

// NewGeoPoint converts c to a GeoJSON point.
func NewGeoPoint(c Coordinates) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: []float64{c.Longitude, c.Latitude}}
}

// LocationMethod is how the device obtained a fix.
type LocationMethod string

const (
	MethodGPS     LocationMethod = "gps"
	MethodNetwork LocationMethod = "network"
	MethodPassive LocationMethod = "passive"
	MethodFused   LocationMethod = "fused"
)

// Battery is the device battery state at sample time.
type Battery struct {
	Level      float64 `bson:"level" json:"level"`
	IsCharging bool    `bson:"is_charging" json:"isCharging"`
}

// DeviceInfo describes the reporting device.
type DeviceInfo struct {
	Platform   string `bson:"platform,omitempty" json:"platform,omitempty"`
	Model      string `bson:"model,omitempty" json:"model,omitempty"`
	OSVersion  string `bson:"os_version,omitempty" json:"osVersion,omitempty"`
	AppVersion string `bson:"app_version,omitempty" json:"appVersion,omitempty"`
}

// ResolvedPlace is the place a sample was tagged with at write time.
type ResolvedPlace struct {
	PlaceID  primitive.ObjectID `bson:"place_id" json:"placeId"`
	FamilyID primitive.ObjectID `bson:"family_id" json:"familyId"`
	Name     string             `bson:"name" json:"name"`
	Type     PlaceType          `bson:"type" json:"type"`
}

// LocationSample is one reported position.
//
// NOTE:
//   - Samples are immutable once written; only IsActive is ever toggled.
//   - FamilyIDsSnapshot is copied from the owner's families at write time
//     and is never recomputed.
//   - CreatedAt carries the retention TTL index.
type LocationSample struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID           primitive.ObjectID `bson:"user_id" json:"userId"`
	Coordinates      Coordinates        `bson:"coordinates" json:"coordinates"`
	Geo              GeoPoint           `bson:"geo" json:"-"`
	Accuracy         float64            `bson:"accuracy" json:"accuracy"`
	Altitude         *float64           `bson:"altitude,omitempty" json:"altitude,omitempty"`
	AltitudeAccuracy *float64           `bson:"altitude_accuracy,omitempty" json:"altitudeAccuracy,omitempty"`
	Heading          *float64           `bson:"heading,omitempty" json:"heading,omitempty"`
	Speed            *float64           `bson:"speed,omitempty" json:"speed,omitempty"`
	Timestamp        time.Time          `bson:"timestamp" json:"timestamp"`
	Battery          *Battery           `bson:"battery,omitempty" json:"battery,omitempty"`
	DeviceInfo       *DeviceInfo        `bson:"device_info,omitempty" json:"deviceInfo,omitempty"`
	LocationMethod   LocationMethod     `bson:"location_method" json:"locationMethod"`
	IsManual         bool               `bson:"is_manual" json:"isManual"`
	ResolvedPlace    *ResolvedPlace     `bson:"resolved_place,omitempty" json:"resolvedPlace,omitempty"`

	FamilyIDsSnapshot []primitive.ObjectID `bson:"family_ids_snapshot" json:"familyIds"`
	IsActive          bool                 `bson:"is_active" json:"isActive"`
	CreatedAt         time.Time            `bson:"created_at" json:"createdAt"`
}

// PublicLocation is the view of a sample sent to other family members.
// Device details and family attribution stay server-side.
type PublicLocation struct {
	ID            primitive.ObjectID `json:"id"`
	UserID        primitive.ObjectID `json:"userId"`
	Coordinates   Coordinates        `json:"coordinates"`
	Accuracy      float64            `json:"accuracy"`
	Heading       *float64           `json:"heading,omitempty"`
	Speed         *float64           `json:"speed,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	Battery       *Battery           `json:"battery,omitempty"`
	ResolvedPlace *ResolvedPlace     `json:"resolvedPlace,omitempty"`
	IsManual      bool               `json:"isManual"`
}

// Public returns the sanitized view of s.
func (s LocationSample) Public() PublicLocation {
	return PublicLocation{
		ID:            s.ID,
		UserID:        s.UserID,
		Coordinates:   s.Coordinates,
		Accuracy:      s.Accuracy,
		Heading:       s.Heading,
		Speed:         s.Speed,
		Timestamp:     s.Timestamp,
		Battery:       s.Battery,
		ResolvedPlace: s.ResolvedPlace,
		IsManual:      s.IsManual,
	}
}
