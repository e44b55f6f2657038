// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User status values.
const (
	UserStatusActive      = "active"
	UserStatusDeactivated = "deactivated"
)

// LocationAccuracy is the precision a user asks their device to report at.
type LocationAccuracy string

const (
	AccuracyHigh   LocationAccuracy = "high"
	AccuracyMedium LocationAccuracy = "medium"
	AccuracyLow    LocationAccuracy = "low"
)

// Bounds for LocationSettings.UpdateFrequencyMs.
const (
	MinUpdateFrequencyMs     = 5000
	MaxUpdateFrequencyMs     = 300000
	DefaultUpdateFrequencyMs = 30000
)

// LocationSettings control whether and how often a user reports location.
type LocationSettings struct {
	ShareLocation     bool             `bson:"share_location" json:"shareLocation"`
	LocationAccuracy  LocationAccuracy `bson:"location_accuracy" json:"locationAccuracy" validate:"oneof=high medium low"`
	UpdateFrequencyMs int              `bson:"update_frequency_ms" json:"updateFrequencyMs" validate:"gte=5000,lte=300000"`
}

// DefaultLocationSettings is what a newly registered user starts with.
func DefaultLocationSettings() LocationSettings {
	return LocationSettings{
		ShareLocation:     true,
		LocationAccuracy:  AccuracyHigh,
		UpdateFrequencyMs: DefaultUpdateFrequencyMs,
	}
}

// PrivacySettings control what family members may see about a user.
type PrivacySettings struct {
	ShareLocationHistory bool `bson:"share_location_history" json:"shareLocationHistory"`
	AllowEmergencyAlerts bool `bson:"allow_emergency_alerts" json:"allowEmergencyAlerts"`
	VisibleToFamily      bool `bson:"visible_to_family" json:"visibleToFamily"`
}

// DefaultPrivacySettings is what a newly registered user starts with.
func DefaultPrivacySettings() PrivacySettings {
	return PrivacySettings{
		ShareLocationHistory: true,
		AllowEmergencyAlerts: true,
		VisibleToFamily:      true,
	}
}

// FamilyRef is the user-side mirror of a FamilyMember entry.
// Role must always equal the role stored on the family document.
type FamilyRef struct {
	FamilyID primitive.ObjectID `bson:"family_id" json:"familyId"`
	Role     FamilyRole         `bson:"role" json:"role"`
	JoinedAt time.Time          `bson:"joined_at" json:"joinedAt"`
}

// User is an account that reports and views locations.
//
// NOTE:
//   - Families is ordered by join time and unique by FamilyID. It is written
//     only by the family service, together with the family document.
//   - Users are never hard-deleted; deactivation anonymizes Email.
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName string             `bson:"full_name" json:"fullName"`
	Email    string             `bson:"email" json:"email"`
	Status   string             `bson:"status" json:"status"`

	LocationSettings LocationSettings `bson:"location_settings" json:"locationSettings"`
	PrivacySettings  PrivacySettings  `bson:"privacy_settings" json:"privacySettings"`
	Families         []FamilyRef      `bson:"families" json:"families"`

	LastActiveAt *time.Time `bson:"last_active_at,omitempty" json:"lastActiveAt,omitempty"`
	CreatedAt    time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updatedAt"`
}

// IsActive reports whether the account has not been deactivated.
func (u *User) IsActive() bool {
	return u.Status == "" || u.Status == UserStatusActive
}

// FamilyIDs returns the user's family ids in membership order.
func (u *User) FamilyIDs() []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(u.Families))
	for _, f := range u.Families {
		ids = append(ids, f.FamilyID)
	}
	return ids
}

// PublicUser is the minimal user info attached to broadcast events.
type PublicUser struct {
	ID       primitive.ObjectID `json:"id"`
	FullName string             `json:"fullName"`
}

// Public returns the minimal view of u.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, FullName: u.FullName}
}
