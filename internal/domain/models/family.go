// internal/domain/models/family.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FamilyRole is a member's role within one family.
type FamilyRole string

const (
	RoleAdmin  FamilyRole = "admin"
	RoleMember FamilyRole = "member"
)

// IsValid reports whether r is a known role.
func (r FamilyRole) IsValid() bool {
	return r == RoleAdmin || r == RoleMember
}

// InviteCodeLength is the length of Family.InviteCode.
const InviteCodeLength = 6

// MemberColors is the palette assigned to members in join order.
var MemberColors = []string{
	"#3B82F6", "#EF4444", "#10B981", "#F59E0B",
	"#8B5CF6", "#EC4899", "#14B8A6", "#F97316",
}

// NotificationPrefs are a member's per-family notification choices.
type NotificationPrefs struct {
	LocationUpdates bool `bson:"location_updates" json:"locationUpdates"`
	PlaceAlerts     bool `bson:"place_alerts" json:"placeAlerts"`
	EmergencyAlerts bool `bson:"emergency_alerts" json:"emergencyAlerts"`
	BatteryAlerts   bool `bson:"battery_alerts" json:"batteryAlerts"`
}

// DefaultNotificationPrefs enables everything.
func DefaultNotificationPrefs() NotificationPrefs {
	return NotificationPrefs{LocationUpdates: true, PlaceAlerts: true, EmergencyAlerts: true, BatteryAlerts: true}
}

// FamilyMember is the authoritative record of a user's membership.
type FamilyMember struct {
	UserID            primitive.ObjectID `bson:"user_id" json:"userId"`
	Role              FamilyRole         `bson:"role" json:"role"`
	Color             string             `bson:"color" json:"color"`
	NotificationPrefs NotificationPrefs  `bson:"notification_prefs" json:"notificationPrefs"`
	JoinedAt          time.Time          `bson:"joined_at" json:"joinedAt"`
}

// FamilySettings are family-wide options.
type FamilySettings struct {
	AllowNewMembers     bool `bson:"allow_new_members" json:"allowNewMembers"`
	LocationHistoryDays int  `bson:"location_history_days" json:"locationHistoryDays"`
}

// DefaultFamilySettings is what a new family starts with.
func DefaultFamilySettings() FamilySettings {
	return FamilySettings{AllowNewMembers: true, LocationHistoryDays: 30}
}

// Family groups users who share locations with each other.
//
// NOTE:
//   - Members is unique per UserID and, when non-empty, holds at least one admin.
//   - Places are owned by the family; there is no separate places collection.
//   - Version increments on every write and guards concurrent replaces.
type Family struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name       string             `bson:"name" json:"name"`
	NameCI     string             `bson:"name_ci" json:"-"`
	InviteCode string             `bson:"invite_code" json:"inviteCode"`
	Members    []FamilyMember     `bson:"members" json:"members"`
	Places     []Place            `bson:"places" json:"places"`
	Settings   FamilySettings     `bson:"settings" json:"settings"`
	CreatedBy  primitive.ObjectID `bson:"created_by" json:"createdBy"`
	Version    int64              `bson:"version" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}
