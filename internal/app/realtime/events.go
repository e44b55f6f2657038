// internal/app/realtime/events.go
package realtime

import (
	"time"

	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Inbound event names.
const (
	InLocationUpdate     = "location_update"
	InEmergencyAlert     = "emergency_alert"
	InJoinFamily         = "join_family"
	InLeaveFamily        = "leave_family"
	InGetFamilyLocations = "get_family_locations"
	InBatteryAlert       = "battery_alert"
)

// Outbound event names.
const (
	OutMemberLocationUpdate = "member_location_update"
	OutEmergencyAlert       = "emergency_alert"
	OutPlaceAlert           = "place_alert"
	OutBatteryAlert         = "battery_alert"
	OutUserStatusChange     = "user_status_change"
	OutFamilyLocations      = "family_locations"
	OutJoinedFamily         = "joined_family"
	OutLeftFamily           = "left_family"
	OutError                = "error"
)

// Presence values carried by user_status_change.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event is the envelope written to a connection. Data is encoded as JSON
// by the transport.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// MemberLocationUpdate is the payload of member_location_update.
type MemberLocationUpdate struct {
	User      models.PublicUser     `json:"user"`
	Location  models.PublicLocation `json:"location"`
	FamilyIDs []primitive.ObjectID  `json:"familyIds"`
}

// EmergencyAlert is the payload of emergency_alert.
type EmergencyAlert struct {
	AlertID   string                 `json:"alertId"`
	User      models.PublicUser      `json:"user"`
	Location  *models.PublicLocation `json:"location"`
	Message   string                 `json:"message,omitempty"`
	FamilyIDs []primitive.ObjectID   `json:"familyIds"`
	Timestamp time.Time              `json:"timestamp"`
}

// BatteryAlert is the payload of battery_alert.
type BatteryAlert struct {
	User      models.PublicUser    `json:"user"`
	Battery   models.Battery       `json:"battery"`
	FamilyIDs []primitive.ObjectID `json:"familyIds"`
	Timestamp time.Time            `json:"timestamp"`
}

// UserStatusChange is the payload of user_status_change.
type UserStatusChange struct {
	UserID     primitive.ObjectID `json:"userId"`
	Status     string             `json:"status"`
	LastActive *time.Time         `json:"lastActive,omitempty"`
}

// FamilyRoomAck is the payload of joined_family and left_family.
type FamilyRoomAck struct {
	FamilyID primitive.ObjectID `json:"familyId"`
}

// MemberLocation is one member entry of family_locations. Location is nil
// when the member has no active sample or does not share it.
type MemberLocation struct {
	User     models.PublicUser      `json:"user"`
	Role     models.FamilyRole      `json:"role"`
	Color    string                 `json:"color"`
	Online   bool                   `json:"online"`
	Location *models.PublicLocation `json:"location"`
}

// FamilyLocations groups the visible members of one family.
type FamilyLocations struct {
	FamilyID primitive.ObjectID `json:"familyId"`
	Name     string             `json:"name"`
	Members  []MemberLocation   `json:"members"`
}

// FamilyLocationsReply is the payload of family_locations.
type FamilyLocationsReply struct {
	Families []FamilyLocations `json:"families"`
}

// ErrorPayload is the payload of error. Event names the inbound event
// that failed.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// ErrorEvent converts a failed inbound event into an error event.
// Permission and not-found failures keep distinct codes.
func ErrorEvent(inbound string, err error) Event {
	return Event{Name: OutError, Data: ErrorPayload{
		Code:    string(apperr.KindOf(err)),
		Message: apperr.Message(err),
		Event:   inbound,
	}}
}
