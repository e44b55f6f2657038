// Package membership holds the family/user membership rules.
//
// Everything here works on already-loaded documents and never touches the
// database. Mutations validate first and leave the family unchanged when
// they return an error.
package membership

import (
	"errors"

	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrAlreadyMember = errors.New("user is already a member of this family")
	ErrNotAMember    = errors.New("user is not a member of this family")
	ErrLastAdmin     = errors.New("cannot remove or demote the last admin of a family")
	ErrInvalidRole   = errors.New(`role must be "admin" or "member"`)
	ErrPlaceExists   = errors.New("place already exists in this family")
	ErrPlaceNotFound = errors.New("place not found in this family")
)

// IsMember reports whether userID has a member record in f.
func IsMember(f *models.Family, userID primitive.ObjectID) bool {
	_, ok := Member(f, userID)
	return ok
}

// IsAdmin reports whether userID is an admin of f.
func IsAdmin(f *models.Family, userID primitive.ObjectID) bool {
	m, ok := Member(f, userID)
	return ok && m.Role == models.RoleAdmin
}

// Member returns userID's member record in f.
func Member(f *models.Family, userID primitive.ObjectID) (models.FamilyMember, bool) {
	if i := memberIndex(f, userID); i >= 0 {
		return f.Members[i], true
	}
	return models.FamilyMember{}, false
}

// MemberIDs returns the ids of all members of f in member order.
func MemberIDs(f *models.Family) []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(f.Members))
	for _, m := range f.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// FamiliesOf returns the ids of u's families in membership order.
func FamiliesOf(u *models.User) []primitive.ObjectID {
	return u.FamilyIDs()
}

// PlacesOf returns the places of f in insertion order.
func PlacesOf(f *models.Family) []models.Place {
	return f.Places
}

// AdminCount returns how many admins f has.
func AdminCount(f *models.Family) int {
	n := 0
	for _, m := range f.Members {
		if m.Role == models.RoleAdmin {
			n++
		}
	}
	return n
}

// NextColor picks the palette color for the next member to join f.
func NextColor(f *models.Family) string {
	return models.MemberColors[len(f.Members)%len(models.MemberColors)]
}

// AddMember appends m to f.
func AddMember(f *models.Family, m models.FamilyMember) error {
	if !m.Role.IsValid() {
		return ErrInvalidRole
	}
	if IsMember(f, m.UserID) {
		return ErrAlreadyMember
	}
	// The first member of a family is always its admin.
	if len(f.Members) == 0 {
		m.Role = models.RoleAdmin
	}
	if m.Color == "" {
		m.Color = NextColor(f)
	}
	f.Members = append(f.Members, m)
	return nil
}

// RemoveMember deletes userID's record from f. Removing the only admin
// while other members remain fails with ErrLastAdmin; removing the sole
// remaining member is allowed and leaves f empty.
func RemoveMember(f *models.Family, userID primitive.ObjectID) (models.FamilyMember, error) {
	i := memberIndex(f, userID)
	if i < 0 {
		return models.FamilyMember{}, ErrNotAMember
	}
	removed := f.Members[i]
	if removed.Role == models.RoleAdmin && AdminCount(f) == 1 && len(f.Members) > 1 {
		return models.FamilyMember{}, ErrLastAdmin
	}
	f.Members = append(f.Members[:i:i], f.Members[i+1:]...)
	return removed, nil
}

// Position returns userID's index in f.Members, or -1.
func Position(f *models.Family, userID primitive.ObjectID) int {
	return memberIndex(f, userID)
}

// RestoreMember puts a previously removed m back at index at, clamped to
// the current member list, so member order is what it was before.
func RestoreMember(f *models.Family, m models.FamilyMember, at int) error {
	if IsMember(f, m.UserID) {
		return ErrAlreadyMember
	}
	if at < 0 || at > len(f.Members) {
		at = len(f.Members)
	}
	f.Members = append(f.Members[:at], append([]models.FamilyMember{m}, f.Members[at:]...)...)
	return nil
}

// UpdateRole changes userID's role in f. Demoting the last admin fails.
// It returns the previous role.
func UpdateRole(f *models.Family, userID primitive.ObjectID, role models.FamilyRole) (models.FamilyRole, error) {
	if !role.IsValid() {
		return "", ErrInvalidRole
	}
	i := memberIndex(f, userID)
	if i < 0 {
		return "", ErrNotAMember
	}
	prev := f.Members[i].Role
	if prev == models.RoleAdmin && role != models.RoleAdmin && AdminCount(f) == 1 {
		return "", ErrLastAdmin
	}
	f.Members[i].Role = role
	return prev, nil
}

// AddPlace appends p to f. The caller assigns p.ID.
func AddPlace(f *models.Family, p models.Place) error {
	for _, existing := range f.Places {
		if existing.ID == p.ID {
			return ErrPlaceExists
		}
	}
	if p.RadiusMeters <= 0 {
		p.RadiusMeters = models.DefaultPlaceRadiusMeters
	}
	if !p.Type.IsValid() {
		p.Type = models.PlaceOther
	}
	p.Notifications.MembersToNotify = onlyMembers(f, p.Notifications.MembersToNotify)
	f.Places = append(f.Places, p)
	return nil
}

// RemovePlace deletes the place with placeID from f and returns it.
func RemovePlace(f *models.Family, placeID primitive.ObjectID) (models.Place, error) {
	for i, p := range f.Places {
		if p.ID == placeID {
			f.Places = append(f.Places[:i:i], f.Places[i+1:]...)
			return p, nil
		}
	}
	return models.Place{}, ErrPlaceNotFound
}

func memberIndex(f *models.Family, userID primitive.ObjectID) int {
	for i, m := range f.Members {
		if m.UserID == userID {
			return i
		}
	}
	return -1
}

// onlyMembers drops ids that are not members of f and de-duplicates the rest.
func onlyMembers(f *models.Family, ids []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]bool, len(ids))
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if seen[id] || !IsMember(f, id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
