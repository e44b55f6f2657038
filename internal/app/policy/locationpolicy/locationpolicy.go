// internal/app/policy/locationpolicy/locationpolicy.go
package locationpolicy

import (
	"github.com/josefm09/tracker/internal/domain/membership"
	"github.com/josefm09/tracker/internal/domain/models"
)

// Category is a kind of data one user may ask to see about another.
type Category string

const (
	CurrentLocation Category = "currentLocation"
	LocationHistory Category = "locationHistory"
	Profile         Category = "profile"
)

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	switch c {
	case CurrentLocation, LocationHistory, Profile:
		return true
	}
	return false
}

// CanAccess reports whether requester may see category data about target:
//   - users can always see their own data
//   - otherwise they must share at least one family
//   - and the target's settings must disclose that category to family
//
// Both users must already be loaded; CanAccess performs no I/O.
func CanAccess(requester, target *models.User, category Category) bool {
	if requester == nil || target == nil {
		return false
	}
	if requester.ID == target.ID {
		return true
	}
	if !SharesFamily(requester, target) {
		return false
	}
	return DisclosedToFamily(target, category)
}

// SharesFamily reports whether a and b belong to at least one common family.
func SharesFamily(a, b *models.User) bool {
	return len(membership.SharedFamilies(a, b)) > 0
}

// DisclosedToFamily reports whether target's settings expose category to
// fellow family members. Broadcasts to a family channel use this directly
// because every subscriber of that channel already shares the family.
func DisclosedToFamily(target *models.User, category Category) bool {
	visible := target.PrivacySettings.VisibleToFamily
	switch category {
	case CurrentLocation:
		return visible && target.LocationSettings.ShareLocation
	case LocationHistory:
		return visible && target.PrivacySettings.ShareLocationHistory
	case Profile:
		return visible
	}
	return false
}
