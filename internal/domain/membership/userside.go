package membership

import (
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RefFor builds the user-side mirror of m in family familyID.
func RefFor(familyID primitive.ObjectID, m models.FamilyMember) models.FamilyRef {
	return models.FamilyRef{FamilyID: familyID, Role: m.Role, JoinedAt: m.JoinedAt}
}

// HasFamily reports whether u lists familyID among its families.
func HasFamily(u *models.User, familyID primitive.ObjectID) bool {
	for _, ref := range u.Families {
		if ref.FamilyID == familyID {
			return true
		}
	}
	return false
}

// SharedFamilies returns the family ids a and b both belong to, in a's order.
func SharedFamilies(a, b *models.User) []primitive.ObjectID {
	var shared []primitive.ObjectID
	for _, ref := range a.Families {
		if HasFamily(b, ref.FamilyID) {
			shared = append(shared, ref.FamilyID)
		}
	}
	return shared
}
