package userstore

import (
	"context"

	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo"
)

// Fetcher implements auth.UserFetcher. It provisions a user record the
// first time an identity is seen and rejects deactivated accounts.
type Fetcher struct {
	store *Store
}

// NewFetcher creates a UserFetcher that queries the given database.
func NewFetcher(db *mongo.Database) *Fetcher {
	return &Fetcher{store: New(db)}
}

// FetchUser returns the identity with the stored display name, or nil when
// the account is deactivated or cannot be loaded.
func (f *Fetcher) FetchUser(ctx context.Context, id *auth.SessionUser) *auth.SessionUser {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Short())
	defer cancel()

	u, err := f.store.EnsureFromIdentity(ctx, id.ObjectID(), id.Name, id.Email)
	if err != nil || !u.IsActive() {
		return nil
	}
	return &auth.SessionUser{
		ID:        u.ID.Hex(),
		Name:      u.FullName,
		Email:     u.Email,
		ExpiresAt: id.ExpiresAt,
	}
}
