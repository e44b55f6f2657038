// internal/app/features/account/handler.go
package account

import (
	"context"
	"errors"
	"net/http"

	"github.com/josefm09/tracker/internal/app/services/familysvc"
	userstore "github.com/josefm09/tracker/internal/app/store/users"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/auditlog"
	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"github.com/josefm09/tracker/internal/app/system/validation"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Sessions establishes and clears the browser session cookie.
type Sessions interface {
	StartSession(w http.ResponseWriter, r *http.Request) (*auth.SessionUser, error)
	EndSession(w http.ResponseWriter, r *http.Request) error
}

// Disconnector drops a user's live connections.
type Disconnector interface {
	CloseUser(userID primitive.ObjectID) int
}

// Handler is the dependency container for the signed-in user's own
// account: profile, settings, sessions and deactivation.
type Handler struct {
	Users    *userstore.Store
	Families *familysvc.Service
	Sessions Sessions
	Conns    Disconnector
	Audit    *auditlog.Logger
	Log      *zap.Logger
}

// NewHandler constructs the account handler. conns may be nil.
func NewHandler(users *userstore.Store, families *familysvc.Service, sessions Sessions, conns Disconnector, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		Users:    users,
		Families: families,
		Sessions: sessions,
		Conns:    conns,
		Audit:    audit,
		Log:      logger,
	}
}

// decode reads and validates a JSON body.
func decode(r *http.Request, v any) error {
	if err := respond.DecodeJSON(r, v); err != nil {
		return err
	}
	if err := validation.Struct(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "account", err.Error(), err)
	}
	return nil
}

// storeErr maps user store failures onto the error taxonomy.
func storeErr(op string, err error) error {
	if errors.Is(err, userstore.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, op, "account not found", err)
	}
	return apperr.Wrap(apperr.KindStorage, op, "failed to update account", err)
}

func (h *Handler) me(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.Wrap(apperr.KindNotFound, "account", "account not found", err)
		}
		return nil, apperr.Wrap(apperr.KindStorage, "account", "failed to load account", err)
	}
	if !u.IsActive() {
		return nil, apperr.New(apperr.KindNotFound, "account", "account not found")
	}
	return u, nil
}
