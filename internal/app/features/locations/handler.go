// internal/app/features/locations/handler.go
package locations

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/josefm09/tracker/internal/app/services/ingest"
	familystore "github.com/josefm09/tracker/internal/app/store/families"
	locationstore "github.com/josefm09/tracker/internal/app/store/locations"
	userstore "github.com/josefm09/tracker/internal/app/store/users"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/auditlog"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Ingester stores a submitted sample.
type Ingester interface {
	Ingest(ctx context.Context, in ingest.Input) (models.LocationSample, error)
	RetryAfter() time.Duration
}

// Handler is the dependency container for the location endpoints.
type Handler struct {
	Users     *userstore.Store
	Families  *familystore.Store
	Locations *locationstore.Store
	Ingest    Ingester
	Audit     *auditlog.Logger
	Log       *zap.Logger

	now func() time.Time
}

// NewHandler builds the handler from the application database.
func NewHandler(db *mongo.Database, ingester Ingester, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		Users:     userstore.New(db),
		Families:  familystore.New(db),
		Locations: locationstore.New(db),
		Ingest:    ingester,
		Audit:     audit,
		Log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// idParam parses a hex ObjectID URL parameter.
func idParam(r *http.Request, name string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(chi.URLParam(r, name))
	if err != nil {
		return primitive.NilObjectID, apperr.New(apperr.KindValidation, "locations", name+" is not a valid id")
	}
	return oid, nil
}

// loadUser returns an active user or a NotFound error.
func (h *Handler) loadUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	u, err := h.Users.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.New(apperr.KindNotFound, "locations", "user not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "locations", "failed to load user", err)
	}
	if !u.IsActive() {
		return nil, apperr.New(apperr.KindNotFound, "locations", "user not found")
	}
	return u, nil
}
