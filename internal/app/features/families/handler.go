// internal/app/features/families/handler.go
package families

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/josefm09/tracker/internal/app/realtime"
	"github.com/josefm09/tracker/internal/app/services/familysvc"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"github.com/josefm09/tracker/internal/app/system/validation"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Locator builds the member location overview for a family.
type Locator interface {
	FamilyLocations(ctx context.Context, requesterID primitive.ObjectID, familyID *primitive.ObjectID) (realtime.FamilyLocationsReply, error)
}

// Handler is the dependency container for the family endpoints. Every
// mutation goes through the family service so both sides of a membership
// stay in step.
type Handler struct {
	Service *familysvc.Service
	Locator Locator
	Log     *zap.Logger
}

// NewHandler constructs the families handler.
func NewHandler(svc *familysvc.Service, locator Locator, logger *zap.Logger) *Handler {
	return &Handler{
		Service: svc,
		Locator: locator,
		Log:     logger,
	}
}

func idParam(r *http.Request, name string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(chi.URLParam(r, name))
	if err != nil {
		return primitive.NilObjectID, apperr.New(apperr.KindValidation, "families", name+" is not a valid id")
	}
	return oid, nil
}

// decode reads and validates a JSON body.
func decode(r *http.Request, v any) error {
	if err := respond.DecodeJSON(r, v); err != nil {
		return err
	}
	if err := validation.Struct(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "families", err.Error(), err)
	}
	return nil
}
