// internal/app/features/channel/dispatch.go
package channel

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/josefm09/tracker/internal/app/realtime"
	"github.com/josefm09/tracker/internal/app/services/ingest"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// inbound is the envelope every client event arrives in.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// familyRequest is the payload of join_family, leave_family and
// get_family_locations.
type familyRequest struct {
	FamilyID string `json:"familyId"`
}

func (f familyRequest) id(op string, required bool) (*primitive.ObjectID, error) {
	if f.FamilyID == "" {
		if required {
			return nil, apperr.New(apperr.KindValidation, op, "familyId is required")
		}
		return nil, nil
	}
	oid, err := primitive.ObjectIDFromHex(f.FamilyID)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, op, "familyId is not a valid id")
	}
	return &oid, nil
}

// decode unmarshals an event payload. A missing payload leaves v zero.
func decode(op string, data json.RawMessage, v any) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Wrap(apperr.KindValidation, op, "event data is malformed", err)
	}
	return nil
}

// handle runs one inbound message. Failures go back to the sender as an
// error event naming the inbound event; successful requests either reply
// with their own event or are confirmed by silence.
func (h *Handler) handle(ctx context.Context, c *conn, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
		_ = c.Send(realtime.ErrorEvent("", apperr.New(apperr.KindValidation, "channel",
			"messages must be JSON objects with an event name")))
		return
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), c.log, in.Event)
	defer cancel()

	err := h.dispatch(ctx, c, in)
	if err == nil {
		return
	}
	switch apperr.KindOf(err) {
	case apperr.KindStorage, apperr.KindInternal:
		c.log.Error("channel: event failed", zap.String("event", in.Event), zap.Error(err))
	default:
		c.log.Debug("channel: event rejected", zap.String("event", in.Event), zap.Error(err))
	}
	_ = c.Send(realtime.ErrorEvent(in.Event, err))
}

func (h *Handler) dispatch(ctx context.Context, c *conn, in inbound) error {
	op := "channel." + in.Event
	switch in.Event {
	case realtime.InLocationUpdate:
		var raw ingest.RawSample
		if err := decode(op, in.Data, &raw); err != nil {
			return err
		}
		_, err := h.Ingest.Ingest(ctx, ingest.Input{
			UserID:       c.userID,
			Sample:       &raw,
			OriginConnID: c.id,
		})
		return err

	case realtime.InEmergencyAlert:
		var req realtime.EmergencyRequest
		if err := decode(op, in.Data, &req); err != nil {
			return err
		}
		_, err := h.Router.EmergencyAlert(ctx, c, req)
		return err

	case realtime.InBatteryAlert:
		var req realtime.BatteryRequest
		if err := decode(op, in.Data, &req); err != nil {
			return err
		}
		_, err := h.Router.BatteryAlert(ctx, c, req)
		return err

	case realtime.InJoinFamily, realtime.InLeaveFamily:
		var req familyRequest
		if err := decode(op, in.Data, &req); err != nil {
			return err
		}
		id, err := req.id(op, true)
		if err != nil {
			return err
		}
		if in.Event == realtime.InJoinFamily {
			return h.Router.JoinFamily(ctx, c, *id)
		}
		return h.Router.LeaveFamily(ctx, c, *id)

	case realtime.InGetFamilyLocations:
		var req familyRequest
		if err := decode(op, in.Data, &req); err != nil {
			return err
		}
		id, err := req.id(op, false)
		if err != nil {
			return err
		}
		return h.Router.SendFamilyLocations(ctx, c, id)
	}
	return apperr.New(apperr.KindValidation, "channel", "unknown event "+in.Event)
}
