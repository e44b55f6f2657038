package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/josefm09/tracker/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ConnCounter reports how many real-time connections are open.
type ConnCounter interface {
	ConnCount() int
}

// Handler holds dependencies needed for health checks.
type Handler struct {
	Client *mongo.Client
	Conns  ConnCounter
	Log    *zap.Logger
}

// NewHandler constructs a health Handler. conns may be nil.
func NewHandler(client *mongo.Client, conns ConnCounter, logger *zap.Logger) *Handler {
	return &Handler{
		Client: client,
		Conns:  conns,
		Log:    logger,
	}
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Connections *int   `json:"connections,omitempty"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "connections":12 }
//
// On DB failure: 503 and
//
//	{ "status":"error", "message":"Database unavailable", "error":"…"}
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:   "ok",
		Database: "connected",
	}

	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	if h.Conns != nil {
		n := h.Conns.ConnCount()
		resp.Connections = &n
	}

	_ = json.NewEncoder(w).Encode(resp)
}
