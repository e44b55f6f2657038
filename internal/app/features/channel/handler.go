// internal/app/features/channel/handler.go
package channel

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/josefm09/tracker/internal/app/realtime"
	"github.com/josefm09/tracker/internal/app/services/ingest"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Router is the presence and fan-out surface the channel drives.
type Router interface {
	Connect(ctx context.Context, c realtime.Conn) (*models.User, error)
	Disconnect(ctx context.Context, c realtime.Conn)
	EmergencyAlert(ctx context.Context, c realtime.Conn, req realtime.EmergencyRequest) (string, error)
	BatteryAlert(ctx context.Context, c realtime.Conn, req realtime.BatteryRequest) (bool, error)
	JoinFamily(ctx context.Context, c realtime.Conn, familyID primitive.ObjectID) error
	LeaveFamily(ctx context.Context, c realtime.Conn, familyID primitive.ObjectID) error
	SendFamilyLocations(ctx context.Context, c realtime.Conn, familyID *primitive.ObjectID) error
}

// Ingester stores location samples.
type Ingester interface {
	Ingest(ctx context.Context, in ingest.Input) (models.LocationSample, error)
}

// Config tunes connections. Zero fields take defaults.
type Config struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	ReadLimit      int64
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	return c
}

// Handler serves the realtime channel at /ws.
type Handler struct {
	Router Router
	Ingest Ingester
	Log    *zap.Logger

	cfg      Config
	upgrader websocket.Upgrader
}

// NewHandler builds the channel handler.
func NewHandler(router Router, ingester Ingester, cfg Config, logger *zap.Logger) *Handler {
	h := &Handler{
		Router: router,
		Ingest: ingester,
		Log:    logger,
		cfg:    cfg.withDefaults(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits native clients (no Origin header), configured
// origins, and otherwise only the server's own host.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.cfg.AllowedOrigins) > 0 {
		for _, o := range h.cfg.AllowedOrigins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Serve handles GET /ws. The caller must already be authenticated; the
// connection is closed when the credential expires.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	su, ok := auth.CurrentUser(r)
	if !ok {
		respond.JSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]string{
				"kind":    string(apperr.KindPermission),
				"message": "authentication required",
			},
		})
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.Log.Debug("channel: upgrade failed", zap.Error(err), zap.String("user_id", su.ID))
		return
	}

	c := newConn(ws, su.ObjectID(), h.cfg, h.Log)
	go c.writePump()

	ctx := r.Context()
	if _, err := h.Router.Connect(ctx, c); err != nil {
		_ = c.Send(realtime.ErrorEvent("", err))
		c.closeWith(websocket.ClosePolicyViolation, apperr.Message(err))
		return
	}
	c.log.Debug("channel: connected")

	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Short())
		defer cancel()
		h.Router.Disconnect(dctx, c)
		c.Close()
		c.log.Debug("channel: disconnected")
	}()

	if !su.ExpiresAt.IsZero() {
		expiry := time.AfterFunc(time.Until(su.ExpiresAt), func() {
			_ = c.Send(realtime.ErrorEvent("", apperr.New(apperr.KindPermission, "channel", "session expired")))
			c.closeWith(websocket.ClosePolicyViolation, "token expired")
		})
		defer expiry.Stop()
	}

	h.readLoop(ctx, c)
}

// readLoop handles inbound events one at a time until the socket closes.
func (h *Handler) readLoop(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(h.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("channel: read failed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		h.handle(ctx, c, data)
	}
}
