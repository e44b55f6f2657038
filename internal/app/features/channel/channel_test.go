package channel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/josefm09/tracker/internal/app/features/channel"
	"github.com/josefm09/tracker/internal/app/realtime"
	"github.com/josefm09/tracker/internal/app/services/ingest"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeRouter struct {
	mu           sync.Mutex
	connectErr   error
	joinErr      error
	connected    []string
	disconnected []string
	calls        []string
}

func (f *fakeRouter) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRouter) Connect(_ context.Context, c realtime.Conn) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.connected = append(f.connected, c.ID())
	return &models.User{ID: c.UserID()}, nil
}

func (f *fakeRouter) Disconnect(_ context.Context, c realtime.Conn) {
	f.mu.Lock()
	f.disconnected = append(f.disconnected, c.ID())
	f.mu.Unlock()
}

func (f *fakeRouter) EmergencyAlert(_ context.Context, _ realtime.Conn, req realtime.EmergencyRequest) (string, error) {
	f.record("emergency:" + req.Message)
	return "alert-1", nil
}

func (f *fakeRouter) BatteryAlert(_ context.Context, _ realtime.Conn, req realtime.BatteryRequest) (bool, error) {
	f.record("battery")
	if req.Level == nil {
		return false, apperr.New(apperr.KindValidation, "test", "battery level must be between 0 and 100")
	}
	return true, nil
}

func (f *fakeRouter) JoinFamily(_ context.Context, c realtime.Conn, id primitive.ObjectID) error {
	f.record("join:" + id.Hex())
	if f.joinErr != nil {
		return f.joinErr
	}
	return c.Send(realtime.Event{Name: realtime.OutJoinedFamily, Data: realtime.FamilyRoomAck{FamilyID: id}})
}

func (f *fakeRouter) LeaveFamily(_ context.Context, _ realtime.Conn, id primitive.ObjectID) error {
	f.record("leave:" + id.Hex())
	return nil
}

func (f *fakeRouter) SendFamilyLocations(_ context.Context, c realtime.Conn, id *primitive.ObjectID) error {
	if id == nil {
		f.record("locations:all")
	} else {
		f.record("locations:" + id.Hex())
	}
	return c.Send(realtime.Event{Name: realtime.OutFamilyLocations, Data: realtime.FamilyLocationsReply{}})
}

func (f *fakeRouter) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeIngester struct {
	mu     sync.Mutex
	inputs []ingest.Input
	err    error
}

func (f *fakeIngester) Ingest(_ context.Context, in ingest.Input) (models.LocationSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return models.LocationSample{}, f.err
}

type harness struct {
	router   *fakeRouter
	ingester *fakeIngester
	user     *auth.SessionUser
	srv      *httptest.Server
}

func newHarness(t *testing.T, cfg channel.Config) *harness {
	t.Helper()
	h := &harness{
		router:   &fakeRouter{},
		ingester: &fakeIngester{},
		user:     &auth.SessionUser{ID: primitive.NewObjectID().Hex(), Name: "Alice"},
	}
	handler := channel.NewHandler(h.router, h.ingester, cfg, zap.NewNop())
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test-Auth") == "yes" {
			r = auth.WithTestUser(r, h.user)
		}
		handler.Serve(w, r)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	ws, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Test-Auth": {"yes"}})
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]any{"event": event, "data": data}))
}

func next(t *testing.T, ws *websocket.Conn) received {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev received
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

func errorOf(t *testing.T, ev received) realtime.ErrorPayload {
	t.Helper()
	require.Equal(t, realtime.OutError, ev.Event)
	var p realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	return p
}

func TestServe_RejectsAnonymous(t *testing.T) {
	h := newHarness(t, channel.Config{})

	resp, err := http.Get(h.srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, h.router.connected)
}

func TestServe_LocationUpdateCarriesOrigin(t *testing.T) {
	h := newHarness(t, channel.Config{})
	ws := h.dial(t)

	send(t, ws, realtime.InLocationUpdate, map[string]any{
		"coordinates": map[string]float64{"latitude": 40.7, "longitude": -74},
	})
	// A reply-producing event after it proves the update was handled.
	send(t, ws, realtime.InGetFamilyLocations, nil)
	assert.Equal(t, realtime.OutFamilyLocations, next(t, ws).Event)

	h.ingester.mu.Lock()
	defer h.ingester.mu.Unlock()
	require.Len(t, h.ingester.inputs, 1)
	in := h.ingester.inputs[0]
	assert.Equal(t, h.user.ObjectID(), in.UserID)
	require.Len(t, h.router.connected, 1)
	assert.Equal(t, h.router.connected[0], in.OriginConnID)
	require.NotNil(t, in.Sample.Coordinates)
	assert.InDelta(t, 40.7, *in.Sample.Coordinates.Latitude, 1e-9)
}

func TestServe_IngestFailureIsReported(t *testing.T) {
	h := newHarness(t, channel.Config{})
	h.ingester.err = apperr.New(apperr.KindValidation, "ingest", "coordinates is required")
	ws := h.dial(t)

	send(t, ws, realtime.InLocationUpdate, map[string]any{})

	p := errorOf(t, next(t, ws))
	assert.Equal(t, string(apperr.KindValidation), p.Code)
	assert.Equal(t, "coordinates is required", p.Message)
	assert.Equal(t, realtime.InLocationUpdate, p.Event)
}

func TestServe_MalformedAndUnknownEvents(t *testing.T) {
	h := newHarness(t, channel.Config{})
	ws := h.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	p := errorOf(t, next(t, ws))
	assert.Equal(t, string(apperr.KindValidation), p.Code)

	send(t, ws, "teleport", nil)
	p = errorOf(t, next(t, ws))
	assert.Equal(t, string(apperr.KindValidation), p.Code)
	assert.Equal(t, "teleport", p.Event)

	send(t, ws, realtime.InJoinFamily, map[string]string{"familyId": "nope"})
	p = errorOf(t, next(t, ws))
	assert.Equal(t, "familyId is not a valid id", p.Message)

	send(t, ws, realtime.InLeaveFamily, map[string]string{})
	p = errorOf(t, next(t, ws))
	assert.Equal(t, "familyId is required", p.Message)

	assert.Empty(t, h.router.snapshot(), "nothing reaches the router")
}

func TestServe_PermissionErrorKeepsItsCode(t *testing.T) {
	h := newHarness(t, channel.Config{})
	h.router.joinErr = apperr.New(apperr.KindPermission, "realtime.JoinFamily", "you are not a member of this family")
	ws := h.dial(t)

	send(t, ws, realtime.InJoinFamily, map[string]string{"familyId": primitive.NewObjectID().Hex()})

	p := errorOf(t, next(t, ws))
	assert.Equal(t, string(apperr.KindPermission), p.Code)
	assert.Equal(t, realtime.InJoinFamily, p.Event)
}

func TestServe_HandlesEventsInOrder(t *testing.T) {
	h := newHarness(t, channel.Config{})
	ws := h.dial(t)

	ids := []primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()}
	for _, id := range ids {
		send(t, ws, realtime.InJoinFamily, map[string]string{"familyId": id.Hex()})
	}
	send(t, ws, realtime.InLeaveFamily, map[string]string{"familyId": ids[0].Hex()})
	send(t, ws, realtime.InEmergencyAlert, map[string]string{"message": "help"})
	send(t, ws, realtime.InGetFamilyLocations, map[string]string{"familyId": ids[1].Hex()})

	for range ids {
		assert.Equal(t, realtime.OutJoinedFamily, next(t, ws).Event)
	}
	assert.Equal(t, realtime.OutFamilyLocations, next(t, ws).Event)

	assert.Equal(t, []string{
		"join:" + ids[0].Hex(),
		"join:" + ids[1].Hex(),
		"join:" + ids[2].Hex(),
		"leave:" + ids[0].Hex(),
		"emergency:help",
		"locations:" + ids[1].Hex(),
	}, h.router.snapshot())
}

func TestServe_DisconnectOnClientClose(t *testing.T) {
	h := newHarness(t, channel.Config{})
	ws := h.dial(t)

	require.Eventually(t, func() bool {
		h.router.mu.Lock()
		defer h.router.mu.Unlock()
		return len(h.router.connected) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	require.Eventually(t, func() bool {
		h.router.mu.Lock()
		defer h.router.mu.Unlock()
		return len(h.router.disconnected) == 1 && h.router.disconnected[0] == h.router.connected[0]
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServe_ClosesWhenTokenExpires(t *testing.T) {
	h := newHarness(t, channel.Config{})
	h.user.ExpiresAt = time.Now().Add(150 * time.Millisecond)
	ws := h.dial(t)

	p := errorOf(t, next(t, ws))
	assert.Equal(t, string(apperr.KindPermission), p.Code)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestServe_ConnectRefused(t *testing.T) {
	h := newHarness(t, channel.Config{})
	h.router.connectErr = apperr.New(apperr.KindPermission, "realtime.Connect", "account is not active")
	ws := h.dial(t)

	p := errorOf(t, next(t, ws))
	assert.Equal(t, "account is not active", p.Message)

	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestServe_CheckOrigin(t *testing.T) {
	h := newHarness(t, channel.Config{AllowedOrigins: []string{"https://app.example.com"}})
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")

	header := http.Header{"X-Test-Auth": {"yes"}, "Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://app.example.com")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	ws.Close()
}
