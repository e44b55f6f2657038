package account_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/josefm09/tracker/internal/app/features/account"
	"github.com/josefm09/tracker/internal/app/realtime"
	"github.com/josefm09/tracker/internal/app/services/familysvc"
	familystore "github.com/josefm09/tracker/internal/app/store/families"
	placestatestore "github.com/josefm09/tracker/internal/app/store/placestates"
	userstore "github.com/josefm09/tracker/internal/app/store/users"
	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/domain/models"
	"github.com/josefm09/tracker/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type closeLog struct{ closed []primitive.ObjectID }

func (c *closeLog) CloseUser(id primitive.ObjectID) int {
	c.closed = append(c.closed, id)
	return 1
}

type env struct {
	ctx    context.Context
	db     *mongo.Database
	fx     *testutil.Fixtures
	users  *userstore.Store
	fams   *familystore.Store
	auth   *auth.Manager
	conns  *closeLog
	routes http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	t.Cleanup(cancel)
	testutil.EnsureIndexes(t, ctx, db)

	mgr, err := auth.NewManager(auth.Config{JWTSecret: "account-test-secret"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	users := userstore.New(db)
	fams := familystore.New(db)
	svc := familysvc.New(fams, users, placestatestore.New(db), realtime.NewHub(nil, nil), nil, nil, familysvc.Config{})
	conns := &closeLog{}
	h := account.NewHandler(users, svc, mgr, conns, nil, zap.NewNop())

	return &env{
		ctx:    ctx,
		db:     db,
		fx:     testutil.NewFixtures(t, db),
		users:  users,
		fams:   fams,
		auth:   mgr,
		conns:  conns,
		routes: account.Routes(h),
	}
}

func (e *env) do(method, path string, body any, as models.User) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	e.routes.ServeHTTP(rec, testutil.WithUser(testutil.NewJSONRequest(method, path, body), as))
	return rec
}

func TestServeMe(t *testing.T) {
	e := newEnv(t)
	alice := e.fx.CreateUser(e.ctx, "Alice", "alice@example.com")

	rec := e.do("GET", "/", nil, alice)
	rec.AssertStatus(t, http.StatusOK)
	var got models.User
	rec.DecodeJSON(t, &got)
	if got.ID != alice.ID || got.Email != "alice@example.com" {
		t.Errorf("me = %+v", got)
	}

	anon := testutil.NewRecorder()
	e.routes.ServeHTTP(anon, testutil.NewJSONRequest("GET", "/", nil))
	anon.AssertStatus(t, http.StatusUnauthorized)
}

func TestUpdateProfile(t *testing.T) {
	e := newEnv(t)
	alice := e.fx.CreateUser(e.ctx, "Alice", "alice@example.com")

	rec := e.do("PATCH", "/profile", map[string]string{"fullName": "  Alice <b>Smith</b> "}, alice)
	rec.AssertStatus(t, http.StatusOK)
	var got models.User
	rec.DecodeJSON(t, &got)
	if got.FullName != "Alice Smith" {
		t.Errorf("fullName = %q, want %q", got.FullName, "Alice Smith")
	}

	e.do("PATCH", "/profile", map[string]string{"fullName": ""}, alice).AssertStatus(t, http.StatusBadRequest)
}

func TestLocationSettings(t *testing.T) {
	e := newEnv(t)
	alice := e.fx.CreateUser(e.ctx, "Alice", "alice@example.com")

	rec := e.do("PUT", "/settings/location", map[string]any{
		"shareLocation":     false,
		"locationAccuracy":  "low",
		"updateFrequencyMs": 60000,
	}, alice)
	rec.AssertStatus(t, http.StatusOK)

	stored, err := e.users.GetByID(e.ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	want := models.LocationSettings{ShareLocation: false, LocationAccuracy: models.AccuracyLow, UpdateFrequencyMs: 60000}
	if stored.LocationSettings != want {
		t.Errorf("stored = %+v, want %+v", stored.LocationSettings, want)
	}

	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{"frequency too low", map[string]any{"locationAccuracy": "high", "updateFrequencyMs": 1000}, "updateFrequencyMs"},
		{"frequency too high", map[string]any{"locationAccuracy": "high", "updateFrequencyMs": 400000}, "updateFrequencyMs"},
		{"bad accuracy", map[string]any{"locationAccuracy": "exact", "updateFrequencyMs": 30000}, "locationAccuracy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do("PUT", "/settings/location", tt.body, alice)
			rec.AssertStatus(t, http.StatusBadRequest)
			rec.AssertContains(t, tt.want)
		})
	}
}

func TestPrivacySettings(t *testing.T) {
	e := newEnv(t)
	alice := e.fx.CreateUser(e.ctx, "Alice", "alice@example.com")

	rec := e.do("PUT", "/settings/privacy", map[string]bool{
		"shareLocationHistory": false,
		"allowEmergencyAlerts": true,
		"visibleToFamily":      true,
	}, alice)
	rec.AssertStatus(t, http.StatusOK)

	var got models.User
	rec.DecodeJSON(t, &got)
	if got.PrivacySettings.ShareLocationHistory || !got.PrivacySettings.VisibleToFamily {
		t.Errorf("privacy = %+v", got.PrivacySettings)
	}

	ghost := models.User{ID: primitive.NewObjectID()}
	e.do("PUT", "/settings/privacy", map[string]bool{}, ghost).AssertStatus(t, http.StatusNotFound)
}

func TestDeactivate(t *testing.T) {
	e := newEnv(t)
	alice := e.fx.CreateUser(e.ctx, "Alice", "alice@example.com")
	bob := e.fx.CreateUser(e.ctx, "Bob", "bob@example.com")
	fam := e.fx.CreateFamily(e.ctx, "Smiths", alice, bob)

	e.do("POST", "/deactivate", nil, alice).AssertStatus(t, http.StatusNoContent)

	u, err := e.users.GetByID(e.ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if u.IsActive() || u.Email != "deleted+"+alice.ID.Hex()+"@deleted.invalid" || u.LocationSettings.ShareLocation {
		t.Errorf("deactivated user = %+v", u)
	}
	if len(u.Families) != 0 {
		t.Errorf("families = %v, want none", u.Families)
	}

	f, err := e.fams.GetByID(e.ctx, fam.ID)
	if err != nil {
		t.Fatalf("family: %v", err)
	}
	if len(f.Members) != 1 || f.Members[0].UserID != bob.ID || f.Members[0].Role != models.RoleAdmin {
		t.Errorf("members = %+v, want bob promoted to admin", f.Members)
	}

	if len(e.conns.closed) != 1 || e.conns.closed[0] != alice.ID {
		t.Errorf("closed = %v", e.conns.closed)
	}

	e.do("GET", "/", nil, alice).AssertStatus(t, http.StatusNotFound)
}

func TestSession(t *testing.T) {
	e := newEnv(t)
	id := primitive.NewObjectID()
	token, err := e.auth.Tokens().Issue(auth.SessionUser{ID: id.Hex(), Name: "Dana", Email: "Dana@Example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest("POST", "/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := testutil.NewRecorder()
	e.routes.ServeHTTP(rec, req)
	rec.AssertStatus(t, http.StatusOK)

	var got models.User
	rec.DecodeJSON(t, &got)
	if got.ID != id || got.Email != "dana@example.com" {
		t.Errorf("provisioned user = %+v", got)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie set")
	}
	follow := httptest.NewRequest("GET", "/", nil)
	for _, c := range cookies {
		follow.AddCookie(c)
	}
	su, err := e.auth.Authenticate(follow)
	if err != nil {
		t.Fatalf("Authenticate with cookie: %v", err)
	}
	if su.ID != id.Hex() || su.ExpiresAt.IsZero() {
		t.Errorf("session user = %+v", su)
	}

	rec = testutil.NewRecorder()
	e.routes.ServeHTTP(rec, httptest.NewRequest("DELETE", "/session", nil))
	rec.AssertStatus(t, http.StatusNoContent)
}

func TestSession_RejectsBadToken(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest("POST", "/session", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := testutil.NewRecorder()
	e.routes.ServeHTTP(rec, req)
	rec.AssertStatus(t, http.StatusUnauthorized)
}
