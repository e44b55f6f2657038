package locations_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/josefm09/tracker/internal/app/features/locations"
	"github.com/josefm09/tracker/internal/app/services/ingest"
	familystore "github.com/josefm09/tracker/internal/app/store/families"
	locationstore "github.com/josefm09/tracker/internal/app/store/locations"
	userstore "github.com/josefm09/tracker/internal/app/store/users"
	"github.com/josefm09/tracker/internal/domain/models"
	"github.com/josefm09/tracker/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type env struct {
	ctx    context.Context
	db     *mongo.Database
	fx     *testutil.Fixtures
	routes http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	t.Cleanup(cancel)
	testutil.EnsureIndexes(t, ctx, db)

	pipeline := ingest.New(userstore.New(db), familystore.New(db), locationstore.New(db), nil, nil, nil, zap.NewNop())
	t.Cleanup(pipeline.Wait)
	h := locations.NewHandler(db, pipeline, nil, zap.NewNop())
	return &env{ctx: ctx, db: db, fx: testutil.NewFixtures(t, db), routes: locations.Routes(h)}
}

func (e *env) do(req *http.Request, as models.User) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	e.routes.ServeHTTP(rec, testutil.WithUser(req, as))
	return rec
}

func (e *env) setPrivacy(t *testing.T, u models.User, field string, v bool) {
	t.Helper()
	_, err := e.db.Collection("users").UpdateOne(e.ctx, bson.M{"_id": u.ID}, bson.M{"$set": bson.M{field: v}})
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
}

var home = models.Coordinates{Latitude: 40.7128, Longitude: -74.0060}

func TestSubmit(t *testing.T) {
	e := newEnv(t)
	alice := e.fx.CreateUser(e.ctx, "Alice", "alice@example.com")

	rec := e.do(testutil.NewJSONRequest("POST", "/", map[string]any{
		"coordinates": map[string]float64{"latitude": home.Latitude, "longitude": home.Longitude},
		"accuracy":    5,
	}), alice)
	rec.AssertStatus(t, http.StatusCreated)

	var got models.LocationSample
	rec.DecodeJSON(t, &got)
	if got.UserID != alice.ID || got.Coordinates != home {
		t.Errorf("stored sample = %+v", got)
	}

	rec = e.do(testutil.NewJSONRequest("POST", "/", map[string]any{
		"coordinates": map[string]float64{"latitude": 91, "longitude": 0},
	}), alice)
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `"kind":"validation"`)
}

func TestSubmit_RequiresSignIn(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecorder()
	e.routes.ServeHTTP(rec, testutil.NewJSONRequest("POST", "/", map[string]any{}))
	rec.AssertStatus(t, http.StatusUnauthorized)
}

func TestCurrent(t *testing.T) {
	e := newEnv(t)
	alice := e.fx.CreateUser(e.ctx, "Alice", "alice@example.com")
	bob := e.fx.CreateUser(e.ctx, "Bob", "bob@example.com")
	mallory := e.fx.CreateUser(e.ctx, "Mallory", "mallory@example.com")
	e.fx.CreateFamily(e.ctx, "Smiths", alice, bob)
	e.fx.CreateLocation(e.ctx, bob.ID, home, time.Now().Add(-time.Minute))

	path := "/current/" + bob.ID.Hex()

	rec := e.do(testutil.NewJSONRequest("GET", path, nil), bob)
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"familyIds"`)

	rec = e.do(testutil.NewJSONRequest("GET", path, nil), alice)
	rec.AssertStatus(t, http.StatusOK)
	if strings.Contains(rec.Body.String(), "familyIds") {
		t.Errorf("family member got the owner view: %s", rec.Body.String())
	}

	rec = e.do(testutil.NewJSONRequest("GET", path, nil), mallory)
	rec.AssertStatus(t, http.StatusNotFound)

	e.setPrivacy(t, bob, "location_settings.share_location", false)
	rec = e.do(testutil.NewJSONRequest("GET", path, nil), alice)
	rec.AssertStatus(t, http.StatusNotFound)

	rec = e.do(testutil.NewJSONRequest("GET", "/current/"+alice.ID.Hex(), nil), alice)
	rec.AssertStatus(t, http.StatusNotFound)
	rec.AssertContains(t, "no location recorded yet")

	rec = e.do(testutil.NewJSONRequest("GET", "/current/not-an-id", nil), alice)
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestHistory(t *testing.T) {
	e := newEnv(t)
	alice := e.fx.CreateUser(e.ctx, "Alice", "alice@example.com")
	bob := e.fx.CreateUser(e.ctx, "Bob", "bob@example.com")
	fam := e.fx.CreateFamily(e.ctx, "Smiths", alice, bob)

	now := time.Now()
	e.fx.CreateLocation(e.ctx, bob.ID, home, now.Add(-2*time.Hour))
	e.fx.CreateLocation(e.ctx, bob.ID, home, now.Add(-time.Hour))
	e.fx.CreateLocation(e.ctx, bob.ID, home, now.Add(-3*24*time.Hour))

	var got struct {
		Locations []models.PublicLocation `json:"locations"`
	}

	rec := e.do(testutil.NewJSONRequest("GET", "/history/"+bob.ID.Hex(), nil), alice)
	rec.AssertStatus(t, http.StatusOK)
	rec.DecodeJSON(t, &got)
	if len(got.Locations) != 2 {
		t.Fatalf("default window returned %d samples, want 2", len(got.Locations))
	}
	if !got.Locations[0].Timestamp.After(got.Locations[1].Timestamp) {
		t.Error("history should be newest first")
	}

	rec = e.do(testutil.NewJSONRequest("GET", "/history/"+bob.ID.Hex()+"?limit=1", nil), alice)
	rec.DecodeJSON(t, &got)
	if len(got.Locations) != 1 {
		t.Errorf("limit=1 returned %d", len(got.Locations))
	}

	// The family keeps one day of history for members; the owner sees all.
	if _, err := e.db.Collection("families").UpdateOne(e.ctx, bson.M{"_id": fam.ID},
		bson.M{"$set": bson.M{"settings.location_history_days": 1}}); err != nil {
		t.Fatal(err)
	}
	from := now.Add(-7 * 24 * time.Hour).UTC().Format(time.RFC3339)
	rec = e.do(testutil.NewJSONRequest("GET", "/history/"+bob.ID.Hex()+"?from="+from, nil), alice)
	rec.DecodeJSON(t, &got)
	if len(got.Locations) != 2 {
		t.Errorf("member saw %d samples, want 2 within the family window", len(got.Locations))
	}
	rec = e.do(testutil.NewJSONRequest("GET", "/history/"+bob.ID.Hex()+"?from="+from, nil), bob)
	rec.DecodeJSON(t, &got)
	if len(got.Locations) != 3 {
		t.Errorf("owner saw %d samples, want 3", len(got.Locations))
	}

	e.setPrivacy(t, bob, "privacy_settings.share_location_history", false)
	rec = e.do(testutil.NewJSONRequest("GET", "/history/"+bob.ID.Hex(), nil), alice)
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestNearby(t *testing.T) {
	e := newEnv(t)
	alice := e.fx.CreateUser(e.ctx, "Alice", "alice@example.com")
	bob := e.fx.CreateUser(e.ctx, "Bob", "bob@example.com")
	carol := e.fx.CreateUser(e.ctx, "Carol", "carol@example.com")
	hidden := e.fx.CreateUser(e.ctx, "Hidden", "hidden@example.com")
	stranger := e.fx.CreateUser(e.ctx, "Stranger", "stranger@example.com")
	e.fx.CreateFamily(e.ctx, "Smiths", alice, bob, carol, hidden)

	now := time.Now()
	near := models.Coordinates{Latitude: home.Latitude + 0.001, Longitude: home.Longitude}
	far := models.Coordinates{Latitude: home.Latitude + 0.1, Longitude: home.Longitude}
	e.fx.CreateLocation(e.ctx, bob.ID, near, now.Add(-5*time.Minute))
	e.fx.CreateLocation(e.ctx, carol.ID, far, now.Add(-5*time.Minute))
	e.fx.CreateLocation(e.ctx, hidden.ID, near, now.Add(-5*time.Minute))
	e.fx.CreateLocation(e.ctx, stranger.ID, near, now.Add(-5*time.Minute))
	e.setPrivacy(t, hidden, "privacy_settings.visible_to_family", false)

	q := "/nearby?latitude=40.7128&longitude=-74.0060&radius=500"
	rec := e.do(testutil.NewJSONRequest("GET", q, nil), alice)
	rec.AssertStatus(t, http.StatusOK)

	var got struct {
		Members []struct {
			User           models.PublicUser `json:"user"`
			DistanceMeters float64           `json:"distanceMeters"`
		} `json:"members"`
	}
	rec.DecodeJSON(t, &got)
	if len(got.Members) != 1 || got.Members[0].User.ID != bob.ID {
		t.Fatalf("nearby = %+v, want only bob", got.Members)
	}
	if d := got.Members[0].DistanceMeters; d < 100 || d > 120 {
		t.Errorf("distance = %v, want about 111m", d)
	}

	for _, bad := range []string{
		"/nearby?longitude=0",
		"/nearby?latitude=95&longitude=0",
		"/nearby?latitude=0&longitude=0&radius=-1",
		"/nearby?latitude=0&longitude=0&maxAgeMinutes=5000",
	} {
		rec := e.do(testutil.NewJSONRequest("GET", bad, nil), alice)
		rec.AssertStatus(t, http.StatusBadRequest)
	}
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	alice := e.fx.CreateUser(e.ctx, "Alice", "alice@example.com")
	bob := e.fx.CreateUser(e.ctx, "Bob", "bob@example.com")
	s := e.fx.CreateLocation(e.ctx, alice.ID, home, time.Now())

	rec := e.do(testutil.NewJSONRequest("DELETE", "/"+s.ID.Hex(), nil), bob)
	rec.AssertStatus(t, http.StatusNotFound)

	rec = e.do(testutil.NewJSONRequest("DELETE", "/"+s.ID.Hex(), nil), alice)
	rec.AssertStatus(t, http.StatusNoContent)

	rec = e.do(testutil.NewJSONRequest("GET", "/current/"+alice.ID.Hex(), nil), alice)
	rec.AssertStatus(t, http.StatusNotFound)

	rec = e.do(testutil.NewJSONRequest("DELETE", "/"+primitive.NewObjectID().Hex(), nil), alice)
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestDeleteHistory(t *testing.T) {
	e := newEnv(t)
	alice := e.fx.CreateUser(e.ctx, "Alice", "alice@example.com")
	now := time.Now()
	e.fx.CreateLocation(e.ctx, alice.ID, home, now.Add(-48*time.Hour))
	e.fx.CreateLocation(e.ctx, alice.ID, home, now.Add(-36*time.Hour))
	e.fx.CreateLocation(e.ctx, alice.ID, home, now.Add(-time.Hour))

	before := now.Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	rec := e.do(testutil.NewJSONRequest("DELETE", "/history?before="+before, nil), alice)
	rec.AssertStatus(t, http.StatusOK)

	var got struct {
		Deleted int64 `json:"deleted"`
	}
	rec.DecodeJSON(t, &got)
	if got.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", got.Deleted)
	}

	rec = e.do(testutil.NewJSONRequest("GET", "/current/"+alice.ID.Hex(), nil), alice)
	rec.AssertStatus(t, http.StatusOK)
}
