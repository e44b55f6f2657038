package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const testSecret = "test-secret-test-secret-test-secret"

func newTestManager(t *testing.T) *auth.Manager {
	t.Helper()
	m, err := auth.NewManager(auth.Config{
		SessionKey: "0123456789abcdef0123456789abcdef",
		JWTSecret:  testSecret,
		JWTIssuer:  "tracker-test",
	}, zap.NewNop())
	require.NoError(t, err)
	return m
}

func issue(t *testing.T, m *auth.Manager, ttl time.Duration) (string, auth.SessionUser) {
	t.Helper()
	u := auth.SessionUser{ID: primitive.NewObjectID().Hex(), Name: "Ana", Email: "ana@example.com"}
	tok, err := m.Tokens().Issue(u, ttl)
	require.NoError(t, err)
	return tok, u
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := auth.CurrentUser(r); ok {
			_, _ = w.Write([]byte(u.ID))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestLoadUser_BearerToken(t *testing.T) {
	m := newTestManager(t)
	tok, u := issue(t, m, time.Hour)

	req := httptest.NewRequest("GET", "/api/locations/current", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	m.LoadUser(echoUser()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, u.ID, rec.Body.String())
}

func TestLoadUser_QueryToken(t *testing.T) {
	m := newTestManager(t)
	tok, u := issue(t, m, time.Hour)

	req := httptest.NewRequest("GET", "/ws?access_token="+tok, nil)
	rec := httptest.NewRecorder()
	m.LoadUser(echoUser()).ServeHTTP(rec, req)

	assert.Equal(t, u.ID, rec.Body.String())
}

func TestLoadUser_ExpiredTokenIsAnonymous(t *testing.T) {
	m := newTestManager(t)
	tok, _ := issue(t, m, -time.Hour)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	m.LoadUser(echoUser()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestVerify_RejectsWrongIssuerAndSecret(t *testing.T) {
	m := newTestManager(t)

	other, err := auth.NewTokenVerifier([]byte(testSecret), "someone-else")
	require.NoError(t, err)
	tok, err := other.Issue(auth.SessionUser{ID: primitive.NewObjectID().Hex()}, time.Hour)
	require.NoError(t, err)
	_, err = m.Tokens().Verify(tok)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	forged, err := auth.NewTokenVerifier([]byte("another-secret-another-secret-xx"), "tracker-test")
	require.NoError(t, err)
	tok, err = forged.Issue(auth.SessionUser{ID: primitive.NewObjectID().Hex()}, time.Hour)
	require.NoError(t, err)
	_, err = m.Tokens().Verify(tok)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerify_RejectsNonObjectIDSubject(t *testing.T) {
	m := newTestManager(t)
	tok, err := m.Tokens().Issue(auth.SessionUser{ID: "not-an-id"}, time.Hour)
	require.NoError(t, err)
	_, err = m.Tokens().Verify(tok)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestStartSession_CookieRoundTrip(t *testing.T) {
	m := newTestManager(t)
	tok, u := issue(t, m, time.Hour)

	req := httptest.NewRequest("POST", "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	got, err := m.StartSession(rec, req)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	next := httptest.NewRequest("GET", "/api/families", nil)
	for _, c := range cookies {
		next.AddCookie(c)
	}
	rec2 := httptest.NewRecorder()
	m.LoadUser(echoUser()).ServeHTTP(rec2, next)
	assert.Equal(t, u.ID, rec2.Body.String())
}

func TestRequireSignedIn(t *testing.T) {
	h := auth.RequireSignedIn(echoUser())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/families", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication required")

	id := primitive.NewObjectID().Hex()
	req := auth.WithTestUser(httptest.NewRequest("GET", "/api/families", nil), &auth.SessionUser{ID: id})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewManager_RequiresSecret(t *testing.T) {
	_, err := auth.NewManager(auth.Config{}, zap.NewNop())
	assert.Error(t, err)
}
