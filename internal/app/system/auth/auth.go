package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/respond"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Session constants                                                          |
*─────────────────────────────────────────────────────────────────────────────*/

const (
	DefaultSessionName = "tracker-session"

	isAuthKey  = "is_authenticated"
	userIDKey  = "user_id"
	userName   = "user_name"
	userEmail  = "user_email"
	expiresKey = "expires_at"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Current-User helper                                                        |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionUser is the authenticated identity injected into r.Context().
type SessionUser struct {
	ID        string
	Name      string
	Email     string
	ExpiresAt time.Time // zero when the credential does not expire
}

// ObjectID returns the user id. Identities only reach the context after
// their id parsed, so the error path is for hand-built values.
func (u *SessionUser) ObjectID() primitive.ObjectID {
	oid, _ := primitive.ObjectIDFromHex(u.ID)
	return oid
}

type ctxKey string

const currentUserKey ctxKey = "currentUser"

// CurrentUser returns the user & "found?" flag.
func CurrentUser(r *http.Request) (*SessionUser, bool) {
	return FromContext(r.Context())
}

// FromContext is CurrentUser for code that only has a context.
func FromContext(ctx context.Context) (*SessionUser, bool) {
	u, ok := ctx.Value(currentUserKey).(*SessionUser)
	return u, ok
}

// WithTestUser injects u directly, bypassing credential checks.
func WithTestUser(r *http.Request, u *SessionUser) *http.Request {
	return withUser(r, u)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Manager                                                                    |
*─────────────────────────────────────────────────────────────────────────────*/

// Config for NewManager.
type Config struct {
	SessionKey  string // ≥32 chars; empty generates a per-process key
	SessionName string
	Domain      string
	Secure      bool
	JWTSecret   string
	JWTIssuer   string
}

// Manager authenticates requests from a bearer token, an access_token query
// parameter (browsers cannot set headers on WebSocket upgrades), or a
// session cookie established by StartSession.
type Manager struct {
	tokens  *TokenVerifier
	store   *sessions.CookieStore
	name    string
	log     *zap.Logger
	fetcher UserFetcher
}

// UserFetcher refreshes an authenticated identity from storage. Returning
// nil rejects the request as anonymous.
type UserFetcher interface {
	FetchUser(ctx context.Context, u *SessionUser) *SessionUser
}

// SetFetcher installs f. Call it before serving requests.
func (m *Manager) SetFetcher(f UserFetcher) { m.fetcher = f }

// NewManager builds the session store and token verifier.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	tokens, err := NewTokenVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	if err != nil {
		return nil, err
	}

	key := []byte(cfg.SessionKey)
	switch {
	case len(key) == 0:
		key = securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, errors.New("auth: could not generate session key")
		}
		logger.Warn("no session key configured; using a random key, sessions will not survive restarts")
	case len(key) < 32:
		logger.Warn("session key is short; 32+ chars recommended", zap.Int("length", len(key)))
	}

	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Domain:   cfg.Domain,
		Path:     "/",
		Secure:   cfg.Secure,
		HttpOnly: true,
		MaxAge:   int((24 * time.Hour).Seconds()),
	}
	if cfg.Secure {
		store.Options.SameSite = http.SameSiteNoneMode
	} else {
		store.Options.SameSite = http.SameSiteLaxMode
	}

	name := cfg.SessionName
	if name == "" {
		name = DefaultSessionName
	}

	logger.Info("auth initialized",
		zap.Bool("secure", cfg.Secure),
		zap.String("domain", cfg.Domain),
		zap.Bool("issuer_checked", cfg.JWTIssuer != ""))

	return &Manager{tokens: tokens, store: store, name: name, log: logger}, nil
}

// Tokens exposes the verifier.
func (m *Manager) Tokens() *TokenVerifier { return m.tokens }

// LoadUser injects the user into context if the request carries a valid
// credential. Invalid credentials are treated as anonymous.
func (m *Manager) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := m.Authenticate(r)
		if err == nil && m.fetcher != nil {
			u = m.fetcher.FetchUser(r.Context(), u)
		}
		if err == nil && u != nil {
			r = withUser(r, u)
		} else if err != nil && !errors.Is(err, ErrNoToken) {
			m.log.Debug("rejected credential", zap.Error(err), zap.String("path", r.URL.Path))
		}
		next.ServeHTTP(w, r)
	})
}

// Authenticate resolves the request's identity.
func (m *Manager) Authenticate(r *http.Request) (*SessionUser, error) {
	if raw := bearerToken(r); raw != "" {
		return m.tokens.Verify(raw)
	}
	if raw := r.URL.Query().Get("access_token"); raw != "" {
		return m.tokens.Verify(raw)
	}

	sess, err := m.store.Get(r, m.name)
	if err != nil {
		return nil, ErrNoToken
	}
	if isAuth, _ := sess.Values[isAuthKey].(bool); !isAuth {
		return nil, ErrNoToken
	}
	u := &SessionUser{
		ID:    getString(sess, userIDKey),
		Name:  getString(sess, userName),
		Email: getString(sess, userEmail),
	}
	if exp, ok := sess.Values[expiresKey].(int64); ok && exp > 0 {
		u.ExpiresAt = time.Unix(exp, 0)
		if time.Now().After(u.ExpiresAt) {
			return nil, fmt.Errorf("%w: session expired", ErrInvalidToken)
		}
	}
	if _, err := primitive.ObjectIDFromHex(u.ID); err != nil {
		return nil, fmt.Errorf("%w: bad session user id", ErrInvalidToken)
	}
	return u, nil
}

// StartSession verifies the bearer token on r and stores its identity in
// the session cookie.
func (m *Manager) StartSession(w http.ResponseWriter, r *http.Request) (*SessionUser, error) {
	u, err := m.tokens.Verify(bearerToken(r))
	if err != nil {
		return nil, err
	}
	sess, _ := m.store.Get(r, m.name)
	sess.Values[isAuthKey] = true
	sess.Values[userIDKey] = u.ID
	sess.Values[userName] = u.Name
	sess.Values[userEmail] = u.Email
	if !u.ExpiresAt.IsZero() {
		sess.Values[expiresKey] = u.ExpiresAt.Unix()
	}
	if err := sess.Save(r, w); err != nil {
		return nil, err
	}
	return u, nil
}

// EndSession clears the session cookie.
func (m *Manager) EndSession(w http.ResponseWriter, r *http.Request) error {
	sess, _ := m.store.Get(r, m.name)
	sess.Values = map[interface{}]interface{}{}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

// RequireSignedIn rejects anonymous requests with a JSON 401.
func RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		respond.JSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]string{
				"kind":    string(apperr.KindPermission),
				"message": "authentication required",
			},
		})
	})
}

// helpers

func withUser(r *http.Request, u *SessionUser) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), currentUserKey, u))
}

func getString(s *sessions.Session, key string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
