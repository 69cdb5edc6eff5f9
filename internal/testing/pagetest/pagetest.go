// Package pagetest assembles a signed-in portal request pipeline for page
// handler tests: miniredis sessions, CSRF, templates, the session guard and
// an httptest stand-in for the EMIS API.
package pagetest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lgu-emis/emis-web/internal/chrome"
	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/shared"
	"github.com/lgu-emis/emis-web/internal/view"
	_ "github.com/lgu-emis/emis-web/testing"
)

const cookieName = "emis_session"

// Harness is a ready-to-use page pipeline.
type Harness struct {
	Redis     *miniredis.Miniredis
	Client    *redis.Client
	Sessions  *shared.SessionManager
	CSRF      *shared.CSRFManager
	Templates *view.Engine
	Upstream  *httptest.Server
	API       *emisapi.Client
	Guard     *chrome.Guard
	Logger    *slog.Logger
}

// New starts miniredis and an upstream server backed by upstream.
func New(t testing.TB, upstream http.Handler) *Harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if upstream == nil {
		upstream = http.NotFoundHandler()
	}
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	engine, err := view.NewEngine()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := shared.NewSessionManager(client, cookieName, "test-session-secret", time.Hour, false)
	csrf := shared.NewCSRFManager("test-csrf-secret")
	api := emisapi.NewClient(srv.URL, 2*time.Second)
	guard := chrome.NewGuard(chrome.Config{
		Logger:    logger,
		Sessions:  sessions,
		CSRF:      csrf,
		Templates: engine,
		API:       api,
	})
	return &Harness{
		Redis:     mr,
		Client:    client,
		Sessions:  sessions,
		CSRF:      csrf,
		Templates: engine,
		Upstream:  srv,
		API:       api,
		Guard:     guard,
		Logger:    logger,
	}
}

// Token signs a bearer token for userID valid for an hour.
func Token(t testing.TB, userID string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("upstream-secret"))
	require.NoError(t, err)
	return raw
}

// Session is a stored signed-in session.
type Session struct {
	ID        string
	Cookie    *http.Cookie
	Token     string
	CSRFToken string
}

// SignIn stores a session holding a valid token for user and returns its
// cookie and CSRF token.
func (h *Harness) SignIn(t testing.TB, user emisapi.User) Session {
	t.Helper()
	raw := Token(t, user.ID)
	userJSON, err := json.Marshal(user)
	require.NoError(t, err)
	out := h.store(t, func(sess *shared.Session) {
		sess.Set(shared.SessionTokenKey, raw)
		sess.Set(shared.SessionUserKey, string(userJSON))
		sess.SetUser(user.ID)
	})
	out.Token = raw
	return out
}

// Anonymous stores a session with only a CSRF token.
func (h *Harness) Anonymous(t testing.TB) Session {
	t.Helper()
	return h.store(t, nil)
}

func (h *Harness) store(t testing.TB, fill func(*shared.Session)) Session {
	t.Helper()
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := h.Sessions.Load(ctx, req)
	require.NoError(t, err)
	if fill != nil {
		fill(sess)
	}
	csrfToken, err := h.CSRF.EnsureToken(ctx, sess)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, h.Sessions.Commit(ctx, rec, req, sess))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return Session{ID: sess.ID, Cookie: cookies[0], CSRFToken: csrfToken}
}

// Router wraps mount in the session and CSRF middleware. Routes registered
// by guarded run behind RequireSession; public routes are mounted as is.
func (h *Harness) Router(public, guarded func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(shared.SessionMiddleware(h.Sessions, h.Logger))
	r.Use(shared.CSRFMiddleware(h.CSRF, h.Logger))
	if public != nil {
		public(r)
	}
	if guarded != nil {
		r.Group(func(gr chi.Router) {
			gr.Use(h.Guard.RequireSession)
			guarded(gr)
		})
	}
	return r
}

// Do serves req through handler, attaching the session cookie when given.
func Do(handler http.Handler, req *http.Request, sess *Session) *httptest.ResponseRecorder {
	if sess != nil && sess.Cookie != nil {
		req.AddCookie(sess.Cookie)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// Sample is a signed-in user fixture.
func Sample() emisapi.User {
	return emisapi.User{
		ID:        "u-100",
		Email:     "clerk@lgu.gov.ph",
		Firstname: "Ana",
		Lastname:  "Reyes",
		Role:      "admin",
	}
}
