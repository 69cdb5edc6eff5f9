package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/shared"
)

type lockCounter struct{ n int }

func (c *lockCounter) RecordLock() { c.n++ }

func withPrincipal(r *http.Request, sessionID, token string) *http.Request {
	ctx := shared.ContextWithSession(r.Context(), &shared.Session{ID: sessionID})
	ctx = shared.ContextWithPrincipal(ctx, shared.Principal{Token: token, User: emisapi.User{ID: "u-1"}})
	return r.WithContext(ctx)
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestStreamWritesLockEvent(t *testing.T) {
	sub := newFakeSubscription()
	sub.ch <- []byte(lockPayload)
	counter := &lockCounter{}
	h := NewHandler(quietLogger, &fakeTransport{sub: sub}, NewHub(), counter)

	rr := httptest.NewRecorder()
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/events", nil), "s-1", "a.b.c")
	newRouter(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, ": connected "), body)
	assert.Contains(t, body, "event: accountLocked\n")
	assert.Contains(t, body, `data: {"message":"Your account has been locked by an administrator."}`)
	assert.Equal(t, 1, counter.n)
	assert.Equal(t, 0, h.hub.Len())
}

func TestStreamWithoutPrincipalIsNoContent(t *testing.T) {
	h := NewHandler(quietLogger, &fakeTransport{sub: newFakeSubscription()}, nil, nil)
	rr := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestStreamEndsWhenClientLeaves(t *testing.T) {
	h := NewHandler(quietLogger, &fakeTransport{sub: newFakeSubscription()}, NewHub(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/events?stream=tab-a", nil).WithContext(ctx), "s-1", "a.b.c")

	rr := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rr, req)
	assert.Contains(t, rr.Body.String(), ": connected tab-a\n")
	assert.NotContains(t, rr.Body.String(), "event:")
	assert.Equal(t, 0, h.hub.Len())
}

func TestVisibilityEndpoint(t *testing.T) {
	hub := NewHub()
	n := NewNotifier(&fakeTransport{sub: newFakeSubscription()}, quietLogger)
	hub.Register("s-1", "tab-a", n)
	h := NewHandler(quietLogger, nil, hub, nil)
	router := newRouter(h)

	post := func(body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := withPrincipal(httptest.NewRequest(http.MethodPost, "/events/visibility", strings.NewReader(body)), "s-1", "a.b.c")
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := post(`{"state":"hidden","stream":"tab-a"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"paused":true}`, rr.Body.String())
	assert.True(t, n.Paused())

	assert.Equal(t, http.StatusNotFound, post(`{"state":"visible","stream":"tab-b"}`).Code)
	assert.True(t, n.Paused(), "other stream ids leave this tab alone")

	rr = post(`{"state":"visible","stream":"tab-a"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, n.Paused())

	assert.Equal(t, http.StatusBadRequest, post(`{"state":"minimised"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(``).Code)

	hub.Unregister("s-1", "tab-a", n)
	assert.Equal(t, http.StatusNotFound, post(`{"state":"hidden"}`).Code)
}
