package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgu-emis/emis-web/internal/auth"
	"github.com/lgu-emis/emis-web/internal/observability"
	"github.com/lgu-emis/emis-web/internal/testing/pagetest"
	"github.com/lgu-emis/emis-web/jobs"
)

func newTestRouter(t *testing.T) (*pagetest.Harness, http.Handler) {
	t.Helper()
	h, router, _ := newTestRouters(t)
	return h, router
}

func newTestRouters(t *testing.T) (*pagetest.Harness, http.Handler, http.Handler) {
	t.Helper()
	h := pagetest.New(t, nil)
	metrics := observability.NewMetrics()
	authHandler := auth.NewHandler(h.Logger, auth.NewService(h.API, nil), h.Guard, nil)
	router := NewRouter(RouterParams{
		Logger:         h.Logger,
		Config:         &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, RateLimitPerMinute: 1000},
		SessionManager: h.Sessions,
		CSRFManager:    h.CSRF,
		Guard:          h.Guard,
		AuthHandler:    authHandler,
		Metrics:        metrics,
	})
	admin := NewAdminRouter(AdminParams{Metrics: metrics, JobHandler: jobs.NewHandler(nil, h.Logger)})
	return h, router, admin
}

func TestHealthz(t *testing.T) {
	_, router := newTestRouter(t)
	rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'self'")
}

func TestRootRedirects(t *testing.T) {
	h, router := newTestRouter(t)

	rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	sess := h.SignIn(t, pagetest.Sample())
	rec = pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/", nil), &sess)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestLoginPageServedAnonymously(t *testing.T) {
	_, router := newTestRouter(t)
	rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/login", nil), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="csrf-token"`)
}

func TestLogoutRequiresCSRF(t *testing.T) {
	h, router := newTestRouter(t)
	sess := h.SignIn(t, pagetest.Sample())

	rec := pagetest.Do(router, httptest.NewRequest(http.MethodPost, "/auth/logout", nil), &sess)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("X-CSRF-Token", sess.CSRFToken)
	rec = pagetest.Do(router, req, &sess)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestStaticAssetsCached(t *testing.T) {
	_, router := newTestRouter(t)
	rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/static/js/realtime.js", nil), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "EventSource")
}

func TestOperationalEndpointsOnlyOnAdminListener(t *testing.T) {
	_, router, admin := newTestRouters(t)
	pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)

	for _, path := range []string{"/metrics", "/jobs/health"} {
		rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, path, nil), nil)
		assert.NotEqual(t, http.StatusOK, rec.Code, "%s must not be public", path)
	}

	rec := pagetest.Do(admin, httptest.NewRequest(http.MethodGet, "/metrics", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `emis_http_requests_total{code="200",route="/healthz"}`)

	rec = pagetest.Do(admin, httptest.NewRequest(http.MethodGet, "/jobs/health", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}

type recordingRepo struct {
	auth.NopRepository
	ended []string
	swept int64
}

func (r *recordingRepo) End(_ context.Context, _ string, reason string) error {
	r.ended = append(r.ended, reason)
	return nil
}

func (r *recordingRepo) SweepIdle(context.Context, time.Time) (int64, error) {
	return r.swept, nil
}

func TestSessionRegistryDelegates(t *testing.T) {
	repo := &recordingRepo{swept: 3}
	registry := NewSessionRegistry(repo, observability.NewMetrics())

	require.NoError(t, registry.End(context.Background(), "s-1", auth.EndLocked))
	n, err := registry.SweepIdle(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []string{auth.EndLocked}, repo.ended)

	nop := NewSessionRegistry(nil, nil)
	assert.NoError(t, nop.End(context.Background(), "s-2", auth.EndLogout))
}
