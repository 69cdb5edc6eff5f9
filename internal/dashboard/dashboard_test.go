package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/testing/pagetest"
)

const statsBody = `{"totalBusinesses":12,"activeBusinessesCount":9,"renewalPendingCount":2,
"statusCounts":{"NEW":3,"RENEWAL":9},"totalAmountPaid":1500.5,
"barangayStats":[{"barangay":"Poblacion","count":4,"totalPaid":1000},{"barangay":"San Isidro","count":8,"totalPaid":500.5}],
"monthlyTotals":[{"month":"2026-01","total":1000},{"month":"2026-02","total":500.5}]}`

const mapBody = `[{"barangay":"Poblacion","coordinates":{"lat":14.12345,"lng":121.54321},"count":4,"businesses":[]}]`

type upstream struct {
	statsCalls atomic.Int32
	mapCalls   atomic.Int32
	pages      chan string
	status     int
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if u.status != 0 && r.URL.Path != "/api/auth/current-page" {
		w.WriteHeader(u.status)
		_, _ = w.Write([]byte(`{"message":"stats service unavailable"}`))
		return
	}
	switch r.URL.Path {
	case "/api/business2026/stats", "/api/business2025/stats":
		u.statsCalls.Add(1)
		_, _ = w.Write([]byte(statsBody))
	case "/api/business2026/map", "/api/business2025/map":
		u.mapCalls.Add(1)
		_, _ = w.Write([]byte(mapBody))
	case "/api/auth/current-page":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		select {
		case u.pages <- body["page"]:
		default:
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func setup(t *testing.T, up *upstream) (*pagetest.Harness, http.Handler) {
	t.Helper()
	if up.pages == nil {
		up.pages = make(chan string, 8)
	}
	h := pagetest.New(t, up)
	service := NewService(h.API, NewCache(h.Client, time.Minute))
	handler := NewHandler(h.Logger, service, h.Guard)
	return h, h.Router(nil, func(r chi.Router) { handler.MountRoutes(r) })
}

func TestDashboardRendersOverview(t *testing.T) {
	up := &upstream{}
	h, router := setup(t, up)
	sess := h.SignIn(t, pagetest.Sample())

	rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/dashboard", nil), &sess)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "₱1,500.50")
	assert.Contains(t, body, "San Isidro")
	assert.Contains(t, body, "14.12345")
	assert.Contains(t, body, "<svg")
	assert.Contains(t, body, `<option value="2026" selected>`)
	assert.Equal(t, "dashboard", <-up.pages)
}

func TestDashboardCachesPerYear(t *testing.T) {
	up := &upstream{}
	h, router := setup(t, up)
	sess := h.SignIn(t, pagetest.Sample())

	for i := 0; i < 3; i++ {
		rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/dashboard?year=2026", nil), &sess)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.EqualValues(t, 1, up.statsCalls.Load())
	assert.EqualValues(t, 1, up.mapCalls.Load())

	rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/dashboard?year=2025", nil), &sess)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, up.statsCalls.Load())
}

func TestDashboardRejectsUnknownYear(t *testing.T) {
	up := &upstream{}
	h, router := setup(t, up)
	sess := h.SignIn(t, pagetest.Sample())

	rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/dashboard?year=2019", nil), &sess)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "year must be one of 2025, 2026")
	assert.EqualValues(t, 0, up.statsCalls.Load())
}

func TestDashboardUpstreamFailureShowsRetry(t *testing.T) {
	up := &upstream{status: http.StatusInternalServerError}
	h, router := setup(t, up)
	sess := h.SignIn(t, pagetest.Sample())

	rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/dashboard?year=2025", nil), &sess)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "stats service unavailable")
	assert.Contains(t, body, `href="/dashboard?year=2025">Retry`)
}

func TestDashboardUnauthorizedEndsSession(t *testing.T) {
	up := &upstream{status: http.StatusUnauthorized}
	h, router := setup(t, up)
	sess := h.SignIn(t, pagetest.Sample())

	rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/dashboard", nil), &sess)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	again := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/dashboard", nil), &sess)
	assert.Equal(t, http.StatusSeeOther, again.Code, "credentials were cleared")
}

func TestDashboardRequiresSession(t *testing.T) {
	_, router := setup(t, &upstream{})
	rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/dashboard", nil), nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestDashboardExportCSV(t *testing.T) {
	up := &upstream{}
	h, router := setup(t, up)
	sess := h.SignIn(t, pagetest.Sample())

	rec := pagetest.Do(router, httptest.NewRequest(http.MethodGet, "/dashboard/export.csv?year=2026", nil), &sess)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="barangay-stats-2026.csv"`, rec.Header().Get("Content-Disposition"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Year,Barangay,Businesses,Total Paid", lines[0])
	assert.Equal(t, "2026,San Isidro,8,500.50", lines[2])
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCacheBumpInvalidates(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(newRedis(t), time.Minute)

	var calls int
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int{"calls": calls}, nil
	}
	fetch := func() map[string]int {
		key, err := cache.BuildKey(ctx, "stats", "2026")
		require.NoError(t, err)
		var out map[string]int
		require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
		return out
	}

	assert.Equal(t, 1, fetch()["calls"])
	assert.Equal(t, 1, fetch()["calls"])
	require.NoError(t, cache.Bump(ctx))
	assert.Equal(t, 2, fetch()["calls"])

	key, err := cache.BuildKey(ctx, "stats", "2026")
	require.NoError(t, err)
	assert.Equal(t, "dashboard:stats:2026:2", key)
}

func TestNilCacheCallsLoader(t *testing.T) {
	var cache *Cache
	var out []int
	err := cache.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
		return []int{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, out)
}

type slowAPI struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *slowAPI) BusinessStats(ctx context.Context, token string, year int) (emisapi.BusinessStats, error) {
	s.calls.Add(1)
	<-s.release
	return emisapi.BusinessStats{TotalBusinesses: year}, nil
}

func (s *slowAPI) BusinessMap(ctx context.Context, token string, year int) ([]emisapi.MapPoint, error) {
	return nil, nil
}

func TestConcurrentStatsShareOneCall(t *testing.T) {
	api := &slowAPI{release: make(chan struct{})}
	service := NewService(api, nil)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stats, err := service.Stats(context.Background(), "tok", 2026)
			assert.NoError(t, err)
			results[i] = stats.TotalBusinesses
		}(i)
	}
	require.Eventually(t, func() bool { return api.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(api.release)
	wg.Wait()

	assert.LessOrEqual(t, api.calls.Load(), int32(callers))
	for _, got := range results {
		assert.Equal(t, 2026, got)
	}
}
