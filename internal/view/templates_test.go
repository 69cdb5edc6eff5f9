package view

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgu-emis/emis-web/internal/shared"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestRenderStatusWritesPage(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = engine.RenderStatus(rec, http.StatusBadRequest, "pages/login.html", TemplateData{
		Title:     "Sign in",
		CSRFToken: "tok-123",
		Flash:     &shared.FlashMessage{Kind: "success", Message: "Registration successful"},
		Data: map[string]any{
			"Form":   map[string]any{"Email": "clerk@lgu.gov.ph"},
			"Errors": map[string]string{"general": "Invalid email or password"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `<meta name="csrf-token" content="tok-123">`)
	assert.Contains(t, body, "Registration successful")
	assert.Contains(t, body, "Invalid email or password")
	assert.Contains(t, body, `value="clerk@lgu.gov.ph"`)
	assert.NotContains(t, body, "realtime.js", "anonymous pages do not open the event stream")
}

func TestRenderSignedInChrome(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = engine.Render(rec, "pages/reports.html", TemplateData{
		Title:       "Reports",
		CSRFToken:   "tok",
		CurrentPath: "/reports",
		User:        &UserChrome{ID: "u-1", Name: "Ana Reyes", Initials: "AR"},
		Data:        map[string]any{"Years": []int{2026, 2025}, "Error": "", "RetryURL": ""},
	})
	require.NoError(t, err)
	body := rec.Body.String()
	assert.Contains(t, body, "realtime.js")
	assert.Contains(t, body, `id="lock-modal"`)
	assert.Contains(t, body, `name="reason" value="locked"`)
	assert.Contains(t, body, `<button type="submit" class="button">Confirm</button>`)
	assert.NotContains(t, body, ">OK<")
	assert.Contains(t, body, "/reports/csv/2026/no-payments")
	assert.Contains(t, body, ">AR<")
}

func TestRenderUnknownTemplate(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	assert.Error(t, engine.Render(rec, "pages/missing.html", TemplateData{}))
	assert.Equal(t, 0, rec.Body.Len(), "nothing is written on failure")
}

func TestFormatPeso(t *testing.T) {
	assert.Equal(t, "₱1,234.50", FormatPeso(1234.5))
	assert.Equal(t, "₱0.00", FormatPeso(0))
	assert.Equal(t, "-₱20.00", FormatPeso(-20))
	assert.Equal(t, "12,345", FormatNumber(12345))
}

func TestNewPagerLinks(t *testing.T) {
	window := shared.ComputePageWindow(45, 2, 20)
	pager := NewPager(window, "/audit", url.Values{"action": {"UPDATE"}})

	assert.Equal(t, "Showing 21 to 40 of 45 entries", pager.Status)
	assert.Equal(t, "/audit?action=UPDATE&page=1", pager.FirstURL)
	assert.Equal(t, "/audit?action=UPDATE&page=1", pager.PrevURL)
	assert.Equal(t, "/audit?action=UPDATE&page=3", pager.NextURL)
	assert.Equal(t, "/audit?action=UPDATE&page=3", pager.LastURL)

	empty := NewPager(shared.ComputePageWindow(0, 1, 20), "/audit", nil)
	assert.Empty(t, empty.FirstURL)
	assert.Empty(t, empty.NextURL)
	assert.Equal(t, "No entries", empty.Status)
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "", formatDate(nil))
}
