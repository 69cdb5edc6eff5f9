package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lgu-emis/emis-web/internal/chrome"
	"github.com/lgu-emis/emis-web/internal/dashboard/svg"
	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/platform/httpx"
	"github.com/lgu-emis/emis-web/internal/shared"
	"github.com/lgu-emis/emis-web/internal/view"
)

const (
	pageName       = "dashboard"
	requestTimeout = 10 * time.Second
	msgLoadFailed  = "Dashboard data could not be loaded."
	exportLimit    = 10
)

// Handler serves the dashboard page and its CSV export.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   *chrome.Guard
}

// NewHandler constructs the dashboard HTTP handler.
func NewHandler(logger *slog.Logger, service *Service, guard *chrome.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers dashboard routes. Callers mount them behind the
// session guard.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.handlePage)
	r.With(httpx.UserRateLimit(exportLimit, time.Minute)).Get("/dashboard/export.csv", h.handleExport)
}

type statusRow struct {
	Status string
	Count  int
}

type pageData struct {
	Year      int
	Years     []int
	Overview  *Overview
	Statuses  []statusRow
	BarChart  template.HTML
	LineChart template.HTML
	Error     string
	RetryURL  string
	ExportURL string
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	data := pageData{Years: emisapi.SupportedYears}

	year, err := parseYear(r.URL.Query().Get("year"))
	if err != nil {
		data.Year = latestYear()
		data.Error = err.Error()
		h.guard.Render(w, r, http.StatusBadRequest, "pages/dashboard.html", "Dashboard", data)
		return
	}
	data.Year = year
	data.RetryURL = "/dashboard?" + url.Values{"year": {strconv.Itoa(year)}}.Encode()
	data.ExportURL = "/dashboard/export.csv?" + url.Values{"year": {strconv.Itoa(year)}}.Encode()

	h.guard.TrackPage(r.Context(), pageName)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	overview, err := h.service.Overview(ctx, principal.Token, year)
	if err != nil {
		if emisapi.IsUnauthorized(err) {
			h.guard.Unauthorized(w, r)
			return
		}
		h.logger.Warn("load dashboard", slog.Int("year", year), slog.Any("error", err))
		data.Error = emisapi.MessageOf(err, msgLoadFailed)
		h.guard.Render(w, r, http.StatusOK, "pages/dashboard.html", "Dashboard", data)
		return
	}
	data.Overview = &overview
	data.Statuses = statusRows(overview.Stats.StatusCounts)
	data.BarChart = h.chart("barangay", func() (template.HTML, error) { return barangayChart(overview.Stats.BarangayStats) })
	data.LineChart = h.chart("monthly", func() (template.HTML, error) { return monthlyChart(overview.Stats.MonthlyTotals) })
	h.guard.Render(w, r, http.StatusOK, "pages/dashboard.html", "Dashboard", data)
}

func (h *Handler) chart(name string, render func() (template.HTML, error)) template.HTML {
	out, err := render()
	if err != nil {
		h.logger.Debug("render chart", slog.String("chart", name), slog.Any("error", err))
		return ""
	}
	return out
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	year, err := parseYear(r.URL.Query().Get("year"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	stats, err := h.service.Stats(ctx, principal.Token, year)
	if err != nil {
		if emisapi.IsUnauthorized(err) {
			h.guard.Unauthorized(w, r)
			return
		}
		h.logger.Warn("export dashboard", slog.Int("year", year), slog.Any("error", err))
		http.Error(w, emisapi.MessageOf(err, msgLoadFailed), http.StatusBadGateway)
		return
	}
	var buf bytes.Buffer
	if err := WriteBarangayCSV(&buf, year, stats.BarangayStats); err != nil {
		h.logger.Error("write dashboard csv", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="barangay-stats-%d.csv"`, year))
	_, _ = buf.WriteTo(w)
}

func parseYear(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return latestYear(), nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil || !slices.Contains(emisapi.SupportedYears, year) {
		return 0, fmt.Errorf("year must be one of %s", joinYears(emisapi.SupportedYears))
	}
	return year, nil
}

func latestYear() int {
	return slices.Max(emisapi.SupportedYears)
}

func joinYears(years []int) string {
	parts := make([]string, len(years))
	for i, y := range years {
		parts[i] = strconv.Itoa(y)
	}
	return strings.Join(parts, ", ")
}

func statusRows(counts map[string]int) []statusRow {
	rows := make([]statusRow, 0, len(counts))
	for status, count := range counts {
		rows = append(rows, statusRow{Status: status, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Status < rows[j].Status
	})
	return rows
}

func barangayChart(stats []emisapi.BarangayStat) (template.HTML, error) {
	values := make([]float64, len(stats))
	labels := make([]string, len(stats))
	for i, s := range stats {
		values[i] = float64(s.Count)
		labels[i] = s.Barangay
	}
	return svg.Bars(svg.DefaultWidth, 320, values, labels, svg.BarOpts{
		Title:         "Businesses per barangay",
		Description:   "Number of registered businesses in each barangay",
		SeriesLabel:   "businesses",
		MaxLabelRunes: 14,
	})
}

func monthlyChart(totals []emisapi.MonthlyTotal) (template.HTML, error) {
	values := make([]float64, len(totals))
	labels := make([]string, len(totals))
	for i, m := range totals {
		values[i] = m.Total
		labels[i] = monthLabel(m.Month)
	}
	return svg.Line(svg.DefaultWidth, svg.DefaultHeight, values, labels, svg.LineOpts{
		Title:       "Monthly collections",
		Description: "Amount paid per month",
		ShowDots:    true,
		FormatValue: view.FormatPeso,
	})
}

// monthLabel shortens "2025-03" to "Mar"; other shapes pass through.
func monthLabel(month string) string {
	if t, err := time.Parse("2006-01", month); err == nil {
		return t.Format("Jan")
	}
	return month
}
