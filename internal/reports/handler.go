// Package reports lists the downloadable registry reports and streams them.
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lgu-emis/emis-web/internal/chrome"
	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/platform/httpx"
	"github.com/lgu-emis/emis-web/internal/shared"
)

const (
	pageName        = "reports"
	requestTimeout  = 10 * time.Second
	downloadTimeout = 2 * time.Minute
	downloadLimit   = 5
	msgLoadFailed   = "Available reports could not be loaded."
)

// API is the subset of the EMIS client the reports page calls.
type API interface {
	AvailableYears(ctx context.Context, token string) ([]int, error)
	ReportCSV(ctx context.Context, token string, year int, noPayments bool) (*emisapi.Download, error)
}

// Handler serves the reports page and downloads.
type Handler struct {
	logger *slog.Logger
	api    API
	guard  *chrome.Guard
}

// NewHandler constructs the reports handler.
func NewHandler(logger *slog.Logger, api API, guard *chrome.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, api: api, guard: guard}
}

// MountRoutes registers the page and the rate limited downloads.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports", h.showReports)
	r.Group(func(gr chi.Router) {
		gr.Use(httpx.UserRateLimit(downloadLimit, time.Minute))
		gr.Get("/reports/csv/{year}", h.download(false))
		gr.Get("/reports/csv/{year}/no-payments", h.download(true))
	})
}

type pageData struct {
	Years    []int
	Error    string
	RetryURL string
}

func (h *Handler) showReports(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	h.guard.TrackPage(r.Context(), pageName)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	years, err := h.api.AvailableYears(ctx, principal.Token)
	if err != nil {
		if emisapi.IsUnauthorized(err) {
			h.guard.Unauthorized(w, r)
			return
		}
		h.logger.Warn("available report years", slog.Any("error", err))
		h.guard.Render(w, r, http.StatusOK, "pages/reports.html", "Reports", pageData{
			Error:    emisapi.MessageOf(err, msgLoadFailed),
			RetryURL: "/reports",
		})
		return
	}
	years = slices.Clone(years)
	slices.Sort(years)
	slices.Reverse(years)
	h.guard.Render(w, r, http.StatusOK, "pages/reports.html", "Reports", pageData{Years: years})
}

func (h *Handler) download(noPayments bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := shared.PrincipalFromContext(r.Context())
		year, err := strconv.Atoi(chi.URLParam(r, "year"))
		if err != nil || year < 1900 || year > 9999 {
			http.Error(w, "invalid report year", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), downloadTimeout)
		defer cancel()
		dl, err := h.api.ReportCSV(ctx, principal.Token, year, noPayments)
		if err != nil {
			switch status := emisapi.StatusOf(err); {
			case status == http.StatusUnauthorized:
				h.guard.Unauthorized(w, r)
			case status == http.StatusNotFound:
				http.Error(w, emisapi.MessageOf(err, "report not found"), http.StatusNotFound)
			default:
				h.logger.Warn("download report", slog.Int("year", year), slog.Bool("no_payments", noPayments), slog.Any("error", err))
				http.Error(w, emisapi.MessageOf(err, "report download failed"), http.StatusBadGateway)
			}
			return
		}
		n, err := httpx.Stream(w, dl, "text/csv; charset=utf-8", fmt.Sprintf(`attachment; filename="%s"`, filename(year, noPayments)))
		if err != nil {
			h.logger.Warn("stream report", slog.Int("year", year), slog.Int64("bytes", n), slog.Any("error", err))
		}
	}
}

func filename(year int, noPayments bool) string {
	if noPayments {
		return fmt.Sprintf("business-report-%d-no-payments.csv", year)
	}
	return fmt.Sprintf("business-report-%d.csv", year)
}
