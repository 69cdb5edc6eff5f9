package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lgu-emis/emis-web/internal/audit"
	"github.com/lgu-emis/emis-web/internal/chrome"
	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/shared"
	"github.com/lgu-emis/emis-web/internal/view"
)

const (
	pageName       = "audit"
	requestTimeout = 10 * time.Second
	msgLoadFailed  = "Audit logs could not be loaded."
)

// TimelineService defines the business contract for audit data.
type TimelineService interface {
	Timeline(ctx context.Context, token string, filters audit.Filters) (audit.Result, error)
}

// Handler serves the audit log page and its CSV export.
type Handler struct {
	logger    *slog.Logger
	service   TimelineService
	guard     *chrome.Guard
	validator *validator.Validate
}

// NewHandler creates a new audit handler.
func NewHandler(logger *slog.Logger, service TimelineService, guard *chrome.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		guard:     guard,
		validator: validator.New(),
	}
}

type filterInput struct {
	Page           int    `validate:"min=1"`
	Limit          int    `validate:"min=1"`
	Action         string `validate:"omitempty,oneof=CREATE UPDATE DELETE"`
	CollectionName string `validate:"max=64"`
	Query          string `validate:"max=200"`
}

// ViewModel is the template model of the audit page.
type ViewModel struct {
	Filters   audit.Filters
	Actions   []string
	Limits    []int
	Rows      []audit.Row
	Pager     view.Pager
	Searching bool
	Error     string
	RetryURL  string
	ExportURL string
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	vm := ViewModel{Actions: audit.Actions, Limits: []int{10, 20, 50, 100}}

	filters, err := h.parseFilters(r)
	if err != nil {
		vm.Filters = filters
		vm.Error = err.Error()
		h.guard.Render(w, r, http.StatusBadRequest, "pages/audit.html", "Audit log", vm)
		return
	}
	vm.Filters = filters
	vm.Searching = filters.Query != ""
	query := filterQuery(filters)
	vm.RetryURL = "/audit?" + query.Encode()
	vm.ExportURL = "/audit/export.csv?" + query.Encode()

	h.guard.TrackPage(r.Context(), pageName)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	result, err := h.service.Timeline(ctx, principal.Token, filters)
	if err != nil {
		if emisapi.IsUnauthorized(err) {
			h.guard.Unauthorized(w, r)
			return
		}
		h.logger.Warn("load audit timeline", slog.Any("error", err))
		vm.Error = emisapi.MessageOf(err, msgLoadFailed)
		h.guard.Render(w, r, http.StatusOK, "pages/audit.html", "Audit log", vm)
		return
	}
	vm.Rows = result.Rows
	vm.Filters.Page = result.Window.Page
	vm.Pager = view.NewPager(result.Window, "/audit", withoutPage(query))
	h.guard.Render(w, r, http.StatusOK, "pages/audit.html", "Audit log", vm)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	filters, err := h.parseFilters(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	result, err := h.service.Timeline(ctx, principal.Token, filters)
	if err != nil {
		if emisapi.IsUnauthorized(err) {
			h.guard.Unauthorized(w, r)
			return
		}
		h.logger.Warn("export audit timeline", slog.Any("error", err))
		http.Error(w, emisapi.MessageOf(err, msgLoadFailed), http.StatusBadGateway)
		return
	}
	csvBytes, err := audit.WriteCSV(result.Rows)
	if err != nil {
		h.handleServerError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-log.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	in := filterInput{
		Page:           1,
		Limit:          audit.DefaultLimit,
		Action:         strings.ToUpper(strings.TrimSpace(q.Get("action"))),
		CollectionName: strings.TrimSpace(q.Get("collectionName")),
		Query:          strings.TrimSpace(q.Get("q")),
	}
	filters := audit.Filters{Page: 1, Limit: audit.DefaultLimit, Action: in.Action, CollectionName: in.CollectionName, Query: in.Query}
	var err error
	if in.Page, err = intParam(q, "page", in.Page); err != nil {
		return filters, validationError{field: "page"}
	}
	if in.Limit, err = intParam(q, "limit", in.Limit); err != nil {
		return filters, validationError{field: "limit"}
	}
	if err := h.validator.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return filters, validationError{field: strings.ToLower(fieldErrs[0].Field())}
		}
		return filters, validationError{field: "filters"}
	}
	if in.Limit > audit.MaxLimit {
		in.Limit = audit.MaxLimit
	}
	return audit.Filters{
		Page:           in.Page,
		Limit:          in.Limit,
		Action:         in.Action,
		CollectionName: in.CollectionName,
		Query:          in.Query,
	}, nil
}

func intParam(q url.Values, name string, fallback int) (int, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func filterQuery(f audit.Filters) url.Values {
	q := url.Values{}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	if f.Action != "" {
		q.Set("action", f.Action)
	}
	if f.CollectionName != "" {
		q.Set("collectionName", f.CollectionName)
	}
	if f.Limit != audit.DefaultLimit {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Page > 1 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	return q
}

func withoutPage(q url.Values) url.Values {
	out := url.Values{}
	for k, v := range q {
		if k != "page" {
			out[k] = v
		}
	}
	return out
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

type validationError struct {
	field string
}

func (v validationError) Error() string {
	switch v.field {
	case "page":
		return "Page must be a positive number."
	case "limit":
		return "Limit must be a positive number."
	case "action":
		return "Action must be one of CREATE, UPDATE or DELETE."
	default:
		return "Invalid " + v.field + " filter."
	}
}
