package users

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lgu-emis/emis-web/internal/chrome"
	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/platform/httpx"
	"github.com/lgu-emis/emis-web/internal/shared"
	"github.com/lgu-emis/emis-web/internal/view"
)

const (
	pageName       = "users"
	requestTimeout = 10 * time.Second
	msgLoadFailed  = "Users could not be loaded."
)

var pageSizes = []int{10, 25, 50}

// Handler manages user presence endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   *chrome.Guard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard *chrome.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/users", h.listUsers)
	r.Get("/users/{id}/avatar", h.avatar)
}

type pageData struct {
	Query    string
	Size     int
	Sizes    []int
	Rows     []emisapi.User
	Pager    view.Pager
	Error    string
	RetryURL string
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	page, errPage := strconv.Atoi(q.Get("page"))
	size, errSize := strconv.Atoi(q.Get("size"))
	if q.Get("page") == "" {
		page, errPage = 1, nil
	}
	if q.Get("size") == "" {
		size, errSize = pageSizes[0], nil
	}
	data := pageData{Query: query, Size: size, Sizes: pageSizes}
	if errPage != nil || page < 1 || errSize != nil || !slices.Contains(pageSizes, size) {
		data.Size = pageSizes[0]
		data.Error = "Page and page size must be valid numbers."
		h.guard.Render(w, r, http.StatusBadRequest, "pages/users.html", "Users", data)
		return
	}

	filter := url.Values{}
	if query != "" {
		filter.Set("q", query)
	}
	if size != pageSizes[0] {
		filter.Set("size", strconv.Itoa(size))
	}
	data.RetryURL = "/users?" + filter.Encode()

	h.guard.TrackPage(r.Context(), pageName)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	state := shared.NewPageState(page, size)
	listing, err := h.service.List(ctx, principal.Token, query, state)
	if err != nil {
		if emisapi.IsUnauthorized(err) {
			h.guard.Unauthorized(w, r)
			return
		}
		h.logger.Warn("list users", slog.Any("error", err))
		data.Error = emisapi.MessageOf(err, msgLoadFailed)
		h.guard.Render(w, r, http.StatusOK, "pages/users.html", "Users", data)
		return
	}
	data.Rows = listing.Rows
	data.Pager = view.NewPager(listing.Window, "/users", filter)
	h.guard.Render(w, r, http.StatusOK, "pages/users.html", "Users", data)
}

func (h *Handler) avatar(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	userID := chi.URLParam(r, "id")
	if strings.TrimSpace(userID) == "" {
		http.NotFound(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	dl, err := h.service.ProfilePicture(ctx, principal.Token, userID)
	if err != nil {
		switch status := emisapi.StatusOf(err); {
		case status == http.StatusUnauthorized:
			h.guard.Unauthorized(w, r)
		case status == http.StatusNotFound:
			http.NotFound(w, r)
		default:
			h.logger.Warn("profile picture", slog.String("user_id", userID), slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		}
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	if _, err := httpx.Stream(w, dl, "application/octet-stream", ""); err != nil {
		h.logger.Debug("stream profile picture", slog.Any("error", err))
	}
}
