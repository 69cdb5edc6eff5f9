package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/lgu-emis/emis-web/internal/audit/http"
	"github.com/lgu-emis/emis-web/internal/auth"
	"github.com/lgu-emis/emis-web/internal/chrome"
	"github.com/lgu-emis/emis-web/internal/dashboard"
	"github.com/lgu-emis/emis-web/internal/observability"
	"github.com/lgu-emis/emis-web/internal/realtime"
	"github.com/lgu-emis/emis-web/internal/reports"
	"github.com/lgu-emis/emis-web/internal/shared"
	"github.com/lgu-emis/emis-web/internal/users"
	"github.com/lgu-emis/emis-web/jobs"
	"github.com/lgu-emis/emis-web/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SessionManager   *shared.SessionManager
	CSRFManager      *shared.CSRFManager
	Guard            *chrome.Guard
	AuthHandler      *auth.Handler
	DashboardHandler *dashboard.Handler
	AuditHandler     *audithttp.Handler
	UsersHandler     *users.Handler
	ReportsHandler   *reports.Handler
	RealtimeHandler  *realtime.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if params.Guard != nil {
			if _, ok := params.Guard.CurrentPrincipal(r); ok {
				http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
				return
			}
		}
		http.Redirect(w, r, chrome.LoginPath, http.StatusSeeOther)
	})

	r.Group(func(r chi.Router) {
		r.Use(chimw.Logger)
		r.Use(PageTimeout(params.Config))
		r.Use(chimw.Compress(5))

		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}
		if params.Guard == nil {
			return
		}
		params.Guard.BindLogout(r)

		r.Group(func(r chi.Router) {
			r.Use(params.Guard.RequireSession)
			if params.DashboardHandler != nil {
				params.DashboardHandler.MountRoutes(r)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
			if params.UsersHandler != nil {
				params.UsersHandler.MountRoutes(r)
			}
		})
	})

	// Long-lived responses: the event stream and report downloads carry
	// their own deadlines and must not be buffered by compression.
	if params.Guard != nil {
		r.Group(func(r chi.Router) {
			r.Use(params.Guard.RequireSession)
			if params.RealtimeHandler != nil {
				params.RealtimeHandler.MountRoutes(r)
			}
			if params.ReportsHandler != nil {
				params.ReportsHandler.MountRoutes(r)
			}
		})
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// AdminParams groups dependencies of the internal listener.
type AdminParams struct {
	Metrics    *observability.Metrics
	JobHandler *jobs.Handler
}

// NewAdminRouter serves operational endpoints on the internal listener.
func NewAdminRouter(params AdminParams) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	return r
}

// staticCacheHandler marks embedded assets cacheable for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
