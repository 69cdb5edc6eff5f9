// Package chrome is the session-and-navigation frame every portal page is
// composed with: the session guard, the user header, logout and presence.
package chrome

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/platform/httpx"
	"github.com/lgu-emis/emis-web/internal/shared"
	"github.com/lgu-emis/emis-web/internal/token"
	"github.com/lgu-emis/emis-web/internal/view"
)

// LoginPath is the entry page unauthenticated visitors are sent to.
const LoginPath = "/login"

const upstreamCallTimeout = 3 * time.Second

// API is the subset of the EMIS client the chrome calls.
type API interface {
	Logout(ctx context.Context, token string) error
	UpdateCurrentPage(ctx context.Context, token, page string) error
}

// VerifyScheduler queues a background token re-verification.
type VerifyScheduler interface {
	ScheduleVerify(ctx context.Context, sessionID string) error
}

// SessionEnder closes the registry row of a session.
type SessionEnder interface {
	End(ctx context.Context, sessionID, reason string) error
}

// Config groups Guard dependencies.
type Config struct {
	Logger    *slog.Logger
	Sessions  *shared.SessionManager
	CSRF      *shared.CSRFManager
	Templates *view.Engine
	Inspector *token.Inspector
	API       API
	Scheduler VerifyScheduler
	Registry  SessionEnder
}

// Guard gates pages on a plausible session and renders the shared chrome.
type Guard struct {
	logger    *slog.Logger
	sessions  *shared.SessionManager
	csrf      *shared.CSRFManager
	templates *view.Engine
	inspector *token.Inspector
	api       API
	scheduler VerifyScheduler
	registry  SessionEnder
}

// NewGuard builds a Guard instance.
func NewGuard(cfg Config) *Guard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inspector := cfg.Inspector
	if inspector == nil {
		inspector = token.NewInspector()
	}
	return &Guard{
		logger:    logger,
		sessions:  cfg.Sessions,
		csrf:      cfg.CSRF,
		templates: cfg.Templates,
		inspector: inspector,
		api:       cfg.API,
		scheduler: cfg.Scheduler,
		registry:  cfg.Registry,
	}
}

// RequireSession admits requests whose session holds a well-formed,
// unexpired token whose subject matches the cached user. Anything else
// clears the stored credentials and sends the visitor to LoginPath.
func (g *Guard) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		principal, reason := g.check(sess)
		if reason != "" {
			g.reject(w, r, sess, reason)
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), principal)
		if g.scheduler != nil {
			if err := g.scheduler.ScheduleVerify(ctx, sess.ID); err != nil {
				g.logger.Warn("schedule token verification", slog.Any("error", err))
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CurrentPrincipal returns the principal of an unguarded request when its
// session passes the same checks RequireSession applies.
func (g *Guard) CurrentPrincipal(r *http.Request) (shared.Principal, bool) {
	principal, reason := g.check(shared.SessionFromContext(r.Context()))
	return principal, reason == ""
}

func (g *Guard) check(sess *shared.Session) (shared.Principal, string) {
	if sess == nil {
		return shared.Principal{}, "no session"
	}
	raw := sess.Get(shared.SessionTokenKey)
	cached := sess.Get(shared.SessionUserKey)
	if raw == "" || cached == "" {
		return shared.Principal{}, "not signed in"
	}
	var user emisapi.User
	if err := json.Unmarshal([]byte(cached), &user); err != nil {
		return shared.Principal{}, "unreadable user data"
	}
	if !token.ValidFormat(raw) {
		return shared.Principal{}, "malformed token"
	}
	if g.inspector.Expired(raw) {
		return shared.Principal{}, "expired token"
	}
	if !g.inspector.ValidateSession(raw, &user) {
		return shared.Principal{}, "subject mismatch"
	}
	return shared.Principal{Token: raw, User: user}, ""
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, sess *shared.Session, reason string) {
	if sess != nil && sess.Get(shared.SessionTokenKey) != "" {
		g.logger.Info("session rejected", slog.String("reason", reason), slog.String("path", r.URL.Path))
		g.endRegistry(r.Context(), sess.ID, "invalid")
	}
	if sess != nil {
		sess.ClearAuth()
	}
	if wantsMachineResponse(r) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "session expired")
		return
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

// Unauthorized ends the session after the EMIS API rejected its token
// with 401 and sends the visitor to the login page.
func (g *Guard) Unauthorized(w http.ResponseWriter, r *http.Request) {
	g.reject(w, r, shared.SessionFromContext(r.Context()), "api unauthorized")
}

func wantsMachineResponse(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/event-stream") || strings.Contains(accept, "application/json")
}

// BindLogout mounts POST /auth/logout.
func (g *Guard) BindLogout(r chi.Router) {
	r.Post("/auth/logout", g.handleLogout)
}

func (g *Guard) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if raw := sess.Get(shared.SessionTokenKey); raw != "" && g.api != nil {
			ctx, cancel := context.WithTimeout(r.Context(), upstreamCallTimeout)
			if err := g.api.Logout(ctx, raw); err != nil {
				g.logger.Warn("upstream logout", slog.Any("error", err))
			}
			cancel()
		}
		reason := "logout"
		if r.PostFormValue("reason") == "locked" {
			reason = "locked"
		}
		g.endRegistry(r.Context(), sess.ID, reason)
		sess.ClearAuth()
		g.sessions.Destroy(sess)
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

// RenewSession rotates the session id, typically once a login succeeds.
func (g *Guard) RenewSession(sess *shared.Session) {
	if g.sessions != nil {
		g.sessions.Renew(sess)
	}
}

// TrackPage reports the page the principal is viewing. Failures are logged.
func (g *Guard) TrackPage(ctx context.Context, page string) {
	principal, ok := shared.PrincipalFromContext(ctx)
	if !ok || g.api == nil || page == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, upstreamCallTimeout)
	defer cancel()
	if err := g.api.UpdateCurrentPage(ctx, principal.Token, page); err != nil {
		g.logger.Debug("update current page", slog.String("page", page), slog.Any("error", err))
	}
}

// RenderUserChrome maps the cached user onto the header model.
func RenderUserChrome(user emisapi.User) view.UserChrome {
	chrome := view.UserChrome{
		ID:       user.ID,
		Name:     user.DisplayName(),
		Initials: initials(user),
		Email:    user.Email,
		Role:     user.Role,
	}
	if user.HasProfilePicture && user.ID != "" {
		chrome.AvatarURL = "/users/" + user.ID + "/avatar"
	}
	return chrome
}

func initials(user emisapi.User) string {
	var out []rune
	for _, part := range []string{user.Firstname, user.Lastname} {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, []rune(part)[0])
	}
	if len(out) == 0 && user.Email != "" {
		out = append(out, []rune(user.Email)[0])
	}
	if len(out) == 0 {
		return "?"
	}
	return strings.ToUpper(string(out))
}

func (g *Guard) endRegistry(ctx context.Context, sessionID, reason string) {
	if g.registry == nil || sessionID == "" {
		return
	}
	if err := g.registry.End(ctx, sessionID, reason); err != nil {
		g.logger.Warn("close session record", slog.String("reason", reason), slog.Any("error", err))
	}
}
