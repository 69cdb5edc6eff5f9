package chrome

import (
	"log/slog"
	"net/http"

	"github.com/lgu-emis/emis-web/internal/shared"
	"github.com/lgu-emis/emis-web/internal/view"
)

// Render executes a page template wrapped in the shared chrome: CSRF token,
// pending flash, current path and, for signed-in requests, the user header.
func (g *Guard) Render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	td := view.TemplateData{
		Title:       title,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if sess != nil && g.csrf != nil {
		csrfToken, err := g.csrf.EnsureToken(ctx, sess)
		if err != nil {
			g.logger.Error("ensure csrf token", slog.Any("error", err))
		}
		td.CSRFToken = csrfToken
		td.Flash = sess.PopFlash()
	}
	if principal, ok := shared.PrincipalFromContext(ctx); ok {
		user := RenderUserChrome(principal.User)
		td.User = &user
	}
	if err := g.templates.RenderStatus(w, status, name, td); err != nil {
		g.logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Flash queues a one-time message for the next rendered page.
func Flash(r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
}
