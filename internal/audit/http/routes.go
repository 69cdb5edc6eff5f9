// Package audithttp serves the audit log page.
package audithttp

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lgu-emis/emis-web/internal/platform/httpx"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes registers the audit page and the rate limited CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/audit", h.handleTimeline)
	r.Group(func(gr chi.Router) {
		gr.Use(httpx.UserRateLimit(rateLimit, rateWindow))
		gr.Get("/audit/export.csv", h.handleExport)
	})
}
