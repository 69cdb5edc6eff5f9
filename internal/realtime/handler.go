package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lgu-emis/emis-web/internal/platform/httpx"
	"github.com/lgu-emis/emis-web/internal/shared"
)

const defaultHeartbeat = 25 * time.Second

// LockRecorder counts lock events relayed to pages.
type LockRecorder interface {
	RecordLock()
}

// Handler serves the event stream and the visibility endpoint.
type Handler struct {
	logger    *slog.Logger
	transport Transport
	hub       *Hub
	locks     LockRecorder
	heartbeat time.Duration
}

// NewHandler constructs the realtime HTTP handler.
func NewHandler(logger *slog.Logger, transport Transport, hub *Hub, locks LockRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Handler{logger: logger, transport: transport, hub: hub, locks: locks, heartbeat: defaultHeartbeat}
}

// MountRoutes registers the stream routes. Callers mount them behind the
// session guard and outside request timeouts and compression.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/events", h.handleStream)
	r.Post("/events/visibility", h.handleVisibility)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())
	if !ok || sess == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	notifier := NewNotifier(h.transport, h.logger)
	if h.locks != nil {
		notifier.OnLock(h.locks.RecordLock)
	}
	if err := notifier.Start(r.Context(), principal.Token, principal.User.ID); err != nil || notifier.State() == StateUninitialized {
		// 204 tells EventSource to stop; the page carries on without lock notices.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	streamID := StreamID(r.URL.Query().Get("stream"))
	h.hub.Register(sess.ID, streamID, notifier)
	defer func() {
		h.hub.Unregister(sess.ID, streamID, notifier)
		notifier.Close()
	}()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, ": connected %s\n\n", streamID)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream not flushable", slog.Any("error", err))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	done := notifier.Done()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-notifier.Events():
			if err := writeEvent(w, evt); err != nil {
				h.logger.Warn("write event", slog.Any("error", err))
				return
			}
			_ = rc.Flush()
			return
		case <-done:
			if notifier.State() == StateDisconnected {
				return
			}
			// Locked while paused: keep the stream until the page resumes.
			done = nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

type visibilityRequest struct {
	State  string `json:"state"`
	Stream string `json:"stream"`
}

func (h *Handler) handleVisibility(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "session required")
		return
	}
	var req visibilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: malformed body", httpx.ErrValidation))
		return
	}
	var visible bool
	switch req.State {
	case "visible":
		visible = true
	case "hidden":
		visible = false
	default:
		httpx.RespondError(w, fmt.Errorf("%w: state must be visible or hidden", httpx.ErrValidation))
		return
	}
	if !h.hub.SetVisible(sess.ID, req.Stream, visible) {
		httpx.RespondError(w, fmt.Errorf("%w: no open event stream", httpx.ErrNotFound))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"paused": !visible})
}

func writeEvent(w http.ResponseWriter, evt Event) error {
	data, err := json.Marshal(map[string]string{"message": evt.Message})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
	return err
}
