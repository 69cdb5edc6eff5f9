package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lgu-emis/emis-web/internal/chrome"
	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/platform/httpx"
	"github.com/lgu-emis/emis-web/internal/shared"
)

const (
	dashboardPath        = "/dashboard"
	msgLoginFailed       = "Login failed. Please try again."
	msgRegisterFailed    = "Registration failed. Please try again."
	msgServerUnreachable = "The server could not be reached. Please try again."
	msgEmailTaken        = "Email is already registered"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     *chrome.Guard
	remember  *shared.RememberMe
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard *chrome.Guard, remember *shared.RememberMe) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		guard:     guard,
		remember:  remember,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Get("/register", h.showRegister)
	r.Post("/register", h.handleRegister)
	r.Post("/register/check-email", h.handleCheckEmail)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
	Remember bool
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

type registerForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
	Confirm  string `validate:"required,eqfield=Password"`
}

type registerPageData struct {
	Form   registerForm
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.guard.CurrentPrincipal(r); ok {
		http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
		return
	}
	form := loginForm{}
	if h.remember != nil {
		if email := h.remember.Recall(r); email != "" {
			form.Email = email
			form.Remember = true
		}
	}
	h.guard.Render(w, r, http.StatusOK, "pages/login.html", "Sign in", loginPageData{Form: form})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		Remember: r.PostFormValue("remember") != "",
	}
	errs := h.validate(form)
	status := http.StatusBadRequest
	if len(errs) == 0 {
		result, err := h.service.Login(r.Context(), form.Email, form.Password)
		if err == nil {
			h.completeLogin(w, r, form, result)
			return
		}
		h.logger.Info("login rejected", slog.Int("status", emisapi.StatusOf(err)), slog.Any("error", err))
		errs["general"], status = loginFailure(err)
	}
	form.Password = ""
	h.guard.Render(w, r, status, "pages/login.html", "Sign in", loginPageData{Form: form, Errors: errs})
}

func (h *Handler) completeLogin(w http.ResponseWriter, r *http.Request, form loginForm, result emisapi.LoginResult) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	userJSON, err := json.Marshal(result.User)
	if err != nil {
		h.logger.Error("encode user data", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.guard.RenewSession(sess)
	sess.Set(shared.SessionTokenKey, result.Token)
	sess.Set(shared.SessionUserKey, string(userJSON))
	sess.SetUser(result.User.ID)
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + result.User.DisplayName()})

	if h.remember != nil {
		if form.Remember {
			if err := h.remember.Remember(w, result.User.Email); err != nil {
				h.logger.Warn("remember me", slog.Any("error", err))
			}
		} else {
			h.remember.Forget(w)
		}
	}

	rec := SessionRecord{
		SessionID:  sess.ID,
		PreviousID: sess.PreviousID(),
		UserID:     result.User.ID,
		Email:      result.User.Email,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		CreatedAt:  time.Now(),
	}
	if err := h.service.RecordLogin(r.Context(), rec); err != nil {
		h.logger.Warn("record login", slog.Any("error", err))
	}
	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

func loginFailure(err error) (string, int) {
	status := emisapi.StatusOf(err)
	switch {
	case errors.Is(err, ErrIncompleteLogin):
		return msgLoginFailed, http.StatusBadGateway
	case status >= 400 && status < 500:
		return emisapi.MessageOf(err, msgLoginFailed), http.StatusBadRequest
	default:
		return msgServerUnreachable, http.StatusBadGateway
	}
}

func (h *Handler) showRegister(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.guard.CurrentPrincipal(r); ok {
		http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
		return
	}
	h.guard.Render(w, r, http.StatusOK, "pages/register.html", "Create account", registerPageData{})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := registerForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		Confirm:  r.PostFormValue("confirm"),
	}
	errs := h.validate(form)
	status := http.StatusBadRequest
	if len(errs) == 0 {
		err := h.service.Register(r.Context(), form.Email, form.Password)
		if err == nil {
			chrome.Flash(r, "success", "Registration successful. Please sign in.")
			http.Redirect(w, r, chrome.LoginPath, http.StatusSeeOther)
			return
		}
		switch code := emisapi.StatusOf(err); {
		case errors.Is(err, ErrEmailTaken):
			errs["Email"] = msgEmailTaken
		case code >= 400 && code < 500:
			errs["general"] = emisapi.MessageOf(err, msgRegisterFailed)
		default:
			h.logger.Warn("register", slog.Any("error", err))
			errs["general"] = msgServerUnreachable
			status = http.StatusBadGateway
		}
	}
	form.Password, form.Confirm = "", ""
	h.guard.Render(w, r, status, "pages/register.html", "Create account", registerPageData{Form: form, Errors: errs})
}

type checkEmailRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	var req checkEmailRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: malformed body", httpx.ErrValidation))
		return
	}
	if err := h.validator.Var(req.Email, "required,email"); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: enter a valid email address", httpx.ErrValidation))
		return
	}
	exists, err := h.service.EmailTaken(r.Context(), req.Email)
	if err != nil {
		h.logger.Warn("check email", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrUpstream, emisapi.MessageOf(err, "email check failed")))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (h *Handler) validate(form any) map[string]string {
	errs := make(map[string]string)
	err := h.validator.Struct(form)
	if err == nil {
		return errs
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs["general"] = err.Error()
		return errs
	}
	for _, fe := range fieldErrs {
		errs[fe.Field()] = fieldMessage(fe)
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Enter a valid email address"
	case "min":
		return fmt.Sprintf("Must be at least %s characters", fe.Param())
	case "eqfield":
		return "Passwords do not match"
	default:
		return fe.Error()
	}
}
