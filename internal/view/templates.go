package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/lgu-emis/emis-web/internal/shared"
	"github.com/lgu-emis/emis-web/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// UserChrome is the signed-in user as shown in the page header.
type UserChrome struct {
	ID        string
	Name      string
	Initials  string
	Email     string
	Role      string
	AvatarURL string
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	User        *UserChrome
	Data        any
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	tpl, err := template.New("root").Funcs(funcMap()).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData and a 200 status.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	return e.RenderStatus(w, http.StatusOK, name, data)
}

// RenderStatus executes a named template into a buffer and writes it with
// status. Nothing is written when execution fails.
func (e *Engine) RenderStatus(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"formatDate":   formatDate,
		"formatPeso":   FormatPeso,
		"formatNumber": FormatNumber,
		"actionClass":  actionClass,
		"isActive": func(current, prefix string) bool {
			return current == prefix || strings.HasPrefix(current, prefix+"/")
		},
		"add": func(a, b int) int { return a + b },
	}
}

func formatDate(v any) string {
	var t time.Time
	switch val := v.(type) {
	case time.Time:
		t = val
	case *time.Time:
		if val == nil {
			return ""
		}
		t = *val
	default:
		return ""
	}
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("02 Jan 2006 15:04")
}

func actionClass(action string) string {
	switch strings.ToUpper(action) {
	case "CREATE":
		return "badge badge-create"
	case "UPDATE":
		return "badge badge-update"
	case "DELETE":
		return "badge badge-delete"
	default:
		return "badge"
	}
}
