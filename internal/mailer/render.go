package mailer

import (
	"embed"
	"html/template"
	"strings"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

// TemplateRenderer renders the embedded mail templates.
type TemplateRenderer struct {
	templates *template.Template
}

func NewTemplateRenderer() (*TemplateRenderer, error) {
	t, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, &domain.RenderError{Template: "*", Err: err}
	}
	return &TemplateRenderer{templates: t}, nil
}

func (r *TemplateRenderer) Render(name string, data any) (string, error) {
	var b strings.Builder
	if err := r.templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", &domain.RenderError{Template: name, Err: err}
	}
	return b.String(), nil
}
