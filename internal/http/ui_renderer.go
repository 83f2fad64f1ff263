package httpserver

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"csvtosql/internal/schema"
	"csvtosql/internal/session"
	"csvtosql/web"
)

type UIData struct {
	Title     string
	Template  string
	CSRFToken string
	Flash     *session.Flash
	Path      string
	Page      any
}

type TemplateRenderer struct {
	tmpl *template.Template
}

func NewTemplateRenderer() *TemplateRenderer {
	var tmpl *template.Template
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string {
			return t.Format("2006-01-02 15:04")
		},
		"eq": func(a, b any) bool { return a == b },
		"cell": func(f schema.Fields, column string) string {
			return f.Text(column)
		},
		"isNull": func(f schema.Fields, column string) bool {
			v, _ := f.Get(column)
			return v == nil
		},
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"derefInt": func(n *int) string {
			if n == nil {
				return ""
			}
			return strconv.Itoa(*n)
		},
		"include": func(name string, data any) (template.HTML, error) {
			var buf bytes.Buffer
			if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
				return "", err
			}
			return template.HTML(buf.String()), nil
		},
	}

	tmpl = template.Must(template.New("base").Funcs(funcs).ParseFS(web.TemplatesFS(), "*.tmpl", "partials/*.tmpl"))
	return &TemplateRenderer{tmpl: tmpl}
}

// Render writes the page with status. The template runs into a buffer first
// so a failure can still become a 500.
func (r *TemplateRenderer) Render(w http.ResponseWriter, status int, data UIData) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
