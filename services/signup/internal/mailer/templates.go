package mailer

import (
	"bytes"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"io/fs"
	"os"
	"strings"
	texttmpl "text/template"
)

//go:embed templates/*
var embedded embed.FS

// Renderer renders named templates wrapped in a shared base layout. A name
// ending in .html is rendered with html/template, anything else with
// text/template.
type Renderer struct {
	fsys fs.FS
}

// NewRenderer uses the embedded templates, or dir when it is non-empty so
// operators can restyle mails without a rebuild.
func NewRenderer(dir string) *Renderer {
	if dir != "" {
		return &Renderer{fsys: os.DirFS(dir)}
	}
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(fmt.Sprintf("mailer: embedded templates: %v", err))
	}
	return &Renderer{fsys: sub}
}

func (r *Renderer) Render(name string, data map[string]any) (string, error) {
	var buf bytes.Buffer

	if strings.HasSuffix(name, ".html") {
		tmpl, err := htmltmpl.ParseFS(r.fsys, "base.html", name)
		if err != nil {
			return "", fmt.Errorf("parse html template %s: %w", name, err)
		}
		if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
			return "", fmt.Errorf("execute html template %s: %w", name, err)
		}
		return buf.String(), nil
	}

	tmpl, err := texttmpl.ParseFS(r.fsys, "base.txt", name)
	if err != nil {
		return "", fmt.Errorf("parse text template %s: %w", name, err)
	}
	if err := tmpl.ExecuteTemplate(&buf, "base.txt", data); err != nil {
		return "", fmt.Errorf("execute text template %s: %w", name, err)
	}
	return buf.String(), nil
}
