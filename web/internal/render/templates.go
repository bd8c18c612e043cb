package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/web/templates"
)

// Version is reported in the page footer and /version. Set at build time
// with -ldflags "-X github.com/sluggisty/dashboard/web/internal/render.Version=..."
var Version = "dev"

// TemplateSet holds all parsed page templates
// Each page is stored as a completely separate template.Template
// to avoid {{define "content"}} block collisions
type TemplateSet struct {
	pages map[string]*template.Template
	mu    sync.RWMutex
}

// Execute renders the specified page template
// pageName should be the filename like "hosts.html"
// This method always executes the "base" layout, which will use the
// {{define "content"}}, {{define "title"}}, etc. blocks from the specific page
func (ts *TemplateSet) Execute(w io.Writer, pageName string, data interface{}) error {
	ts.mu.RLock()
	tmpl, ok := ts.pages[pageName]
	ts.mu.RUnlock()

	if !ok {
		return fmt.Errorf("template %q not found", pageName)
	}

	// Render fully before writing so a failing template does not leave half a page
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// Has checks if a template exists
func (ts *TemplateSet) Has(pageName string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	_, ok := ts.pages[pageName]
	return ok
}

// Names returns all available template names, sorted
func (ts *TemplateSet) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	names := make([]string, 0, len(ts.pages))
	for name := range ts.pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Funcs returns the functions available to every template
func Funcs() template.FuncMap {
	return template.FuncMap{
		"renderMarkdown": Markdown,
		"timeAgo":        TimeAgo,
		"formatTime":     FormatTime,
		"roleClass": func(role entities.Role) string {
			if !role.Valid() {
				return "role-unknown"
			}
			return "role-" + string(role)
		},
		"dict": func(values ...interface{}) map[string]interface{} {
			if len(values)%2 != 0 {
				return nil
			}
			dict := make(map[string]interface{}, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					return nil
				}
				dict[key] = values[i+1]
			}
			return dict
		},
		"add": func(a, b int) int {
			return a + b
		},
		"assetURL": func(filename string) string {
			return "/static/" + Version + "/" + filename
		},
		"version": func() string {
			return Version
		},
		"title": func(s string) string {
			if s == "" {
				return ""
			}
			// Simple title case: capitalize first letter and lowercase the rest
			return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
		},
	}
}

// TimeAgo describes t relative to now, accepting time.Time or *time.Time
func TimeAgo(v interface{}) string {
	t, ok := asTime(v)
	if !ok {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	case d < 30*24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	}
	return t.Format("Jan 2, 2006")
}

// FormatTime formats t in UTC, accepting time.Time or *time.Time
func FormatTime(v interface{}) string {
	t, ok := asTime(v)
	if !ok {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	}
	return time.Time{}, false
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// LoadTemplates parses and loads all HTML templates with custom functions.
// If dir is empty the templates built into the binary are used.
// Returns a TemplateSet where each page is completely isolated
func LoadTemplates(dir string) (*TemplateSet, error) {
	var fsys fs.FS = templates.FS
	if dir != "" {
		fsys = os.DirFS(dir)
	}
	return LoadTemplatesFS(fsys)
}

// LoadTemplatesFS loads layouts/base.html, components/*.html and pages/*.html from fsys
func LoadTemplatesFS(fsys fs.FS) (*TemplateSet, error) {
	funcMap := Funcs()

	baseFile := path.Join("layouts", "base.html")
	componentFiles, err := fs.Glob(fsys, path.Join("components", "*.html"))
	if err != nil {
		return nil, fmt.Errorf("failed to list component templates: %w", err)
	}

	pageFiles, err := fs.Glob(fsys, path.Join("pages", "*.html"))
	if err != nil {
		return nil, fmt.Errorf("failed to list page templates: %w", err)
	}

	if len(pageFiles) == 0 {
		return nil, fmt.Errorf("no page templates found in pages/")
	}

	// Create template set
	ts := &TemplateSet{
		pages: make(map[string]*template.Template),
	}

	// Parse each page into its OWN completely isolated template
	for _, pageFile := range pageFiles {
		pageName := path.Base(pageFile)

		// Build list of files: base + components + this page ONLY
		filesToParse := []string{baseFile}
		filesToParse = append(filesToParse, componentFiles...)
		filesToParse = append(filesToParse, pageFile)

		pageTemplate, err := template.New("base").Funcs(funcMap).ParseFS(fsys, filesToParse...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", pageName, err)
		}

		ts.pages[pageName] = pageTemplate
	}

	return ts, nil
}

// LogTemplateNames logs all available template names
func LogTemplateNames(ts *TemplateSet, logger *slog.Logger) {
	logger.Debug("loaded templates", slog.Any("names", ts.Names()))
}
