package http

import (
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
)

// loadTemplates parses every page together with the layout and the
// partial_*.html files. Pages are keyed by file name without extension.
func loadTemplates(fsys fs.FS) (map[string]*template.Template, error) {
	files, err := fs.Glob(fsys, "templates/*.html")
	if err != nil {
		return nil, err
	}

	shared := []string{"templates/layout.html"}
	var pageFiles []string
	for _, file := range files {
		base := path.Base(file)
		switch {
		case base == "layout.html":
		case strings.HasPrefix(base, "partial_"):
			shared = append(shared, file)
		default:
			pageFiles = append(pageFiles, file)
		}
	}

	pages := make(map[string]*template.Template, len(pageFiles))
	for _, file := range pageFiles {
		name := strings.TrimSuffix(path.Base(file), ".html")
		t, err := template.New(name).ParseFS(fsys, append(shared[:len(shared):len(shared)], file)...)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		pages[name] = t
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no page templates found")
	}
	return pages, nil
}
