package middleware

import (
	"io/fs"
	"net/http"
	"strings"
)

// SPAHandler serves the browser terminal from a static directory. Unknown
// paths fall back to index.html; API, WebSocket and health paths never do.
type SPAHandler struct {
	files     http.Handler
	fsys      fs.FS
	indexHTML []byte
}

func NewSPAHandler(fsys fs.FS) *SPAHandler {
	index, _ := fs.ReadFile(fsys, "index.html")
	return &SPAHandler{
		files:     http.FileServer(http.FS(fsys)),
		fsys:      fsys,
		indexHTML: index,
	}
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/health" {
		http.NotFound(w, r)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/")
	if name != "" {
		if stat, err := fs.Stat(h.fsys, name); err == nil && !stat.IsDir() {
			h.files.ServeHTTP(w, r)
			return
		}
	}

	if h.indexHTML == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(h.indexHTML)
}
