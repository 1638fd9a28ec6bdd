package server

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web_assets
var assetsFS embed.FS

const indexFile = "index.html"

// staticHandler serves the widget bundle. Paths that do not name a file get
// index.html so client-side routes resolve.
type staticHandler struct {
	fsys fs.FS
}

func newStaticHandler(dir string, logger *slog.Logger) *staticHandler {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			logger.Info("serving widget from disk", "dir", dir)
			return &staticHandler{fsys: os.DirFS(dir)}
		}
		logger.Warn("static dir not found, using embedded widget", "dir", dir)
	}
	sub, err := fs.Sub(assetsFS, "web_assets")
	if err != nil {
		panic(err) // embedded path is fixed at build time
	}
	return &staticHandler{fsys: sub}
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" || !h.isFile(name) {
		name = indexFile
	}

	if name == indexFile {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}
	http.ServeFileFS(w, r, h.fsys, name)
}

func (h *staticHandler) isFile(name string) bool {
	info, err := fs.Stat(h.fsys, name)
	return err == nil && !info.IsDir()
}
