// Package static embeds the todo client assets and serves them as the origin
// the interceptor caches from.
package static

import (
	"bytes"
	"embed"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
)

// FS exposes the todo client assets.
//
//go:embed *.html *.css *.js *.svg
var FS embed.FS

// Manifest lists the paths cached at install time.
var Manifest = []string{"/", "/index.html", "/style.css", "/app.js", "/icons.svg"}

// Handler serves FS without directory listings or index redirects, so every
// manifest path answers 200 directly. "/" serves index.html.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		data, err := fs.ReadFile(FS, name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if contentType := mime.TypeByExtension(path.Ext(name)); contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	})
}
