package interceptor

import (
	"log"
	"net/http"
	"strings"
)

// Host delivers net/http requests to a Manager.
//
// Until the manager claims clients, requests pass straight to Origin. Once
// it does, every request is dispatched and the buffered response written.
type Host struct {
	Manager *Manager
	// Origin serves requests the manager does not control yet. Nil answers
	// them with 503.
	Origin http.Handler
	// Logger receives handler failures. Nil uses log.Default().
	Logger *log.Logger
}

// ServeHTTP implements http.Handler.
func (h Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Manager == nil || !h.Manager.Controlling() {
		if h.Origin != nil {
			h.Origin.ServeHTTP(w, r)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	resp, err := h.Manager.Intercept(r)
	if err != nil {
		h.logger().Printf("intercept failed method=%s path=%s err=%v", r.Method, r.URL.EscapedPath(), err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if notModified(r, resp) {
		if etag := resp.Header.Get("ETag"); etag != "" {
			w.Header().Set("ETag", etag)
		}
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		resp.Body = nil
	}
	if err := resp.Write(w); err != nil {
		h.logger().Printf("write response failed method=%s path=%s err=%v", r.Method, r.URL.EscapedPath(), err)
	}
}

func (h Host) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}

// notModified reports whether a conditional GET or HEAD can be answered with
// 304 for resp.
func notModified(r *http.Request, resp Response) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if !resp.StatusOK() {
		return false
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return false
	}
	for _, candidate := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
