package interceptor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/louisbranch/todo.space/internal/services/interceptor/cachetier"
	"github.com/louisbranch/todo.space/internal/services/interceptor/response"
)

func activeManager(t *testing.T, manifest []string, register func(*Router)) *Manager {
	t.Helper()
	ctx := context.Background()
	caches := openTestCaches(t)
	router := NewRouter(RouterConfig{Cache: caches, Logger: log.New(io.Discard, "", 0)})
	if register != nil {
		register(router)
	}
	manager, err := NewManager(ManagerConfig{
		Options: Options{Version: "1", Cache: manifest},
		Router:  router,
		Caches:  caches,
		Fetcher: cachetier.HandlerFetcher{Origin: testAssets()},
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := manager.Install(ctx); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := manager.Activate(ctx); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	return manager
}

func TestHostPassesThroughBeforeClaim(t *testing.T) {
	t.Parallel()
	caches := openTestCaches(t)
	manager, err := NewManager(ManagerConfig{Router: NewRouter(RouterConfig{}), Caches: caches})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	host := Host{Manager: manager, Origin: testAssets()}
	rec := httptest.NewRecorder()
	host.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "console.log('todo')" {
		t.Fatalf("ServeHTTP() = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	Host{Manager: manager}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHostServesRoutesAndCache(t *testing.T) {
	t.Parallel()
	manager := activeManager(t, []string{"/app.js"}, func(router *Router) {
		if err := router.Get("/todos/:id", func(_ *http.Request, in Input) (Response, error) {
			resp := response.Text(http.StatusOK, "todo "+in.Params["id"])
			resp.Header.Set("X-Todo", in.Params["id"])
			return resp, nil
		}); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	})
	host := Host{Manager: manager}

	rec := httptest.NewRecorder()
	host.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/todos/7", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "todo 7" {
		t.Fatalf("route = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Todo") != "7" {
		t.Fatalf("X-Todo = %q", rec.Header().Get("X-Todo"))
	}

	rec = httptest.NewRecorder()
	host.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js?cache=bust", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "console.log('todo')" {
		t.Fatalf("cache = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	host.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if rec.Code != http.StatusNotFound || rec.Body.Len() != 0 {
		t.Fatalf("miss = %d %q", rec.Code, rec.Body.String())
	}
}

func TestHostNotModified(t *testing.T) {
	t.Parallel()
	manager := activeManager(t, []string{"/app.js"}, nil)
	host := Host{Manager: manager}
	etag := cachetier.ETag([]byte("console.log('todo')"))

	for _, header := range []string{etag, "W/" + etag, `"other", ` + etag, "*"} {
		req := httptest.NewRequest(http.MethodGet, "/app.js", nil)
		req.Header.Set("If-None-Match", header)
		rec := httptest.NewRecorder()
		host.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotModified {
			t.Fatalf("If-None-Match %s: status = %d, want %d", header, rec.Code, http.StatusNotModified)
		}
		if rec.Body.Len() != 0 {
			t.Fatalf("If-None-Match %s: body = %q, want empty", header, rec.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	req.Header.Set("If-None-Match", `"stale"`)
	rec := httptest.NewRecorder()
	host.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stale etag: status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("ETag") != etag {
		t.Fatalf("ETag = %q, want %q", rec.Header().Get("ETag"), etag)
	}
}

func TestHostHeadStripsBody(t *testing.T) {
	t.Parallel()
	manager := activeManager(t, nil, func(router *Router) {
		if err := router.Head("/", func(*http.Request, Input) (Response, error) {
			return response.Text(http.StatusOK, "ignored"), nil
		}); err != nil {
			t.Fatalf("Head() error = %v", err)
		}
	})

	rec := httptest.NewRecorder()
	Host{Manager: manager}.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("HEAD = %d %q", rec.Code, rec.Body.String())
	}
}

func TestHostHandlerErrorWrites500(t *testing.T) {
	t.Parallel()
	manager := activeManager(t, nil, func(router *Router) {
		if err := router.Post("/todos", func(*http.Request, Input) (Response, error) {
			return Response{}, errors.New("store unavailable")
		}); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
	})

	var logs bytes.Buffer
	rec := httptest.NewRecorder()
	Host{Manager: manager, Logger: log.New(&logs, "", 0)}.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/todos", strings.NewReader("text=x")))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(logs.String(), "store unavailable") {
		t.Fatalf("logs = %q", logs.String())
	}
}
