// Package interceptor routes intercepted requests to registered handlers and
// falls back to versioned cached responses.
//
// A Router holds (method, template, handler) registrations and dispatches
// each request to the first registration whose method and template match.
// Requests that match nothing are answered from the cache tier, ignoring the
// query string, and otherwise with an empty 404. A Manager drives the
// install and activate transitions that provision and retire cache tiers,
// and a Host adapts both to net/http.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/louisbranch/todo.space/internal/services/interceptor/cachetier"
	"github.com/louisbranch/todo.space/internal/services/interceptor/formbody"
	"github.com/louisbranch/todo.space/internal/services/interceptor/pattern"
	"github.com/louisbranch/todo.space/internal/services/interceptor/response"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/louisbranch/todo.space/internal/services/interceptor"

// Dispatch outcomes recorded on spans.
const (
	outcomeRoute    = "route"
	outcomeCache    = "cache"
	outcomeNotFound = "not_found"
)

// ErrMethod indicates a registration with an unsupported HTTP method.
var ErrMethod = errors.New("unsupported method")

// Response is a fully buffered response returned by handlers.
type Response = response.Response

// Input carries the per-request values extracted during dispatch.
type Input struct {
	Params pattern.Params
	Body   map[string]string
	Query  map[string]string
}

// Handler answers one matched request. Errors are returned to the host
// unchanged.
type Handler func(r *http.Request, in Input) (Response, error)

// CacheMatcher looks up cached responses.
type CacheMatcher interface {
	Match(ctx context.Context, key cachetier.RequestKey, opts cachetier.MatchOptions) (response.Response, bool, error)
}

// Route is one registration.
type Route struct {
	Method  string
	Pattern pattern.Pattern
	Handler Handler
}

// RouterConfig configures a Router.
type RouterConfig struct {
	// Cache answers requests no route matches. Nil disables the fallback.
	Cache CacheMatcher
	// Logger receives decode warnings and debug lines. Nil uses log.Default().
	Logger *log.Logger
	// Debug logs every dispatched request.
	Debug bool
	// MaxBodyBytes caps body decoding; zero uses formbody.DefaultMaxBytes.
	MaxBodyBytes int64
}

// Router dispatches requests to the first matching route.
type Router struct {
	cache        CacheMatcher
	logger       *log.Logger
	debug        atomic.Bool
	maxBodyBytes int64
	tracer       trace.Tracer

	mu     sync.RWMutex
	routes []Route
}

var supportedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// NewRouter builds an empty router.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = formbody.DefaultMaxBytes
	}
	rt := &Router{
		cache:        cfg.Cache,
		logger:       logger,
		maxBodyBytes: maxBody,
		tracer:       otel.Tracer(tracerName),
	}
	rt.debug.Store(cfg.Debug)
	return rt
}

// SetDebug toggles the per-request debug log line.
func (rt *Router) SetDebug(enabled bool) {
	rt.debug.Store(enabled)
}

// Register appends a route. Routes are tried in registration order.
func (rt *Router) Register(method, template string, handler Handler) error {
	method = strings.ToUpper(strings.TrimSpace(method))
	if !supportedMethods[method] {
		return fmt.Errorf("%w: %q", ErrMethod, method)
	}
	if handler == nil {
		return fmt.Errorf("register %s %s: handler is required", method, template)
	}
	rt.mu.Lock()
	rt.routes = append(rt.routes, Route{Method: method, Pattern: pattern.Compile(template), Handler: handler})
	rt.mu.Unlock()
	return nil
}

// Get registers a GET route.
func (rt *Router) Get(template string, handler Handler) error {
	return rt.Register(http.MethodGet, template, handler)
}

// Post registers a POST route.
func (rt *Router) Post(template string, handler Handler) error {
	return rt.Register(http.MethodPost, template, handler)
}

// Put registers a PUT route.
func (rt *Router) Put(template string, handler Handler) error {
	return rt.Register(http.MethodPut, template, handler)
}

// Patch registers a PATCH route.
func (rt *Router) Patch(template string, handler Handler) error {
	return rt.Register(http.MethodPatch, template, handler)
}

// Delete registers a DELETE route.
func (rt *Router) Delete(template string, handler Handler) error {
	return rt.Register(http.MethodDelete, template, handler)
}

// Head registers a HEAD route.
func (rt *Router) Head(template string, handler Handler) error {
	return rt.Register(http.MethodHead, template, handler)
}

// Options registers an OPTIONS route.
func (rt *Router) Options(template string, handler Handler) error {
	return rt.Register(http.MethodOptions, template, handler)
}

// Routes returns a snapshot of the registrations in order.
func (rt *Router) Routes() []Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return append([]Route(nil), rt.routes...)
}

// Dispatch answers r with the first matching route, then the cache, then an
// empty 404.
func (rt *Router) Dispatch(r *http.Request) (Response, error) {
	if r == nil || r.URL == nil {
		return Response{}, fmt.Errorf("dispatch: request is required")
	}
	path := r.URL.EscapedPath()
	if rt.debug.Load() {
		rt.logger.Printf("[%s] %s", r.Method, path)
	}

	ctx, span := rt.tracer.Start(r.Context(), "interceptor.dispatch",
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	rt.mu.RLock()
	routes := rt.routes
	rt.mu.RUnlock()

	for _, route := range routes {
		if route.Method != r.Method {
			continue
		}
		params, ok, err := route.Pattern.Match(path)
		if err != nil {
			rt.logger.Printf("route match failed method=%s route=%s path=%s err=%v", r.Method, route.Pattern, path, err)
			continue
		}
		if !ok {
			continue
		}

		span.SetAttributes(
			attribute.String("http.route", route.Pattern.String()),
			attribute.String("interceptor.outcome", outcomeRoute),
		)
		in := Input{
			Params: params,
			Body:   rt.decodeBody(r),
			Query:  rt.queryValues(r),
		}
		resp, err := route.Handler(r, in)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")
		}
		return resp, err
	}

	if rt.cache != nil {
		cached, found, err := rt.cache.Match(ctx, cachetier.KeyFor(r), cachetier.MatchOptions{IgnoreSearch: true})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cache lookup failed")
			return Response{}, fmt.Errorf("cache fallback %s %s: %w", r.Method, path, err)
		}
		if found {
			span.SetAttributes(attribute.String("interceptor.outcome", outcomeCache))
			return cached, nil
		}
	}

	span.SetAttributes(attribute.String("interceptor.outcome", outcomeNotFound))
	return response.NotFound(), nil
}

// decodeBody parses a form body. Failures are logged and yield an empty map
// so a malformed body never blocks routing.
func (rt *Router) decodeBody(r *http.Request) map[string]string {
	if r.Body == nil || r.Body == http.NoBody {
		return map[string]string{}
	}
	body, err := formbody.DecodeLimit(r.Body, rt.maxBodyBytes)
	if err != nil {
		rt.logger.Printf("decode request body failed method=%s path=%s err=%v", r.Method, r.URL.EscapedPath(), err)
		return map[string]string{}
	}
	return body
}

// queryValues keeps the first value of each query parameter. Parameters
// whose key or value decodes to invalid UTF-8 are logged and dropped.
func (rt *Router) queryValues(r *http.Request) map[string]string {
	values := r.URL.Query()
	query := make(map[string]string, len(values))
	for key := range values {
		value := values.Get(key)
		if !utf8.ValidString(key) || !utf8.ValidString(value) {
			rt.logger.Printf("drop query param method=%s path=%s key=%q err=invalid UTF-8", r.Method, r.URL.EscapedPath(), key)
			continue
		}
		query[key] = value
	}
	return query
}
