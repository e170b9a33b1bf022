package cachetier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/louisbranch/todo.space/internal/services/interceptor/response"
)

// HandlerFetcher fetches manifest paths from an in-process origin handler.
type HandlerFetcher struct {
	Origin http.Handler
}

// Fetch serves a GET for path through the origin and captures the output.
func (f HandlerFetcher) Fetch(ctx context.Context, path string) (response.Response, error) {
	if f.Origin == nil {
		return response.Response{}, fmt.Errorf("origin handler is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return response.Response{}, fmt.Errorf("build request: %w", err)
	}
	rec := response.NewRecorder()
	f.Origin.ServeHTTP(rec, req)
	return rec.Response(), nil
}

// HTTPFetcher fetches manifest paths from an origin server.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
	// MaxBodyBytes caps each response body; zero means maxBodySize.
	MaxBodyBytes int64
}

// Fetch issues a GET for path relative to BaseURL.
func (f HTTPFetcher) Fetch(ctx context.Context, path string) (response.Response, error) {
	base, err := url.Parse(strings.TrimSpace(f.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return response.Response{}, fmt.Errorf("origin base url %q is invalid", f.BaseURL)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return response.Response{}, fmt.Errorf("parse path %q: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.ResolveReference(ref).String(), nil)
	if err != nil {
		return response.Response{}, fmt.Errorf("build request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return response.Response{}, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	limit := f.MaxBodyBytes
	if limit <= 0 {
		limit = maxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return response.Response{}, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(body)) > limit {
		return response.Response{}, fmt.Errorf("read %s: body exceeds %d bytes", path, limit)
	}

	header := resp.Header.Clone()
	header.Del("Content-Length")
	return response.Response{Status: resp.StatusCode, Header: header, Body: body}, nil
}
