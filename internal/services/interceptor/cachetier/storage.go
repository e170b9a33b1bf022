// Package cachetier stores versioned tiers of precomputed responses.
//
// Each tier is addressed by a version tag and holds responses keyed by
// request identity (method, path, query). Tiers are written in whole batches
// so a tier never becomes visible half-populated, and old tiers are removed
// by tag once a new version activates.
package cachetier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/todo.space/internal/platform/codec"
	"github.com/louisbranch/todo.space/internal/platform/storage/sqlitedb"
	"github.com/louisbranch/todo.space/internal/services/interceptor/cachetier/migrations"
	"github.com/louisbranch/todo.space/internal/services/interceptor/response"
)

// ErrNotConfigured indicates a nil or closed storage handle.
var ErrNotConfigured = errors.New("cache storage is not configured")

// RequestKey identifies a cached request.
type RequestKey struct {
	Method string
	Path   string
	Query  string
}

// KeyFor derives the cache key of r.
func KeyFor(r *http.Request) RequestKey {
	if r == nil || r.URL == nil {
		return RequestKey{}
	}
	return RequestKey{Method: r.Method, Path: r.URL.EscapedPath(), Query: r.URL.RawQuery}
}

// KeyForPath derives a GET key from a manifest path such as "/style.css?v=2".
func KeyForPath(path string) RequestKey {
	p, query, _ := strings.Cut(path, "?")
	return RequestKey{Method: http.MethodGet, Path: p, Query: query}
}

// String renders the key as "METHOD path[?query]".
func (k RequestKey) String() string {
	if k.Query == "" {
		return k.Method + " " + k.Path
	}
	return k.Method + " " + k.Path + "?" + k.Query
}

// MatchOptions adjusts lookups.
type MatchOptions struct {
	// IgnoreSearch matches entries regardless of their query string.
	IgnoreSearch bool
}

// Entry is one cached request/response pair.
type Entry struct {
	Key      RequestKey
	Response response.Response
}

// Storage holds every cache tier in one SQLite database.
type Storage struct {
	sqlDB *sql.DB
}

// Open opens or creates cache storage at path.
func Open(ctx context.Context, path string) (*Storage, error) {
	sqlDB, err := sqlitedb.Open(ctx, path, migrations.FS)
	if err != nil {
		return nil, fmt.Errorf("open cache storage: %w", err)
	}
	return &Storage{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Tier returns a handle for the tier tagged tag. The tier itself is created
// by its first write.
func (s *Storage) Tier(tag string) *Cache {
	return &Cache{storage: s, tag: tag}
}

// Keys returns every tier tag in creation order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT tag FROM cache_tiers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list cache tiers: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan cache tier: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cache tiers: %w", err)
	}
	return tags, nil
}

// Has reports whether a tier tagged tag exists.
func (s *Storage) Has(ctx context.Context, tag string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM cache_tiers WHERE tag = ?`, tag).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check cache tier %s: %w", tag, err)
	}
	return true, nil
}

// Delete removes the tier tagged tag and all its entries. It reports whether
// the tier existed.
func (s *Storage) Delete(ctx context.Context, tag string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete cache tier %s: %w", tag, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE tag = ?`, tag); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete cache entries %s: %w", tag, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM cache_tiers WHERE tag = ?`, tag)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete cache tier %s: %w", tag, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete cache tier %s: %w", tag, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete cache tier %s: %w", tag, err)
	}
	return affected > 0, nil
}

// Match looks key up across every tier, oldest tier first, and returns the
// first hit.
func (s *Storage) Match(ctx context.Context, key RequestKey, opts MatchOptions) (response.Response, bool, error) {
	return s.match(ctx, "", key, opts)
}

func (s *Storage) match(ctx context.Context, tag string, key RequestKey, opts MatchOptions) (response.Response, bool, error) {
	if err := s.ready(ctx); err != nil {
		return response.Response{}, false, err
	}

	query := `SELECT e.status, e.header, e.body, e.body_size
	            FROM cache_entries e
	            JOIN cache_tiers t ON t.tag = e.tag
	           WHERE e.method = ? AND e.path = ?`
	args := []any{key.Method, key.Path}
	if !opts.IgnoreSearch {
		query += ` AND e.query = ?`
		args = append(args, key.Query)
	}
	if tag != "" {
		query += ` AND e.tag = ?`
		args = append(args, tag)
	}
	query += ` ORDER BY t.id, e.query LIMIT 1`

	var (
		status    int
		rawHeader []byte
		body      []byte
		bodySize  int
	)
	err := s.sqlDB.QueryRowContext(ctx, query, args...).Scan(&status, &rawHeader, &body, &bodySize)
	if errors.Is(err, sql.ErrNoRows) {
		return response.Response{}, false, nil
	}
	if err != nil {
		return response.Response{}, false, fmt.Errorf("match %s: %w", key, err)
	}

	resp, err := decodeEntry(status, rawHeader, body, bodySize)
	if err != nil {
		return response.Response{}, false, fmt.Errorf("match %s: %w", key, err)
	}
	return resp, true, nil
}

func (s *Storage) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return ErrNotConfigured
	}
	return nil
}

func encodeEntry(resp response.Response) (header []byte, body []byte, err error) {
	h := resp.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if h.Get("ETag") == "" {
		h.Set("ETag", ETag(resp.Body))
	}
	header, err = codec.Marshal(map[string][]string(h))
	if err != nil {
		return nil, nil, fmt.Errorf("encode header: %w", err)
	}
	body, err = compressBody(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return header, body, nil
}

func decodeEntry(status int, rawHeader, body []byte, bodySize int) (response.Response, error) {
	var header map[string][]string
	if err := codec.Unmarshal(rawHeader, &header); err != nil {
		return response.Response{}, fmt.Errorf("decode header: %w", err)
	}
	decoded, err := decompressBody(body, bodySize)
	if err != nil {
		return response.Response{}, err
	}
	return response.Response{Status: status, Header: http.Header(header), Body: decoded}, nil
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}
