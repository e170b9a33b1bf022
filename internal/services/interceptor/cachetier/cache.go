package cachetier

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/todo.space/internal/services/interceptor/response"
	"golang.org/x/sync/errgroup"
)

// ErrFetch indicates a manifest entry could not be fetched.
var ErrFetch = errors.New("fetch manifest entry")

// Fetcher retrieves the response cached for a manifest path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (response.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, path string) (response.Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, path string) (response.Response, error) {
	return f(ctx, path)
}

// Cache is one tier of cached responses.
type Cache struct {
	storage *Storage
	tag     string
}

// Tag returns the tier tag.
func (c *Cache) Tag() string {
	return c.tag
}

// Put stores one entry, creating the tier if needed.
func (c *Cache) Put(ctx context.Context, key RequestKey, resp response.Response) error {
	return c.PutAll(ctx, []Entry{{Key: key, Response: resp}})
}

// PutAll stores entries in one transaction, creating the tier if needed.
// Either every entry is stored or none is.
func (c *Cache) PutAll(ctx context.Context, entries []Entry) error {
	s := c.storage
	if err := s.ready(ctx); err != nil {
		return err
	}

	type encoded struct {
		key    RequestKey
		status int
		header []byte
		body   []byte
		size   int
	}
	rows := make([]encoded, 0, len(entries))
	for _, entry := range entries {
		header, body, err := encodeEntry(entry.Response)
		if err != nil {
			return fmt.Errorf("put %s: %w", entry.Key, err)
		}
		rows = append(rows, encoded{
			key:    entry.Key,
			status: entry.Response.Status,
			header: header,
			body:   body,
			size:   len(entry.Response.Body),
		})
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put cache tier %s: %w", c.tag, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_tiers (tag, created_at) VALUES (?, ?)`,
		c.tag, nowMillis(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("create cache tier %s: %w", c.tag, err)
	}
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cache_entries (tag, method, path, query, status, header, body, body_size)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(tag, method, path, query) DO UPDATE SET
			   status = excluded.status,
			   header = excluded.header,
			   body = excluded.body,
			   body_size = excluded.body_size`,
			c.tag, row.key.Method, row.key.Path, row.key.Query,
			row.status, row.header, row.body, row.size,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("put %s: %w", row.key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache tier %s: %w", c.tag, err)
	}
	return nil
}

// Match looks key up in this tier only.
func (c *Cache) Match(ctx context.Context, key RequestKey, opts MatchOptions) (response.Response, bool, error) {
	return c.storage.match(ctx, c.tag, key, opts)
}

// Keys returns the request keys stored in this tier.
func (c *Cache) Keys(ctx context.Context) ([]RequestKey, error) {
	s := c.storage
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT method, path, query FROM cache_entries WHERE tag = ? ORDER BY path, query, method`,
		c.tag,
	)
	if err != nil {
		return nil, fmt.Errorf("list cache tier %s: %w", c.tag, err)
	}
	defer rows.Close()

	var keys []RequestKey
	for rows.Next() {
		var key RequestKey
		if err := rows.Scan(&key.Method, &key.Path, &key.Query); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cache tier %s: %w", c.tag, err)
	}
	return keys, nil
}

// AddAll fetches every path concurrently and stores the responses as GET
// entries in one transaction. A fetch error or a non-2xx response fails the
// whole batch and stores nothing. The tier exists afterwards even when paths
// is empty.
func (c *Cache) AddAll(ctx context.Context, fetcher Fetcher, paths []string) error {
	if fetcher == nil && len(paths) > 0 {
		return fmt.Errorf("add all: fetcher is required")
	}

	entries := make([]Entry, len(paths))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, path := range paths {
		group.Go(func() error {
			resp, err := fetcher.Fetch(groupCtx, path)
			if err != nil {
				return fmt.Errorf("%w %s: %w", ErrFetch, path, err)
			}
			if !resp.StatusOK() {
				return fmt.Errorf("%w %s: status %d", ErrFetch, path, resp.Status)
			}
			entries[i] = Entry{Key: KeyForPath(path), Response: resp}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return c.PutAll(ctx, entries)
}
