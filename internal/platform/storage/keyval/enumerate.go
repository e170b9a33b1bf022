package keyval

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/louisbranch/todo.space/internal/platform/codec"
)

// Keys returns every key of the store in key order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.walk(ctx, false, func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	return keys, nil
}

// Values returns every value of the store in key order.
func (s *Store) Values(ctx context.Context) ([]any, error) {
	var values []any
	err := s.walk(ctx, true, func(key string, raw []byte) error {
		value, err := codec.Decode(raw)
		if err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}
		values = append(values, value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("values: %w", err)
	}
	return values, nil
}

// Entries returns every key/value pair of the store in key order.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.walk(ctx, true, func(key string, raw []byte) error {
		value, err := codec.Decode(raw)
		if err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}
		entries = append(entries, Entry{Key: key, Value: value})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("entries: %w", err)
	}
	return entries, nil
}

// walk visits every row of the store exactly once in key order inside one
// read-only transaction. Values are only selected when withValues is set.
func (s *Store) walk(ctx context.Context, withValues bool, visit func(key string, raw []byte) error) error {
	return s.view(ctx, func(tx *sql.Tx) error {
		query := `SELECT key FROM keyval_entries WHERE store = ? ORDER BY key`
		if withValues {
			query = `SELECT key, value FROM keyval_entries WHERE store = ? ORDER BY key`
		}
		rows, err := tx.QueryContext(ctx, query, s.name)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			var raw []byte
			if withValues {
				err = rows.Scan(&key, &raw)
			} else {
				err = rows.Scan(&key)
			}
			if err != nil {
				return err
			}
			if err := visit(key, raw); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}
