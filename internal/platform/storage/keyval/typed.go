package keyval

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/louisbranch/todo.space/internal/platform/codec"
)

// GetAs reads key and decodes it into T. found is false when the key is
// absent, in which case the zero T is returned.
func GetAs[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var value T
	var raw []byte
	err := s.view(ctx, func(tx *sql.Tx) error {
		var err error
		raw, err = s.getRaw(ctx, tx, key)
		return err
	})
	if err != nil {
		return value, false, fmt.Errorf("get %q: %w", key, err)
	}
	if raw == nil {
		return value, false, nil
	}
	if err := codec.Unmarshal(raw, &value); err != nil {
		return value, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return value, true, nil
}

// UpdateAs is Update for typed values. fallback is passed to fn when the key
// is absent.
func UpdateAs[T any](ctx context.Context, s *Store, key string, fallback T, fn func(T) (T, error)) error {
	if fn == nil {
		return fmt.Errorf("update %q: update func is required", key)
	}
	err := s.write(ctx, func(tx *sql.Tx) error {
		raw, err := s.getRaw(ctx, tx, key)
		if err != nil {
			return err
		}
		current := fallback
		if raw != nil {
			var decoded T
			if err := codec.Unmarshal(raw, &decoded); err != nil {
				return fmt.Errorf("decode: %w", err)
			}
			current = decoded
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		return s.put(ctx, tx, key, next)
	})
	if err != nil {
		return fmt.Errorf("update %q: %w", key, err)
	}
	return nil
}
