package keyval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louisbranch/todo.space/internal/platform/codec"
)

// Store addresses one named store inside a SQLite database.
type Store struct {
	sqlDB *sql.DB
	name  string
}

// Entry is one key/value pair.
type Entry struct {
	Key   string
	Value any
}

// Lookup is the result of reading one key in a batch.
type Lookup struct {
	Value any
	Found bool
}

// UpdateFunc computes the next value of a key from its current value.
// found is false when the key is absent, in which case current is nil.
type UpdateFunc func(current any, found bool) (any, error)

// Name returns the store name.
func (s *Store) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	var raw []byte
	err := s.view(ctx, func(tx *sql.Tx) error {
		var err error
		raw, err = s.getRaw(ctx, tx, key)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	if raw == nil {
		return nil, false, nil
	}
	value, err := codec.Decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return value, true, nil
}

// GetMany returns one lookup per key, in the order of keys.
func (s *Store) GetMany(ctx context.Context, keys []string) ([]Lookup, error) {
	raws := make([][]byte, len(keys))
	err := s.view(ctx, func(tx *sql.Tx) error {
		for i, key := range keys {
			raw, err := s.getRaw(ctx, tx, key)
			if err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}
			raws[i] = raw
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get many: %w", err)
	}

	lookups := make([]Lookup, len(keys))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		value, err := codec.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", keys[i], err)
		}
		lookups[i] = Lookup{Value: value, Found: true}
	}
	return lookups, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	err := s.write(ctx, func(tx *sql.Tx) error {
		return s.put(ctx, tx, key, value)
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// SetMany upserts every entry in one transaction. If any entry fails, none
// are persisted.
func (s *Store) SetMany(ctx context.Context, entries []Entry) error {
	err := s.write(ctx, func(tx *sql.Tx) error {
		for _, entry := range entries {
			if err := s.put(ctx, tx, entry.Key, entry.Value); err != nil {
				return fmt.Errorf("key %q: %w", entry.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set many: %w", err)
	}
	return nil
}

// Update applies fn to the current value of key and stores the result, all
// in one read-write transaction. An error from fn rolls back and is returned.
func (s *Store) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if fn == nil {
		return fmt.Errorf("update %q: update func is required", key)
	}
	err := s.write(ctx, func(tx *sql.Tx) error {
		raw, err := s.getRaw(ctx, tx, key)
		if err != nil {
			return err
		}
		var current any
		found := raw != nil
		if found {
			if current, err = codec.Decode(raw); err != nil {
				return fmt.Errorf("decode: %w", err)
			}
		}
		next, err := fn(current, found)
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

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.write(ctx, func(tx *sql.Tx) error {
		return s.remove(ctx, tx, key)
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// DeleteMany removes every key in one transaction. If any delete fails, none
// are applied.
func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	err := s.write(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			if err := s.remove(ctx, tx, key); err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete many: %w", err)
	}
	return nil
}

// Clear removes every entry of the store.
func (s *Store) Clear(ctx context.Context) error {
	err := s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM keyval_entries WHERE store = ?`, s.name)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (s *Store) getRaw(ctx context.Context, tx *sql.Tx, key string) ([]byte, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx,
		`SELECT value FROM keyval_entries WHERE store = ? AND key = ?`,
		s.name, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = []byte{}
	}
	return raw, nil
}

func (s *Store) put(ctx context.Context, tx *sql.Tx, key string, value any) error {
	raw, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO keyval_entries (store, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(store, key) DO UPDATE SET value = excluded.value`,
		s.name, key, raw,
	)
	return err
}

func (s *Store) remove(ctx context.Context, tx *sql.Tx, key string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM keyval_entries WHERE store = ? AND key = ?`, s.name, key)
	return err
}

// view runs fn in a read-only transaction.
func (s *Store) view(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.inTx(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

// write runs fn in a read-write transaction.
func (s *Store) write(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.inTx(ctx, nil, fn)
}

func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(*sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return ErrNotConfigured
	}
	tx, err := s.sqlDB.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
