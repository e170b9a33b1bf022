// Package keyval provides a transactional key-value store on SQLite.
//
// Every operation runs in its own transaction scoped to one named store in
// one named database: reads use a read-only transaction, writes a read-write
// one. Batch writes commit together or not at all, and Update reads,
// transforms, and writes a key without another writer interleaving.
package keyval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/todo.space/internal/platform/storage/keyval/migrations"
	"github.com/louisbranch/todo.space/internal/platform/storage/sqlitedb"
)

const (
	// DefaultDatabase names the database used when callers do not pick one.
	DefaultDatabase = "keyval-store"
	// DefaultStore names the store used when callers do not pick one.
	DefaultStore = "keyval"
)

var (
	// ErrNotConfigured indicates a nil store or closed database handle.
	ErrNotConfigured = errors.New("storage is not configured")
	// ErrInvalidName indicates a database or store name that cannot be used.
	ErrInvalidName = errors.New("invalid storage name")
	// ErrClosed indicates the database set has been closed.
	ErrClosed = errors.New("databases closed")
)

var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Databases lazily opens one SQLite file per database name under a directory.
type Databases struct {
	dir string

	mu     sync.Mutex
	closed bool
	byName map[string]*database

	defaultOnce  sync.Once
	defaultStore *Store
	defaultErr   error
}

type database struct {
	once  sync.Once
	sqlDB *sql.DB
	err   error
}

// NewDatabases returns a database set rooted at dir. Nothing is opened until
// the first store is requested.
func NewDatabases(dir string) *Databases {
	return &Databases{
		dir:    filepath.Clean(strings.TrimSpace(dir)),
		byName: make(map[string]*database),
	}
}

// Default returns the process-wide default store, creating it on first use.
func (d *Databases) Default(ctx context.Context) (*Store, error) {
	if d == nil {
		return nil, ErrNotConfigured
	}
	d.defaultOnce.Do(func() {
		d.defaultStore, d.defaultErr = d.Store(ctx, DefaultDatabase, DefaultStore)
	})
	return d.defaultStore, d.defaultErr
}

// Store returns the named store, creating the database file and registering
// the store if absent. Repeated calls are idempotent.
func (d *Databases) Store(ctx context.Context, dbName, storeName string) (*Store, error) {
	if d == nil {
		return nil, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dbName = strings.TrimSpace(dbName)
	if !databaseNamePattern.MatchString(dbName) {
		return nil, fmt.Errorf("%w: database %q", ErrInvalidName, dbName)
	}
	if strings.TrimSpace(storeName) == "" {
		return nil, fmt.Errorf("%w: store name is required", ErrInvalidName)
	}

	sqlDB, err := d.open(ctx, dbName)
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO keyval_stores (name, created_at) VALUES (?, ?)`,
		storeName,
		time.Now().UTC().UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("create store %s: %w", storeName, err)
	}
	return &Store{sqlDB: sqlDB, name: storeName}, nil
}

func (d *Databases) open(ctx context.Context, dbName string) (*sql.DB, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	db, ok := d.byName[dbName]
	if !ok {
		db = &database{}
		d.byName[dbName] = db
	}
	d.mu.Unlock()

	db.once.Do(func() {
		path := filepath.Join(d.dir, dbName+".db")
		db.sqlDB, db.err = sqlitedb.Open(ctx, path, migrations.FS)
		if db.err != nil {
			db.err = fmt.Errorf("open database %s: %w", dbName, db.err)
		}
	})
	return db.sqlDB, db.err
}

// Close closes every opened database.
func (d *Databases) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for name, db := range d.byName {
		// Waits for an in-flight open and prevents a later one.
		db.once.Do(func() { db.err = ErrClosed })
		if db.sqlDB == nil {
			continue
		}
		if err := db.sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
