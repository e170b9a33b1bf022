package keyval

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbs := NewDatabases(t.TempDir())
	t.Cleanup(func() {
		if err := dbs.Close(); err != nil {
			t.Fatalf("close databases: %v", err)
		}
	})
	store, err := dbs.Default(context.Background())
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	return store
}

func TestSetGetRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Set(ctx, "filter", "done"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, found, err := store.Get(ctx, "filter")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != "done" {
		t.Fatalf("Get() = %v, %t, want done, true", value, found)
	}

	if err := store.Set(ctx, "filter", "left"); err != nil {
		t.Fatalf("Set() upsert error = %v", err)
	}
	value, _, err = store.Get(ctx, "filter")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "left" {
		t.Fatalf("Get() after upsert = %v, want left", value)
	}
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	value, found, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found || value != nil {
		t.Fatalf("Get() = %v, %t, want nil, false", value, found)
	}
}

func TestStoredNilIsFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Set(ctx, "empty", nil); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, found, err := store.Get(ctx, "empty")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != nil {
		t.Fatalf("Get() = %v, %t, want nil, true", value, found)
	}
}

func TestGetManyPreservesOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.SetMany(ctx, []Entry{{Key: "a", Value: "1"}, {Key: "c", Value: "3"}}); err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}
	got, err := store.GetMany(ctx, []string{"c", "b", "a"})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	want := []Lookup{{Value: "3", Found: true}, {}, {Value: "1", Found: true}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetMany() = %#v, want %#v", got, want)
	}
}

func TestSetManyIsAtomicOnEncodeFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	err := store.SetMany(ctx, []Entry{
		{Key: "a", Value: "1"},
		{Key: "b", Value: make(chan int)},
		{Key: "c", Value: "3"},
	})
	if err == nil {
		t.Fatal("expected SetMany() error")
	}
	assertKeys(t, store, nil)
}

func TestSetManyIsAtomicOnEngineFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.sqlDB.Exec(`CREATE TRIGGER reject_b BEFORE INSERT ON keyval_entries
		WHEN NEW.key = 'b' BEGIN SELECT RAISE(ABORT, 'rejected'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	err := store.SetMany(ctx, []Entry{
		{Key: "a", Value: 1},
		{Key: "b", Value: 2},
		{Key: "c", Value: 3},
	})
	if err == nil {
		t.Fatal("expected SetMany() error")
	}
	assertKeys(t, store, nil)
}

func TestDeleteManyIsAtomic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.SetMany(ctx, []Entry{{Key: "a", Value: 1}, {Key: "b", Value: 2}, {Key: "c", Value: 3}}); err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}
	if _, err := store.sqlDB.Exec(`CREATE TRIGGER keep_b BEFORE DELETE ON keyval_entries
		WHEN OLD.key = 'b' BEGIN SELECT RAISE(ABORT, 'rejected'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if err := store.DeleteMany(ctx, []string{"a", "b", "c"}); err == nil {
		t.Fatal("expected DeleteMany() error")
	}
	assertKeys(t, store, []string{"a", "b", "c"})
}

func TestDeleteAndClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.SetMany(ctx, []Entry{{Key: "a", Value: 1}, {Key: "b", Value: 2}, {Key: "c", Value: 3}}); err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}
	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatalf("Delete() missing error = %v", err)
	}
	assertKeys(t, store, []string{"a", "c"})

	if err := store.DeleteMany(ctx, []string{"a"}); err != nil {
		t.Fatalf("DeleteMany() error = %v", err)
	}
	assertKeys(t, store, []string{"c"})

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	assertKeys(t, store, nil)
}

func TestUpdateAppliesTransformation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	appendItem := func(current any, found bool) (any, error) {
		var items []any
		if found {
			items = current.([]any)
		}
		return append(items, "milk"), nil
	}
	for i := 0; i < 2; i++ {
		if err := store.Update(ctx, "todos", appendItem); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	value, _, err := store.Get(ctx, "todos")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(value, []any{"milk", "milk"}) {
		t.Fatalf("Get() = %#v", value)
	}
}

func TestUpdateErrorRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Set(ctx, "count", "one"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	errBoom := errors.New("boom")
	err := store.Update(ctx, "count", func(any, bool) (any, error) {
		return nil, errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Update() error = %v, want %v", err, errBoom)
	}
	value, _, err := store.Get(ctx, "count")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "one" {
		t.Fatalf("Get() = %v, want one", value)
	}
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- UpdateAs(ctx, store, "counter", 0, func(n int) (int, error) {
				return n + 1, nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("UpdateAs() error = %v", err)
		}
	}

	got, found, err := GetAs[int](ctx, store, "counter")
	if err != nil {
		t.Fatalf("GetAs() error = %v", err)
	}
	if !found || got != workers {
		t.Fatalf("counter = %d, %t, want %d", got, found, workers)
	}
}

func TestEnumerationUsesKeyOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.SetMany(ctx, []Entry{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}, {Key: "c", Value: "3"}}); err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}
	assertKeys(t, store, []string{"a", "b", "c"})

	values, err := store.Values(ctx)
	if err != nil {
		t.Fatalf("Values() error = %v", err)
	}
	if !reflect.DeepEqual(values, []any{"1", "2", "3"}) {
		t.Fatalf("Values() = %#v", values)
	}

	entries, err := store.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	want := []Entry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}, {Key: "c", Value: "3"}}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("Entries() = %#v, want %#v", entries, want)
	}
}

func TestStoresAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbs := NewDatabases(t.TempDir())
	defer dbs.Close()

	first, err := dbs.Store(ctx, "app", "first")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	second, err := dbs.Store(ctx, "app", "second")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := first.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, found, err := second.Get(ctx, "k"); err != nil || found {
		t.Fatalf("second.Get() = %t, %v, want absent", found, err)
	}
}

func TestDefaultStoreIsReused(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbs := NewDatabases(t.TempDir())
	defer dbs.Close()

	first, err := dbs.Default(ctx)
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	second, err := dbs.Default(ctx)
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if first != second {
		t.Fatal("expected the same default store")
	}
	if first.Name() != DefaultStore {
		t.Fatalf("Name() = %q, want %q", first.Name(), DefaultStore)
	}
}

func TestStoreRejectsInvalidNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbs := NewDatabases(t.TempDir())
	defer dbs.Close()

	if _, err := dbs.Store(ctx, "../escape", "s"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Store() error = %v, want %v", err, ErrInvalidName)
	}
	if _, err := dbs.Store(ctx, "app", " "); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Store() error = %v, want %v", err, ErrInvalidName)
	}
}

func TestClosedDatabasesRejectStores(t *testing.T) {
	t.Parallel()
	dbs := NewDatabases(t.TempDir())
	if err := dbs.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := dbs.Store(context.Background(), "app", "s"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Store() error = %v, want %v", err, ErrClosed)
	}
}

func TestNilStoreIsNotConfigured(t *testing.T) {
	t.Parallel()
	var store *Store
	if err := store.Set(context.Background(), "k", "v"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Set() error = %v, want %v", err, ErrNotConfigured)
	}
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Set(ctx, "k", "v"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Set() error = %v, want %v", err, context.Canceled)
	}
}

func assertKeys(t *testing.T, store *Store, want []string) {
	t.Helper()
	keys, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
}

func TestAcceptedValuesReadBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	type note struct {
		Text string
	}
	if err := store.Set(ctx, "raw", "\xff"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := UpdateAs(ctx, store, "notes", []note{}, func(notes []note) ([]note, error) {
		return append(notes, note{Text: "a\xffb"}), nil
	}); err != nil {
		t.Fatalf("UpdateAs() error = %v", err)
	}
	if err := UpdateAs(ctx, store, "notes", []note{}, func(notes []note) ([]note, error) {
		return append(notes, note{Text: "milk"}), nil
	}); err != nil {
		t.Fatalf("UpdateAs() after invalid text error = %v", err)
	}

	value, found, err := store.Get(ctx, "raw")
	if err != nil || !found || value != "\xff" {
		t.Fatalf("Get() = %q, %t, %v", value, found, err)
	}
	notes, _, err := GetAs[[]note](ctx, store, "notes")
	if err != nil {
		t.Fatalf("GetAs() error = %v", err)
	}
	if !reflect.DeepEqual(notes, []note{{Text: "a\xffb"}, {Text: "milk"}}) {
		t.Fatalf("GetAs() = %q", notes)
	}
	if _, err := store.Values(ctx); err != nil {
		t.Fatalf("Values() error = %v", err)
	}
	if _, err := store.Entries(ctx); err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
}
