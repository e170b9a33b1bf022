// Package todo implements the todo list handlers served through the
// interceptor router.
//
// All todos live under a single key of the default key-value store and are
// rewritten with an atomic read-modify-write on every change. The active list
// filter is persisted under its own key so it survives restarts.
package todo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/louisbranch/todo.space/internal/platform/id"
	"github.com/louisbranch/todo.space/internal/platform/storage/keyval"
)

const (
	todosKey  = "todos"
	filterKey = "filter"
)

var (
	// ErrNotFound indicates no todo has the requested id.
	ErrNotFound = errors.New("todo not found")
	// ErrEmptyText indicates an add without text.
	ErrEmptyText = errors.New("todo text is required")
)

// Filter selects which todos List returns.
type Filter string

const (
	FilterAll  Filter = "all"
	FilterDone Filter = "done"
	FilterLeft Filter = "left"
)

// ParseFilter maps raw to a Filter. Unknown values select all todos.
func ParseFilter(raw string) Filter {
	switch Filter(strings.TrimSpace(raw)) {
	case FilterDone:
		return FilterDone
	case FilterLeft:
		return FilterLeft
	default:
		return FilterAll
	}
}

// Todo is one list item.
type Todo struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Changes describes a partial update. Empty Text and nil Done keep the
// current values.
type Changes struct {
	Text string
	Done *bool
}

// Service reads and writes todos in a key-value store.
type Service struct {
	store *keyval.Store
	newID func() (string, error)
}

// NewService returns a service backed by store.
func NewService(store *keyval.Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("todo store is required")
	}
	return &Service{store: store, newID: id.NewID}, nil
}

// Filter returns the persisted filter, FilterAll when none is stored.
func (s *Service) Filter(ctx context.Context) (Filter, error) {
	raw, _, err := keyval.GetAs[string](ctx, s.store, filterKey)
	if err != nil {
		return FilterAll, fmt.Errorf("load filter: %w", err)
	}
	return ParseFilter(raw), nil
}

// SetFilter persists f.
func (s *Service) SetFilter(ctx context.Context, f Filter) error {
	if err := s.store.Set(ctx, filterKey, string(ParseFilter(string(f)))); err != nil {
		return fmt.Errorf("save filter: %w", err)
	}
	return nil
}

// List returns the todos selected by the persisted filter, in insertion
// order, together with that filter.
func (s *Service) List(ctx context.Context) ([]Todo, Filter, error) {
	todos, err := s.all(ctx)
	if err != nil {
		return nil, FilterAll, err
	}
	filter, err := s.Filter(ctx)
	if err != nil {
		return nil, FilterAll, err
	}
	switch filter {
	case FilterDone:
		todos = slices.DeleteFunc(todos, func(t Todo) bool { return !t.Done })
	case FilterLeft:
		todos = slices.DeleteFunc(todos, func(t Todo) bool { return t.Done })
	}
	return todos, filter, nil
}

// Get returns the todo with id. It searches every todo, not only those the
// current filter shows, so an item hidden by the filter can still be opened.
func (s *Service) Get(ctx context.Context, todoID string) (Todo, error) {
	todos, err := s.all(ctx)
	if err != nil {
		return Todo{}, err
	}
	idx := slices.IndexFunc(todos, func(t Todo) bool { return t.ID == todoID })
	if idx < 0 {
		return Todo{}, fmt.Errorf("%w: %s", ErrNotFound, todoID)
	}
	return todos[idx], nil
}

// Add appends a new open todo with a random id.
func (s *Service) Add(ctx context.Context, text string) (Todo, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Todo{}, ErrEmptyText
	}
	todoID, err := s.newID()
	if err != nil {
		return Todo{}, fmt.Errorf("add todo: %w", err)
	}
	created := Todo{ID: todoID, Text: text}
	err = keyval.UpdateAs(ctx, s.store, todosKey, []Todo{}, func(todos []Todo) ([]Todo, error) {
		return append(todos, created), nil
	})
	if err != nil {
		return Todo{}, fmt.Errorf("add todo: %w", err)
	}
	return created, nil
}

// Update applies changes to the todo with id. Unknown ids are left alone.
func (s *Service) Update(ctx context.Context, todoID string, changes Changes) error {
	text := strings.TrimSpace(changes.Text)
	err := keyval.UpdateAs(ctx, s.store, todosKey, []Todo{}, func(todos []Todo) ([]Todo, error) {
		for i := range todos {
			if todos[i].ID != todoID {
				continue
			}
			if text != "" {
				todos[i].Text = text
			}
			if changes.Done != nil {
				todos[i].Done = *changes.Done
			}
		}
		return todos, nil
	})
	if err != nil {
		return fmt.Errorf("update todo %s: %w", todoID, err)
	}
	return nil
}

// Delete removes the todo with id. Unknown ids are left alone.
func (s *Service) Delete(ctx context.Context, todoID string) error {
	err := keyval.UpdateAs(ctx, s.store, todosKey, []Todo{}, func(todos []Todo) ([]Todo, error) {
		return slices.DeleteFunc(todos, func(t Todo) bool { return t.ID == todoID }), nil
	})
	if err != nil {
		return fmt.Errorf("delete todo %s: %w", todoID, err)
	}
	return nil
}

func (s *Service) all(ctx context.Context) ([]Todo, error) {
	todos, _, err := keyval.GetAs[[]Todo](ctx, s.store, todosKey)
	if err != nil {
		return nil, fmt.Errorf("load todos: %w", err)
	}
	if todos == nil {
		todos = []Todo{}
	}
	return todos, nil
}
