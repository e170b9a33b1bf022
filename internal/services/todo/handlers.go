package todo

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/louisbranch/todo.space/internal/services/interceptor"
	"github.com/louisbranch/todo.space/internal/services/interceptor/response"
)

const replaceURLHeader = "HX-Replace-Url"

// AppView is the full list state returned after every change.
type AppView struct {
	Filter Filter `json:"filter"`
	Todos  []Todo `json:"todos"`
}

// ItemView is a single todo as shown in the list.
type ItemView struct {
	Todo
	Editable bool `json:"editable"`
}

// Register adds the todo routes to router. Fixed paths are registered ahead
// of the captures that would shadow them.
func (s *Service) Register(router *interceptor.Router) error {
	if router == nil {
		return errors.New("router is required")
	}
	routes := []struct {
		method   string
		template string
		handler  interceptor.Handler
	}{
		{http.MethodGet, "/ui", s.handleUI},
		{http.MethodGet, "/ui/todos/:id", s.handleItem},
		{http.MethodGet, "/todos", s.handleList},
		{http.MethodGet, "/todos/add", s.handleAddQuery},
		{http.MethodPost, "/todos", s.handleAddForm},
		{http.MethodGet, "/todos/:id/update", s.handleUpdateQuery},
		{http.MethodPatch, "/todos/:id", s.handleUpdateForm},
		{http.MethodDelete, "/todos/:id", s.handleDelete},
	}
	for _, route := range routes {
		if err := router.Register(route.method, route.template, route.handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleUI(r *http.Request, in interceptor.Input) (interceptor.Response, error) {
	filter := ParseFilter(in.Query["filter"])
	if err := s.SetFilter(r.Context(), filter); err != nil {
		return interceptor.Response{}, err
	}
	resp, err := s.appView(r, http.StatusOK)
	if err != nil {
		return interceptor.Response{}, err
	}
	if filter == FilterAll {
		resp.Header.Set(replaceURLHeader, "/")
	} else {
		resp.Header.Set(replaceURLHeader, "/?filter="+string(filter))
	}
	return resp, nil
}

func (s *Service) handleItem(r *http.Request, in interceptor.Input) (interceptor.Response, error) {
	item, err := s.Get(r.Context(), in.Params["id"])
	if errors.Is(err, ErrNotFound) {
		return response.NotFound(), nil
	}
	if err != nil {
		return interceptor.Response{}, err
	}
	return response.JSON(http.StatusOK, ItemView{Todo: item, Editable: in.Query["editable"] == "true"})
}

func (s *Service) handleList(r *http.Request, _ interceptor.Input) (interceptor.Response, error) {
	return s.appView(r, http.StatusOK)
}

func (s *Service) handleAddQuery(r *http.Request, in interceptor.Input) (interceptor.Response, error) {
	if text := in.Query["text"]; text != "" {
		if _, err := s.Add(r.Context(), text); err != nil && !errors.Is(err, ErrEmptyText) {
			return interceptor.Response{}, err
		}
	}
	return s.appView(r, http.StatusOK)
}

func (s *Service) handleAddForm(r *http.Request, in interceptor.Input) (interceptor.Response, error) {
	_, err := s.Add(r.Context(), in.Body["text"])
	if errors.Is(err, ErrEmptyText) {
		return response.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err != nil {
		return interceptor.Response{}, err
	}
	return s.appView(r, http.StatusCreated)
}

func (s *Service) handleUpdateQuery(r *http.Request, in interceptor.Input) (interceptor.Response, error) {
	if err := s.Update(r.Context(), in.Params["id"], changesFrom(in.Query)); err != nil {
		return interceptor.Response{}, err
	}
	return s.appView(r, http.StatusOK)
}

func (s *Service) handleUpdateForm(r *http.Request, in interceptor.Input) (interceptor.Response, error) {
	if err := s.Update(r.Context(), in.Params["id"], changesFrom(in.Body)); err != nil {
		return interceptor.Response{}, err
	}
	return s.appView(r, http.StatusOK)
}

func (s *Service) handleDelete(r *http.Request, in interceptor.Input) (interceptor.Response, error) {
	if err := s.Delete(r.Context(), in.Params["id"]); err != nil {
		return interceptor.Response{}, err
	}
	return s.appView(r, http.StatusOK)
}

func (s *Service) appView(r *http.Request, status int) (interceptor.Response, error) {
	todos, filter, err := s.List(r.Context())
	if err != nil {
		return interceptor.Response{}, err
	}
	return response.JSON(status, AppView{Filter: filter, Todos: todos})
}

// changesFrom reads text and done from decoded form values. A done value
// other than a boolean leaves the flag unchanged.
func changesFrom(values map[string]string) Changes {
	changes := Changes{Text: values["text"]}
	if raw, ok := values["done"]; ok && raw != "" {
		if done, err := strconv.ParseBool(raw); err == nil {
			changes.Done = &done
		}
	}
	return changes
}
