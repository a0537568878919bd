package sources

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownSource is a configuration error: no handler exists for the name.
var ErrUnknownSource = errors.New("unknown source")

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

type Descriptor struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is nil")
	}

	key := strings.TrimSpace(handler.Key())
	if key == "" {
		return fmt.Errorf("handler key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("handler %q already registered", key)
	}

	r.handlers[key] = handler
	return nil
}

func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("get handler %q: %w", name, ErrUnknownSource)
	}
	return handler, nil
}

func (r *Registry) Knows(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[name]
	return ok
}

func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]Descriptor, 0, len(r.handlers))
	for _, handler := range r.handlers {
		items = append(items, Descriptor{
			Key:  handler.Key(),
			Name: handler.Name(),
			Kind: handler.Kind(),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Key < items[j].Key
	})

	return items
}

func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, 0, len(list))
	for _, item := range list {
		names = append(names, item.Key)
	}
	return names
}
