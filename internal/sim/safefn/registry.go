// Package safefn holds the vetted state mutations planners and the finale
// may request, and the executor that applies them.
package safefn

import (
	"fmt"
	"sort"

	"bastion.ai/internal/sim/state"
)

type Args map[string]any

type ApplyFunc func(gs *state.GameState, args Args) error

// Handler describes one safe function.
type Handler struct {
	Name        string
	Category    string
	Description string
	Apply       ApplyFunc
}

type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(h Handler) error {
	if h.Name == "" || h.Apply == nil {
		return fmt.Errorf("safefn: handler needs a name and an apply func")
	}
	if _, dup := r.handlers[h.Name]; dup {
		return fmt.Errorf("safefn: %s already registered", h.Name)
	}
	r.handlers[h.Name] = h
	return nil
}

func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Lookup returns a function's category. Its signature matches
// threat.CategoryLookup.
func (r *Registry) Lookup(name string) (string, bool) {
	h, ok := r.handlers[name]
	if !ok {
		return "", false
	}
	return h.Category, true
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Catalog lists name, category and description for prompt building.
func (r *Registry) Catalog() []Handler {
	out := make([]Handler, 0, len(r.handlers))
	for _, name := range r.Names() {
		h := r.handlers[name]
		h.Apply = nil
		out = append(out, h)
	}
	return out
}

// DefaultRegistry registers every built-in safe function.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, h := range builtins {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
	return r
}
