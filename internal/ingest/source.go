package ingest

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/yesterday/internal/model"
)

// Source fetches the items one upstream published or updated within a
// window. Repeated calls with the same window return the same logical set.
type Source interface {
	// Name identifies the source in run counts and logs (e.g. "govuk").
	Name() string

	// NeedsHistory reports whether buckets come from whether the store knew
	// an item before the window, rather than from the item's own timestamps.
	NeedsHistory() bool

	// FetchItems returns normalized rows for w.
	FetchItems(ctx context.Context, w model.DateWindow) ([]model.ItemRow, error)
}

// Registry holds sources in registration order.
type Registry struct {
	sources map[string]Source
	order   []string
}

// NewRegistry creates a registry containing srcs in the given order.
func NewRegistry(srcs ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source)}
	for _, s := range srcs {
		r.Register(s)
	}
	return r
}

// Register adds a source. Registering a name twice replaces the source but
// keeps its original position.
func (r *Registry) Register(s Source) {
	name := s.Name()
	if _, ok := r.sources[name]; !ok {
		r.order = append(r.order, name)
	}
	r.sources[name] = s
}

// Get returns a source by name.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("ingest: unknown source %q", name)
	}
	return s, nil
}

// All returns all sources in registration order.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

// Names returns registered source names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
