package binding

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Bundle is a loaded manifest together with its resolved table.
type Bundle struct {
	Manifest *Manifest
	Table    *Table
}

// Name returns the binding name.
func (b *Bundle) Name() string {
	return b.Manifest.Name
}

// Registry manages loaded bindings.
type Registry struct {
	sync.RWMutex
	bundles map[string]*Bundle // name -> bundle
	logger  *zap.Logger
}

// NewRegistry creates a new binding registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		bundles: make(map[string]*Bundle),
		logger:  logger.With(zap.String("component", "binding-registry")),
	}
}

// Register adds a bundle to the registry.
func (r *Registry) Register(b *Bundle) error {
	r.Lock()
	defer r.Unlock()

	name := b.Name()
	if _, exists := r.bundles[name]; exists {
		return &TableAlreadyRegisteredError{Name: name}
	}

	r.bundles[name] = b

	r.logger.Info("Binding registered",
		zap.String("name", name),
		zap.Int("functions", b.Table.Len()),
	)

	return nil
}

// Get retrieves a bundle by name.
func (r *Registry) Get(name string) (*Bundle, bool) {
	r.RLock()
	defer r.RUnlock()

	b, ok := r.bundles[name]
	return b, ok
}

// List returns all registered bundles ordered by name.
func (r *Registry) List() []*Bundle {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Bundle, 0, len(r.bundles))
	for _, b := range r.bundles {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Unregister removes a bundle from the registry.
func (r *Registry) Unregister(name string) {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.bundles[name]; !ok {
		return
	}
	delete(r.bundles, name)

	r.logger.Info("Binding unregistered", zap.String("name", name))
}

// Count returns the number of registered bundles.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.bundles)
}

// Table merges every registered bundle into the single table a runtime serves.
func (r *Registry) Table() (*Table, error) {
	bundles := r.List()
	tables := make([]*Table, len(bundles))
	for i, b := range bundles {
		tables[i] = b.Table
	}
	return Merge(tables...)
}
