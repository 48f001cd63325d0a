package brain

import (
	"context"
	"sort"
	"sync"
)

// Config selects and parameterizes a backend. Kind picks the registered
// factory; the remaining fields are interpreted by the factory.
type Config struct {
	Kind     string            `yaml:"kind" json:"kind"`
	Model    string            `yaml:"model" json:"model"`
	Endpoint string            `yaml:"endpoint" json:"endpoint"`
	Token    string            `yaml:"token" json:"token"`
	Options  map[string]string `yaml:"options" json:"options"`
}

// Factory constructs a backend instance. Factories may perform network IO
// (credential checks, client handshakes) and must honor ctx.
type Factory func(ctx context.Context, cfg Config) (Brain, error)

// Registry maps backend kinds to factories. Registration is expected during
// process start-up, before any New calls; the registry is read-mostly in
// steady state. Tests construct their own Registry instead of touching the
// process-wide Default.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory for kind. Registering the same kind again
// replaces the prior factory.
func (r *Registry) Register(kind string, factory Factory) {
	if kind == "" || factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// IsAvailable reports whether a factory is registered for kind.
func (r *Registry) IsAvailable(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Kinds returns the registered backend kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// New constructs a backend from cfg. It fails with UnknownBackendError when
// cfg.Kind has no registered factory; there is no silent fallback.
func (r *Registry) New(ctx context.Context, cfg Config) (Brain, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownBackendError{Kind: cfg.Kind}
	}
	return factory(ctx, cfg)
}

// Default is the process-wide registry populated at start-up.
var Default = NewRegistry()

// Register installs a factory in the Default registry.
func Register(kind string, factory Factory) {
	Default.Register(kind, factory)
}

// New constructs a backend from the Default registry.
func New(ctx context.Context, cfg Config) (Brain, error) {
	return Default.New(ctx, cfg)
}
