package source

import (
	"fmt"

	"ResearchRadar/internal/config"
	"ResearchRadar/internal/ports"
)

// Factory builds a concrete adapter for one configured provider.
type Factory func(cfg config.SourceConfig) (ports.Fetchable, error)

// Registry maps adapter kinds ("arxiv", "news", ...) to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces a factory for a kind.
func (r *Registry) Register(kind string, f Factory) {
	if r.factories == nil {
		r.factories = map[string]Factory{}
	}
	r.factories[kind] = f
}

// Build resolves the factory for cfg.Kind and constructs the adapter.
func (r *Registry) Build(cfg config.SourceConfig) (ports.Fetchable, error) {
	f, ok := r.factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("source kind %s is not registered", cfg.Kind)
	}
	return f(cfg)
}

// BuildAll constructs adapters for every configured source.
func (r *Registry) BuildAll(cfgs []config.SourceConfig) ([]ports.Fetchable, error) {
	sources := make([]ports.Fetchable, 0, len(cfgs))
	for _, cfg := range cfgs {
		src, err := r.Build(cfg)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}
