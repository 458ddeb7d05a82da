package llm

import (
	"fmt"

	"github.com/artifactflow/artifactflow/internal/config"
)

// ErrProviderNotFound is returned when no provider matches a name.
var ErrProviderNotFound = fmt.Errorf("llm: provider not found")

// Registry resolves providers by name. Read-only after startup.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

// NewRegistry constructs one provider per configured key. Unknown
// keys are rejected so a typo fails at startup instead of at the
// first run.
func NewRegistry(cfg config.LLMConfig) (*Registry, error) {
	r := &Registry{
		providers:   make(map[string]Provider, len(cfg.Providers)),
		defaultName: cfg.DefaultProvider,
	}

	for name, pc := range cfg.Providers {
		var (
			p   Provider
			err error
		)
		switch name {
		case "anthropic":
			p, err = NewAnthropicProvider(pc.APIKey, pc.DefaultModel, pc.BaseURL)
		case "openai":
			p, err = NewOpenAIProvider(pc.APIKey, pc.DefaultModel, pc.BaseURL)
		default:
			err = fmt.Errorf("unsupported provider %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("llm: configure %s: %w", name, err)
		}
		r.providers[name] = p
	}

	if r.defaultName == "" {
		for name := range r.providers {
			if r.defaultName == "" || name < r.defaultName {
				r.defaultName = name
			}
		}
	}
	if r.defaultName != "" {
		if _, ok := r.providers[r.defaultName]; !ok {
			return nil, fmt.Errorf("llm: default provider %q is not configured", r.defaultName)
		}
	}

	return r, nil
}

// NewRegistryWith builds a registry from pre-built providers, keyed
// by their names. The first argument becomes the default.
func NewRegistryWith(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for i, p := range providers {
		r.providers[p.Name()] = p
		if i == 0 {
			r.defaultName = p.Name()
		}
	}
	return r
}

// Register adds or replaces a provider under its name.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
	if r.defaultName == "" {
		r.defaultName = p.Name()
	}
}

// Get returns the named provider, or the default when name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return p, nil
}

// DefaultName returns the name used when agents omit a provider.
func (r *Registry) DefaultName() string {
	return r.defaultName
}

// Names lists configured provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
