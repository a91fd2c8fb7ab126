package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned when no factory is registered under
// the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps classifier backend names to constructors. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(ProviderEntry) (llm.Provider, error)
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{llm: make(map[string]func(ProviderEntry) (llm.Provider, error))}
}

// RegisterLLM registers a completion backend factory under name, replacing
// any earlier registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateLLM builds the backend registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// ClassifierProvider builds the classifier backend for cfg. It returns nil
// when no provider is configured. With fallbacks the backends are combined
// into a [resilience.LLMFallback], each behind its own circuit breaker.
func (r *Registry) ClassifierProvider(cfg ClassifierConfig, breaker resilience.CircuitBreakerConfig) (llm.Provider, error) {
	if cfg.Name == "" {
		return nil, nil
	}
	primary, err := r.CreateLLM(cfg.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("config: classifier provider %q: %w", cfg.Name, err)
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewLLMFallback(primary, cfg.Name, resilience.FallbackConfig{CircuitBreaker: breaker})
	for i, entry := range cfg.Fallbacks {
		p, err := r.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("config: classifier fallback %d %q: %w", i, entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
	}
	return fb, nil
}
