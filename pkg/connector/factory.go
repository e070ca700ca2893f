package connector

import (
	"fmt"
	"strings"
	"sync"

	"genrouter/pkg/config"
)

// Factory builds a connector from configuration.
type Factory func(cfg *config.Config) (Connector, error)

var factories = map[string]Factory{}

// Register registers a connector factory under a name. Empty names and nil
// factories are ignored.
func Register(name string, factory Factory) {
	if name == "" || factory == nil {
		return
	}
	factories[strings.ToLower(name)] = factory
}

func init() {
	Register("openai", NewOpenAIConnector)
	Register("anthropic", NewAnthropicConnector)
	Register("manus", NewManusConnector)
}

// Registry hands out connectors by name, constructing each one once.
type Registry struct {
	cfg   *config.Config
	mu    sync.Mutex
	cache map[string]Connector
}

// NewRegistry creates a connector registry
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:   cfg,
		cache: make(map[string]Connector),
	}
}

// Get returns the connector registered under name, creating it on first use.
func (r *Registry) Get(name string) (Connector, error) {
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cache[key]; ok {
		return c, nil
	}

	factory, ok := factories[key]
	if !ok {
		return nil, fmt.Errorf("unsupported connector type: %s", name)
	}

	c, err := factory(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector %s: %w", name, err)
	}

	r.cache[key] = c
	return c, nil
}

// Known reports whether a connector type is registered, without building it.
func Known(name string) bool {
	_, ok := factories[strings.ToLower(name)]
	return ok
}
