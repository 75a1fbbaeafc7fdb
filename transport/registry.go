package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// ErrNilConfig is returned by Build when no config is supplied.
var ErrNilConfig = errors.New("transport: nil config")

// Registry resolves transport names to builders. Backends register
// themselves at init time; Build looks the configured name up and hands
// construction off to the matching builder.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// entry pairs a builder with the capability sheet it advertised.
type entry struct {
	build Builder
	caps  Capabilities
	// advertised distinguishes a registered zero-value sheet from an
	// unregistered one.
	advertised bool
}

// DefaultRegistry is the process-wide registry the built-in transports
// register into.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a builder under the given name. The name must match the
// Transport config value ("kafka", "sqlite", ...). Registering a name again
// replaces the earlier builder and keeps its capability sheet.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[name]
	e.build = builder
	r.entries[name] = e
}

// RegisterWithCapabilities adds a builder together with the delivery
// guarantees the backend advertises.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{build: builder, caps: caps, advertised: true}
}

// GetCapabilities reports the advertised capabilities of the named
// transport. Unknown or unadvertised names get a sheet carrying only the
// name, which reads as "no guarantees".
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok && e.advertised {
		return e.caps
	}
	return Capabilities{Name: name}
}

// Build constructs the transport the config names.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, ErrNilConfig
	}

	name := cfg.GetTransport()
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok || e.build == nil {
		return Transport{}, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}
	return e.build(ctx, cfg, logger)
}

// Names lists the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Register adds a builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its capabilities to the
// default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build constructs a transport using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
