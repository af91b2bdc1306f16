package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory builds a disconnected adapter that logs through the given logger.
type Factory func(*slog.Logger) Adapter

var adapters = struct {
	sync.RWMutex
	byName map[string]Factory
}{byName: make(map[string]Factory)}

// Register makes an adapter type available to NewAdapter under name, the
// target type string used in profiles.yml. Adapter packages call it from
// init, so blank-importing a package is all it takes to enable its type.
func Register(name string, factory Factory) {
	adapters.Lock()
	defer adapters.Unlock()
	adapters.byName[name] = factory
}

// Get returns the factory registered under name.
func Get(name string) (Factory, bool) {
	adapters.RLock()
	defer adapters.RUnlock()
	factory, ok := adapters.byName[name]
	return factory, ok
}

// IsRegistered reports whether an adapter type is available.
func IsRegistered(name string) bool {
	_, ok := Get(name)
	return ok
}

// ListAdapters returns the registered adapter type names, sorted.
func ListAdapters() []string {
	adapters.RLock()
	defer adapters.RUnlock()
	names := make([]string, 0, len(adapters.byName))
	for name := range adapters.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewAdapter builds the adapter for the target's type. The logger is handed
// to the adapter constructor; nil means discard.
func NewAdapter(cfg Config, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}
	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &UnknownAdapterError{Type: cfg.Type, Available: ListAdapters()}
	}
	return factory(logger), nil
}

// UnknownAdapterError is returned when profiles.yml names a target type no
// compiled-in adapter claims.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q\nAvailable adapters: %v\nHint: Check the target type in profiles.yml", e.Type, e.Available)
}
