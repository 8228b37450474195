package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultBackend is used when no storage backend is named.
const DefaultBackend = "memory"

// ErrUnknownBackend is returned by NewPersistence for unregistered backends.
var ErrUnknownBackend = errors.New("unknown storage backend")

// ProviderConfig names a backend and carries its raw settings.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// PluginConfig is what a backend factory receives.
type PluginConfig struct {
	Config json.RawMessage

	// Timezone applied to record timestamps set by the store.
	Timezone *time.Location
}

type PluginFactory func(config PluginConfig) (PluginPersistence, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]PluginFactory{}
)

// RegisterProvider makes a backend available under name. Backends register
// from init; a later registration under the same name replaces the earlier one.
func RegisterProvider(name string, factory PluginFactory) {
	if factory == nil {
		panic("persistence: nil factory for backend " + name)
	}
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[backendKey(name)] = factory
}

// NewPersistence opens the backend named by provider.Type. Settings default to
// an empty object and the timezone to UTC.
func NewPersistence(provider ProviderConfig, plugin PluginConfig) (PluginPersistence, error) {
	name := backendKey(provider.Type)
	backendsMu.RLock()
	factory, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownBackend, provider.Type, strings.Join(Backends(), ", "))
	}

	plugin.Config = provider.Config
	if len(plugin.Config) == 0 {
		plugin.Config = json.RawMessage("{}")
	}
	if plugin.Timezone == nil {
		plugin.Timezone = time.UTC
	}
	return factory(plugin)
}

// Backends lists registered backend names in order.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func backendKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultBackend
	}
	return name
}
