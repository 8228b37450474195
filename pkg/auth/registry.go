package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownProvider is returned by NewValidator for unregistered types.
var ErrUnknownProvider = errors.New("unknown auth provider")

// ProviderConfig selects a provider and carries its raw settings.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// ValidatorFactory builds a Validator from provider settings.
type ValidatorFactory func(config json.RawMessage) (Validator, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]ValidatorFactory{}
)

// RegisterProvider makes a provider available under name. It is meant to be
// called from init and panics on a nil factory or a duplicate name.
func RegisterProvider(name string, factory ValidatorFactory) {
	name = normalizeName(name)
	if factory == nil {
		panic("auth: nil factory for provider " + name)
	}
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic("auth: provider registered twice: " + name)
	}
	factories[name] = factory
}

// NewValidator builds the validator named by cfg.Type. Missing settings are
// passed to the factory as an empty object.
func NewValidator(cfg ProviderConfig) (Validator, error) {
	name := normalizeName(cfg.Type)
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownProvider, cfg.Type, strings.Join(Providers(), ", "))
	}

	raw := cfg.Config
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	v, err := factory(raw)
	if err != nil {
		return nil, fmt.Errorf("auth provider %s: %w", name, err)
	}
	return v, nil
}

// Providers lists registered provider names in order.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
