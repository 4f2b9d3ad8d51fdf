// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"encoding/json"
)

// Store keys the registry and preferences persist under.
const (
	KeyServiceProviders = "service_providers"
	KeyActiveProviderID = "active_provider_id"
	KeyProxyConfig      = "proxy_config"
	KeyTerminalSettings = "terminal_settings"
	KeyProjectFilter    = "project_filter"
)

// SettingsStore is the persistent key-value store backing the registry.
// Values are opaque JSON documents owned by the caller; the store guarantees
// only that Set is durable before it returns and that Get observes the
// latest completed Set.
type SettingsStore interface {
	// Get returns the value stored under key. ok is false when the key has
	// never been written; callers apply their own defaults.
	Get(ctx context.Context, key string) (value json.RawMessage, ok bool, err error)

	// Set durably stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value json.RawMessage) error

	// GetAll returns a snapshot of every stored key and value.
	GetAll(ctx context.Context) (map[string]json.RawMessage, error)
}
