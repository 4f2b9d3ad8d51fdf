package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/myaipanel/internal/domain/model"
	"github.com/ericfisherdev/myaipanel/internal/domain/port/driven"
)

// Preferences owns the client-wide settings that sit alongside the provider
// registry: the upstream proxy endpoint, terminal appearance, and the
// project filter. Like the registry it materializes from the settings store
// once and writes through on every update.
type Preferences struct {
	mu            sync.RWMutex
	store         driven.SettingsStore
	notifier      driven.Notifier
	proxyConfig   model.ProxyConfig
	terminal      model.TerminalSettings
	projectFilter model.ProjectFilter
}

// NewPreferences loads the preference keys from the settings store. Unset
// keys fall back to defaults; corrupt values are logged and reset.
func NewPreferences(ctx context.Context, store driven.SettingsStore, notifier driven.Notifier, logger *slog.Logger) (*Preferences, error) {
	p := &Preferences{
		store:    store,
		notifier: notifier,
		terminal: model.DefaultTerminalSettings(),
	}

	if err := loadSetting(ctx, store, logger, driven.KeyProxyConfig, &p.proxyConfig); err != nil {
		return nil, err
	}
	if err := loadSetting(ctx, store, logger, driven.KeyTerminalSettings, &p.terminal); err != nil {
		return nil, err
	}
	if err := loadSetting(ctx, store, logger, driven.KeyProjectFilter, &p.projectFilter); err != nil {
		return nil, err
	}

	return p, nil
}

// loadSetting decodes one settings key into dst, leaving dst untouched when
// the key was never written. A corrupt value is logged and skipped so a
// single bad key cannot block startup.
func loadSetting(ctx context.Context, store driven.SettingsStore, logger *slog.Logger, key string, dst any) error {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		logger.Error("stored setting is corrupt, keeping default", "key", key, "error", err)
	}
	return nil
}

// ProxyConfig returns the current upstream proxy configuration.
func (p *Preferences) ProxyConfig() model.ProxyConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.proxyConfig
}

// UpdateProxyConfig replaces the proxy configuration wholesale.
func (p *Preferences) UpdateProxyConfig(ctx context.Context, cfg model.ProxyConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := persistSetting(ctx, p.store, driven.KeyProxyConfig, cfg); err != nil {
		return err
	}
	p.proxyConfig = cfg

	p.notifier.Publish(driven.TopicProxyConfigUpdated, map[string]bool{"enabled": cfg.Enabled})
	return nil
}

// TerminalSettings returns the current terminal appearance settings.
func (p *Preferences) TerminalSettings() model.TerminalSettings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.terminal
}

// UpdateTerminalSettings replaces the terminal appearance settings.
func (p *Preferences) UpdateTerminalSettings(ctx context.Context, settings model.TerminalSettings) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := persistSetting(ctx, p.store, driven.KeyTerminalSettings, settings); err != nil {
		return err
	}
	p.terminal = settings

	p.notifier.Publish(driven.TopicSettingsUpdated, map[string]string{"setting": driven.KeyTerminalSettings})
	return nil
}

// ProjectFilter returns the current project filter.
func (p *Preferences) ProjectFilter() model.ProjectFilter {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := p.projectFilter
	out.Patterns = append([]string(nil), p.projectFilter.Patterns...)
	return out
}

// UpdateProjectFilter replaces the project filter.
func (p *Preferences) UpdateProjectFilter(ctx context.Context, filter model.ProjectFilter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	filter.Patterns = append([]string(nil), filter.Patterns...)
	if err := persistSetting(ctx, p.store, driven.KeyProjectFilter, filter); err != nil {
		return err
	}
	p.projectFilter = filter

	p.notifier.Publish(driven.TopicSettingsUpdated, map[string]string{"setting": driven.KeyProjectFilter})
	return nil
}

func persistSetting(ctx context.Context, store driven.SettingsStore, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}
