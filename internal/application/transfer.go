package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/myaipanel/internal/domain/model"
	"github.com/ericfisherdev/myaipanel/internal/domain/port/driven"
	"github.com/ericfisherdev/myaipanel/internal/obfuscate"
)

// Transfer implements the settings import/export pipeline: a versioned JSON
// document carrying the provider registry and its adjacent settings, with
// sensitive fields obfuscated and included only on request.
//
// Export and Import are the only operations here that touch the filesystem.
// A single mutex serializes them; two overlapping imports could otherwise
// interleave partial merges.
type Transfer struct {
	mu       sync.Mutex
	registry *Registry
	prefs    *Preferences
	notifier driven.Notifier
	logger   *slog.Logger
}

func NewTransfer(registry *Registry, prefs *Preferences, notifier driven.Notifier, logger *slog.Logger) *Transfer {
	return &Transfer{
		registry: registry,
		prefs:    prefs,
		notifier: notifier,
		logger:   logger,
	}
}

// Export writes the full settings document to destination. The write goes
// through a temp-file rename so a failure never leaves a partial document
// behind. With includeSensitive false the document carries no credential
// material at all.
func (t *Transfer) Export(ctx context.Context, destination string, includeSensitive bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.buildDocument(includeSensitive)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transfer document: %w", err)
	}
	if err := atomic.WriteFile(destination, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write transfer document %q: %w", destination, err)
	}

	t.logger.Info("settings exported", "destination", destination, "include_sensitive", includeSensitive)
	return nil
}

// Import reads and parses the whole document before touching any state, so a
// malformed or wrong-version file leaves the registry exactly as it was.
// Sections present in the document are applied one by one: proxy, terminal,
// and project filter overwrite their stored counterparts; official providers
// go through the account merge (never deleting accounts outside the
// document); third-party accounts are validated individually and invalid
// entries skipped without failing the rest. The returned labels describe
// what was applied.
func (t *Transfer) Import(ctx context.Context, source string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read transfer document %q: %w", source, err)
	}

	var doc transferDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse transfer document: %w", err)
	}
	if doc.Version != transferDocumentVersion {
		return nil, fmt.Errorf("unsupported transfer document version %d", doc.Version)
	}
	if doc.Settings == nil {
		return nil, errors.New("transfer document has no settings section")
	}

	var imported []string

	if s := doc.Settings.ProxyConfig; s != nil {
		cfg := model.ProxyConfig{Enabled: s.Enabled, URL: s.URL}
		if doc.IncludeSensitiveData && s.Auth != nil {
			cfg.Username = t.decodeSensitive("proxy username", s.Auth.Username)
			cfg.Password = t.decodeSensitive("proxy password", s.Auth.Password)
		}
		if err := t.prefs.UpdateProxyConfig(ctx, cfg); err != nil {
			return nil, err
		}
		imported = append(imported, "proxy configuration")
	}

	if s := doc.Settings.Terminal; s != nil {
		settings := model.TerminalSettings{FontFamily: s.FontFamily, FontSize: s.FontSize}
		if err := t.prefs.UpdateTerminalSettings(ctx, settings); err != nil {
			return nil, err
		}
		imported = append(imported, "terminal settings")
	}

	if s := doc.Settings.ProjectFilter; s != nil {
		filter := model.ProjectFilter{Enabled: s.Enabled, Patterns: s.Patterns}
		if err := t.prefs.UpdateProjectFilter(ctx, filter); err != nil {
			return nil, err
		}
		imported = append(imported, "project filter")
	}

	officialCount, thirdPartyCount := 0, 0
	for _, p := range doc.Settings.ServiceProviders {
		switch p.Type {
		case string(model.ProviderKindOfficial):
			n, err := t.importOfficialProvider(ctx, p, doc.IncludeSensitiveData)
			if err != nil {
				return nil, err
			}
			officialCount += n
		case string(model.ProviderKindThirdParty):
			n, err := t.importThirdPartyProvider(ctx, p, doc.IncludeSensitiveData)
			if err != nil {
				return nil, err
			}
			thirdPartyCount += n
		default:
			t.logger.Warn("skipping provider entry with unknown type", "id", p.ID, "type", p.Type)
		}
	}
	if officialCount > 0 {
		imported = append(imported, countLabel(officialCount, "official account"))
	}
	if thirdPartyCount > 0 {
		imported = append(imported, countLabel(thirdPartyCount, "third-party account"))
	}

	t.notifier.Publish(driven.TopicSettingsImported, map[string]any{"imported": imported})
	t.logger.Info("settings imported", "source", source, "sections", len(imported))
	return imported, nil
}

// buildDocument snapshots registry and preferences into document form.
func (t *Transfer) buildDocument(includeSensitive bool) (transferDocument, error) {
	settings := &transferSettings{}

	proxy := t.prefs.ProxyConfig()
	proxyDoc := &transferProxyConfig{Enabled: proxy.Enabled, URL: proxy.URL}
	if includeSensitive && (proxy.Username != "" || proxy.Password != "") {
		proxyDoc.Auth = &transferProxyAuth{
			Username: obfuscate.Encode(proxy.Username),
			Password: obfuscate.Encode(proxy.Password),
		}
	}
	settings.ProxyConfig = proxyDoc

	terminal := t.prefs.TerminalSettings()
	settings.Terminal = &transferTerminal{FontFamily: terminal.FontFamily, FontSize: terminal.FontSize}

	filter := t.prefs.ProjectFilter()
	settings.ProjectFilter = &transferProjectFilter{Enabled: filter.Enabled, Patterns: filter.Patterns}

	for _, p := range t.registry.ListProviders() {
		providerDoc, err := exportProvider(p, includeSensitive)
		if err != nil {
			return transferDocument{}, fmt.Errorf("encode provider %q: %w", p.ID, err)
		}
		settings.ServiceProviders = append(settings.ServiceProviders, providerDoc)
	}

	return transferDocument{
		Version:              transferDocumentVersion,
		Timestamp:            time.Now().UTC().Format(time.RFC3339),
		IncludeSensitiveData: includeSensitive,
		Settings:             settings,
	}, nil
}

// importOfficialProvider merges the entry's accounts into the official
// provider, then applies the entry's provider-level fields on top so a
// round-tripped document reproduces name, proxy preference, and active
// account. Returns the number of accounts handed to the merge.
func (t *Transfer) importOfficialProvider(ctx context.Context, doc transferProvider, sensitive bool) (int, error) {
	incoming := t.decodeOfficialAccounts(doc.Accounts, sensitive)
	if err := t.registry.MergeOfficialAccounts(ctx, incoming); err != nil {
		return 0, err
	}

	provider, ok := t.registry.Provider(model.OfficialProviderID)
	if !ok {
		return len(incoming), nil
	}
	if doc.Name != "" {
		provider.Name = doc.Name
	}
	provider.UseProxy = doc.UseProxy
	if _, exists := provider.AccountByKey(doc.ActiveAccountID); exists {
		provider.ActiveAccountKey = doc.ActiveAccountID
	}
	if err := t.registry.UpsertProvider(ctx, provider); err != nil {
		return 0, err
	}
	return len(incoming), nil
}

// importThirdPartyProvider upserts the entry's valid accounts, then applies
// the entry's provider-level fields. Returns the number of accounts applied;
// entries failing validation are not counted.
func (t *Transfer) importThirdPartyProvider(ctx context.Context, doc transferProvider, sensitive bool) (int, error) {
	if existing, ok := t.registry.Provider(doc.ID); ok && existing.Kind != model.ProviderKindThirdParty {
		t.logger.Warn("skipping third-party entry shadowing a provider of another kind", "id", doc.ID)
		return 0, nil
	}

	accounts := t.decodeThirdPartyAccounts(doc.Accounts, sensitive)
	for _, a := range accounts {
		if err := t.registry.UpsertThirdPartyAccount(ctx, doc.ID, a); err != nil {
			return 0, err
		}
	}

	provider, ok := t.registry.Provider(doc.ID)
	if !ok {
		provider = model.ServiceProvider{
			ID:   doc.ID,
			Kind: model.ProviderKindThirdParty,
			Name: doc.ID,
		}
	}
	if doc.Name != "" {
		provider.Name = doc.Name
	}
	provider.UseProxy = doc.UseProxy
	if _, exists := provider.AccountByKey(doc.ActiveAccountID); exists {
		provider.ActiveAccountKey = doc.ActiveAccountID
	}
	if err := t.registry.UpsertProvider(ctx, provider); err != nil {
		return 0, err
	}
	return len(accounts), nil
}

// decodeOfficialAccounts interprets raw account entries as official records.
// Entries that fail to parse or lack an email are skipped. The credential
// token is de-obfuscated only when the document declared sensitive data.
func (t *Transfer) decodeOfficialAccounts(entries []json.RawMessage, sensitive bool) []model.OfficialAccount {
	out := make([]model.OfficialAccount, 0, len(entries))
	for _, raw := range entries {
		var entry transferOfficialAccount
		if err := json.Unmarshal(raw, &entry); err != nil {
			t.logger.Warn("skipping unreadable official account entry", "error", err)
			continue
		}
		if entry.EmailAddress == "" {
			t.logger.Warn("skipping official account entry without email")
			continue
		}

		account := model.OfficialAccount{
			AccountID:        entry.AccountID,
			Email:            entry.EmailAddress,
			OrganizationRole: entry.OrganizationRole,
			WorkspaceRole:    entry.WorkspaceRole,
		}
		if sensitive && entry.CredentialToken != "" {
			account.CredentialToken = t.decodeSensitive("credential token", entry.CredentialToken)
		}
		out = append(out, account)
	}
	return out
}

// decodeThirdPartyAccounts interprets raw account entries as third-party
// records, validating each. Invalid entries are skipped without failing the
// import.
func (t *Transfer) decodeThirdPartyAccounts(entries []json.RawMessage, sensitive bool) []model.ThirdPartyAccount {
	out := make([]model.ThirdPartyAccount, 0, len(entries))
	for _, raw := range entries {
		var entry transferThirdPartyAccount
		if err := json.Unmarshal(raw, &entry); err != nil {
			t.logger.Warn("skipping unreadable third-party account entry", "error", err)
			continue
		}

		account := model.ThirdPartyAccount{
			ID:          entry.ID,
			Name:        entry.DisplayName,
			BaseURL:     entry.BaseURL,
			Description: entry.Description,
		}
		if sensitive && entry.APIKey != "" {
			account.APIKey = t.decodeSensitive("api key", entry.APIKey)
		}
		if err := account.Validate(); err != nil {
			t.logger.Warn("skipping invalid third-party account entry", "id", entry.ID, "error", err)
			continue
		}
		out = append(out, account)
	}
	return out
}

// decodeSensitive reverses the export obfuscation, degrading to the empty
// string on malformed input instead of failing the import.
func (t *Transfer) decodeSensitive(field, encoded string) string {
	value, err := obfuscate.Decode(encoded)
	if err != nil {
		t.logger.Warn("could not decode sensitive field, substituting empty", "field", field, "error", err)
		return ""
	}
	return value
}

func countLabel(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
