// Package application contains use-case orchestration services.
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

// Registry owns the provider/account state: an ordered list of service
// providers plus the id of the globally active one. State is materialized
// from the settings store at construction and written through on every
// mutation, so the store always reflects the last completed operation.
//
// Mutators referencing a provider or account that does not exist are silent
// no-ops, never errors. Errors surface only when the settings store fails to
// persist. Every mutation that changes state announces itself on the
// notifier after the write completes.
type Registry struct {
	mu               sync.RWMutex
	store            driven.SettingsStore
	notifier         driven.Notifier
	logger           *slog.Logger
	providers        []model.ServiceProvider
	activeProviderID string
}

// NewRegistry materializes registry state from the settings store. A key
// that was never written starts empty; a key that fails to decode is logged
// and treated as empty rather than failing startup, since the next write-
// through replaces it.
func NewRegistry(ctx context.Context, store driven.SettingsStore, notifier driven.Notifier, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}

	raw, ok, err := store.Get(ctx, driven.KeyServiceProviders)
	if err != nil {
		return nil, fmt.Errorf("load service providers: %w", err)
	}
	if ok {
		if err := json.Unmarshal(raw, &r.providers); err != nil {
			logger.Error("stored service providers are corrupt, starting empty", "error", err)
			r.providers = nil
		}
	}

	raw, ok, err = store.Get(ctx, driven.KeyActiveProviderID)
	if err != nil {
		return nil, fmt.Errorf("load active provider id: %w", err)
	}
	if ok {
		if err := json.Unmarshal(raw, &r.activeProviderID); err != nil {
			logger.Error("stored active provider id is corrupt, clearing", "error", err)
			r.activeProviderID = ""
		}
	}

	return r, nil
}

// ListProviders returns a snapshot of all providers in insertion order.
func (r *Registry) ListProviders() []model.ServiceProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ServiceProvider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Clone())
	}
	return out
}

// Provider returns the provider with the given id.
func (r *Registry) Provider(id string) (model.ServiceProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexOf(id); i >= 0 {
		return r.providers[i].Clone(), true
	}
	return model.ServiceProvider{}, false
}

// ActiveProvider resolves the active provider id. An empty or dangling id
// resolves to absent, never an error.
func (r *Registry) ActiveProvider() (model.ServiceProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexOf(r.activeProviderID); i >= 0 {
		return r.providers[i].Clone(), true
	}
	return model.ServiceProvider{}, false
}

// ActiveAccount resolves the active provider's active account key. Any
// broken link along the way resolves to absent.
func (r *Registry) ActiveAccount() (model.ServiceProvider, model.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexOf(r.activeProviderID)
	if i < 0 {
		return model.ServiceProvider{}, model.Account{}, false
	}
	account, ok := r.providers[i].ActiveAccount()
	if !ok {
		return model.ServiceProvider{}, model.Account{}, false
	}
	return r.providers[i].Clone(), account, true
}

// ShouldUseProxy returns the active provider's proxy preference. With no
// active provider it fails open to true, the safer default of routing
// through the proxy.
func (r *Registry) ShouldUseProxy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexOf(r.activeProviderID); i >= 0 {
		return r.providers[i].UseProxy
	}
	return true
}

// UpsertProvider replaces the provider with the same id or appends a new
// one. Callers must not pass a provider carrying duplicate account natural
// keys; every higher-level mutation in this service maintains that for you.
func (r *Registry) UpsertProvider(ctx context.Context, provider model.ServiceProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.upsertProviderLocked(ctx, provider.Clone()); err != nil {
		return err
	}

	r.notifier.Publish(driven.TopicProvidersUpdated, map[string]string{"provider_id": provider.ID})
	return nil
}

// RemoveProvider filters the provider out of the registry. If it was the
// active provider, the active pointer is cleared in the same operation.
// Removing an unknown id is a no-op.
func (r *Registry) RemoveProvider(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return nil
	}

	remaining := make([]model.ServiceProvider, 0, len(r.providers)-1)
	remaining = append(remaining, r.providers[:i]...)
	remaining = append(remaining, r.providers[i+1:]...)

	if err := r.persistProviders(ctx, remaining); err != nil {
		return err
	}
	r.providers = remaining

	clearedActive := false
	if r.activeProviderID == id {
		if err := r.persistActiveProviderID(ctx, ""); err != nil {
			return err
		}
		r.activeProviderID = ""
		clearedActive = true
	}

	r.notifier.Publish(driven.TopicProvidersUpdated, map[string]string{"provider_id": id})
	if clearedActive {
		r.notifier.Publish(driven.TopicActiveProviderChanged, map[string]string{"provider_id": ""})
	}
	return nil
}

// SetActiveProvider sets the active provider id unconditionally. No
// existence check is made; the read accessors treat a dangling id as absent.
func (r *Registry) SetActiveProvider(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setActiveProviderLocked(ctx, id); err != nil {
		return err
	}

	r.notifier.Publish(driven.TopicActiveProviderChanged, map[string]string{"provider_id": id})
	return nil
}

// SetActiveAccount marks the named account active within its provider and
// promotes that provider to the globally active one. The account key must
// name an account present in the provider; otherwise the call is a no-op so
// the active-key invariant can never break.
func (r *Registry) SetActiveAccount(ctx context.Context, providerID, accountKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(providerID)
	if i < 0 {
		return nil
	}
	if _, ok := r.providers[i].AccountByKey(accountKey); !ok {
		return nil
	}

	updated := r.providers[i].Clone()
	updated.ActiveAccountKey = accountKey
	if err := r.upsertProviderLocked(ctx, updated); err != nil {
		return err
	}
	if err := r.setActiveProviderLocked(ctx, providerID); err != nil {
		return err
	}

	r.notifier.Publish(driven.TopicActiveAccountChanged, map[string]string{
		"provider_id": providerID,
		"account_key": accountKey,
	})
	r.notifier.Publish(driven.TopicActiveProviderChanged, map[string]string{"provider_id": providerID})
	return nil
}

// SetProviderProxyUsage updates one provider's proxy preference. Unknown
// provider ids are a no-op.
func (r *Registry) SetProviderProxyUsage(ctx context.Context, providerID string, useProxy bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(providerID)
	if i < 0 {
		return nil
	}

	updated := r.providers[i].Clone()
	updated.UseProxy = useProxy
	if err := r.upsertProviderLocked(ctx, updated); err != nil {
		return err
	}

	r.notifier.Publish(driven.TopicProviderProxyChanged, map[string]any{
		"provider_id": providerID,
		"use_proxy":   useProxy,
	})
	return nil
}

// MergeOfficialAccounts reconciles a freshly observed account list into the
// official provider, creating the provider on first use. Incoming accounts
// are matched by email: matches replace every stored field except the
// credential token, which the existing record keeps unless the incoming one
// carries a non-empty token; unmatched incoming accounts are appended.
// Stored accounts absent from incoming are retained, never deleted. Incoming
// entries without an email are ignored; the email is the account's identity.
//
// The active account key is then re-derived from incoming alone: if the
// current key is not among the incoming emails it is reset to the first
// incoming entry, or cleared when incoming is empty. Narrowing the candidate
// pool to what was just observed can deactivate an older stored account;
// that asymmetry is deliberate.
func (r *Registry) MergeOfficialAccounts(ctx context.Context, incoming []model.OfficialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	valid := make([]model.OfficialAccount, 0, len(incoming))
	for _, in := range incoming {
		if in.Email != "" {
			valid = append(valid, in)
		}
	}
	incoming = valid

	provider := model.ServiceProvider{
		ID:       model.OfficialProviderID,
		Kind:     model.ProviderKindOfficial,
		Name:     model.OfficialProviderName,
		UseProxy: true,
	}
	if i := r.indexOf(model.OfficialProviderID); i >= 0 {
		provider = r.providers[i].Clone()
	}
	previousActiveKey := provider.ActiveAccountKey

	for _, in := range incoming {
		account := in
		if existing, ok := provider.AccountByKey(in.Email); ok {
			if in.CredentialToken == "" && existing.Official != nil {
				account.CredentialToken = existing.Official.CredentialToken
			}
			for i := range provider.Accounts {
				if provider.Accounts[i].NaturalKey() == in.Email {
					provider.Accounts[i] = model.Account{Official: &account}
					break
				}
			}
			continue
		}
		provider.Accounts = append(provider.Accounts, model.Account{Official: &account})
	}

	activeInIncoming := false
	for _, in := range incoming {
		if in.Email == provider.ActiveAccountKey {
			activeInIncoming = true
			break
		}
	}
	if !activeInIncoming {
		if len(incoming) > 0 {
			provider.ActiveAccountKey = incoming[0].Email
		} else {
			provider.ActiveAccountKey = ""
		}
	}

	if err := r.upsertProviderLocked(ctx, provider); err != nil {
		return err
	}

	r.notifier.Publish(driven.TopicProvidersUpdated, map[string]string{"provider_id": provider.ID})
	if provider.ActiveAccountKey != previousActiveKey {
		r.notifier.Publish(driven.TopicActiveAccountChanged, map[string]string{
			"provider_id": provider.ID,
			"account_key": provider.ActiveAccountKey,
		})
	}
	return nil
}

// UpdateOfficialCredential overwrites the credential token stored for the
// official account with the given email. Unknown provider or email is a
// no-op, not an error.
func (r *Registry) UpdateOfficialCredential(ctx context.Context, email, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(model.OfficialProviderID)
	if i < 0 {
		return nil
	}

	updated := r.providers[i].Clone()
	found := false
	for j := range updated.Accounts {
		official := updated.Accounts[j].Official
		if official != nil && official.Email == email {
			official.CredentialToken = token
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	if err := r.upsertProviderLocked(ctx, updated); err != nil {
		return err
	}

	r.notifier.Publish(driven.TopicCredentialUpdated, map[string]string{
		"provider_id": updated.ID,
		"account_key": email,
	})
	return nil
}

// FindOfficialAccountByCredential maps an intercepted credential token back
// to the official account it belongs to. The empty token never matches.
func (r *Registry) FindOfficialAccountByCredential(token string) (model.OfficialAccount, bool) {
	if token == "" {
		return model.OfficialAccount{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexOf(model.OfficialProviderID)
	if i < 0 {
		return model.OfficialAccount{}, false
	}
	for _, a := range r.providers[i].Accounts {
		if a.Official != nil && a.Official.CredentialToken == token {
			return *a.Official, true
		}
	}
	return model.OfficialAccount{}, false
}

// UpsertThirdPartyAccount stores the account under the given third-party
// provider, creating the provider on first use. Accounts are upserted by id.
// When the provider had no active account, the stored account becomes
// active.
func (r *Registry) UpsertThirdPartyAccount(ctx context.Context, providerID string, account model.ThirdPartyAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	provider := model.ServiceProvider{
		ID:   providerID,
		Kind: model.ProviderKindThirdParty,
		Name: providerID,
	}
	if i := r.indexOf(providerID); i >= 0 {
		if r.providers[i].Kind != model.ProviderKindThirdParty {
			return nil
		}
		provider = r.providers[i].Clone()
	}
	previousActiveKey := provider.ActiveAccountKey

	stored := account
	replaced := false
	for i := range provider.Accounts {
		if provider.Accounts[i].NaturalKey() == account.ID {
			provider.Accounts[i] = model.Account{ThirdParty: &stored}
			replaced = true
			break
		}
	}
	if !replaced {
		provider.Accounts = append(provider.Accounts, model.Account{ThirdParty: &stored})
	}

	if provider.ActiveAccountKey == "" {
		provider.ActiveAccountKey = account.ID
	}

	if err := r.upsertProviderLocked(ctx, provider); err != nil {
		return err
	}

	r.notifier.Publish(driven.TopicProvidersUpdated, map[string]string{"provider_id": providerID})
	if provider.ActiveAccountKey != previousActiveKey {
		r.notifier.Publish(driven.TopicActiveAccountChanged, map[string]string{
			"provider_id": providerID,
			"account_key": provider.ActiveAccountKey,
		})
	}
	return nil
}

// RemoveThirdPartyAccount removes the account with the given id from the
// provider. If it was the active account, the first remaining account
// becomes active, or the key is cleared when none remain. Unknown provider
// or account ids are a no-op.
func (r *Registry) RemoveThirdPartyAccount(ctx context.Context, providerID, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(providerID)
	if i < 0 {
		return nil
	}

	provider := r.providers[i].Clone()
	kept := make([]model.Account, 0, len(provider.Accounts))
	removed := false
	for _, a := range provider.Accounts {
		if a.NaturalKey() == accountID {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	if !removed {
		return nil
	}
	provider.Accounts = kept

	previousActiveKey := provider.ActiveAccountKey
	if provider.ActiveAccountKey == accountID {
		if len(kept) > 0 {
			provider.ActiveAccountKey = kept[0].NaturalKey()
		} else {
			provider.ActiveAccountKey = ""
		}
	}

	if err := r.upsertProviderLocked(ctx, provider); err != nil {
		return err
	}

	r.notifier.Publish(driven.TopicProvidersUpdated, map[string]string{"provider_id": providerID})
	if provider.ActiveAccountKey != previousActiveKey {
		r.notifier.Publish(driven.TopicActiveAccountChanged, map[string]string{
			"provider_id": providerID,
			"account_key": provider.ActiveAccountKey,
		})
	}
	return nil
}

// indexOf returns the position of the provider with the given id, or -1.
// Callers must hold at least the read lock. The empty id never matches.
func (r *Registry) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range r.providers {
		if r.providers[i].ID == id {
			return i
		}
	}
	return -1
}

// upsertProviderLocked replaces or appends the provider and writes the list
// through to the store. In-memory state changes only after the write
// succeeds. Callers must hold the write lock and pass a provider the caller
// owns (already cloned).
func (r *Registry) upsertProviderLocked(ctx context.Context, provider model.ServiceProvider) error {
	next := make([]model.ServiceProvider, len(r.providers))
	copy(next, r.providers)

	replaced := false
	for i := range next {
		if next[i].ID == provider.ID {
			next[i] = provider
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, provider)
	}

	if err := r.persistProviders(ctx, next); err != nil {
		return err
	}
	r.providers = next
	return nil
}

// setActiveProviderLocked persists and assigns the active provider id.
// Callers must hold the write lock.
func (r *Registry) setActiveProviderLocked(ctx context.Context, id string) error {
	if err := r.persistActiveProviderID(ctx, id); err != nil {
		return err
	}
	r.activeProviderID = id
	return nil
}

func (r *Registry) persistProviders(ctx context.Context, providers []model.ServiceProvider) error {
	raw, err := json.Marshal(providers)
	if err != nil {
		return fmt.Errorf("encode service providers: %w", err)
	}
	if err := r.store.Set(ctx, driven.KeyServiceProviders, raw); err != nil {
		return fmt.Errorf("persist service providers: %w", err)
	}
	return nil
}

func (r *Registry) persistActiveProviderID(ctx context.Context, id string) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode active provider id: %w", err)
	}
	if err := r.store.Set(ctx, driven.KeyActiveProviderID, raw); err != nil {
		return fmt.Errorf("persist active provider id: %w", err)
	}
	return nil
}
