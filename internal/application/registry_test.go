package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/myaipanel/internal/domain/model"
	"github.com/ericfisherdev/myaipanel/internal/domain/port/driven"
)

// memStore is an in-memory SettingsStore for service tests.
type memStore struct {
	mu      sync.Mutex
	data    map[string]json.RawMessage
	failSet bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]json.RawMessage)}
}

func (s *memStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	return raw, ok, nil
}

func (s *memStore) Set(_ context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return errors.New("store unavailable")
	}
	s.data[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (s *memStore) GetAll(_ context.Context) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]json.RawMessage, len(s.data))
	for k, v := range s.data {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

// captureNotifier records published topics in order.
type captureNotifier struct {
	mu     sync.Mutex
	topics []string
}

func (n *captureNotifier) Publish(topic string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, topic)
}

func (n *captureNotifier) published(topic string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) (*Registry, *memStore, *captureNotifier) {
	t.Helper()
	store := newMemStore()
	notifier := &captureNotifier{}
	registry, err := NewRegistry(context.Background(), store, notifier, testLogger())
	require.NoError(t, err)
	return registry, store, notifier
}

func officialAccount(email, token string) model.OfficialAccount {
	return model.OfficialAccount{
		AccountID:        "acct-" + email,
		Email:            email,
		OrganizationRole: "member",
		WorkspaceRole:    "developer",
		CredentialToken:  token,
	}
}

func TestNewRegistryStartsEmpty(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	assert.Empty(t, registry.ListProviders())
	_, ok := registry.ActiveProvider()
	assert.False(t, ok)
	assert.True(t, registry.ShouldUseProxy())
}

func TestNewRegistryRecoversFromCorruptState(t *testing.T) {
	store := newMemStore()
	store.data[driven.KeyServiceProviders] = json.RawMessage(`{not json`)
	store.data[driven.KeyActiveProviderID] = json.RawMessage(`{not json`)

	registry, err := NewRegistry(context.Background(), store, &captureNotifier{}, testLogger())
	require.NoError(t, err)
	assert.Empty(t, registry.ListProviders())
}

func TestRegistryStateSurvivesReload(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("dev@example.com", "tok-1"),
	}))
	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", model.ThirdPartyAccount{
		ID: "or-1", Name: "OpenRouter", APIKey: "sk-or", BaseURL: "https://openrouter.ai/api",
	}))
	require.NoError(t, registry.SetActiveProvider(ctx, "openrouter"))

	reloaded, err := NewRegistry(ctx, store, &captureNotifier{}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, registry.ListProviders(), reloaded.ListProviders())
	active, ok := reloaded.ActiveProvider()
	require.True(t, ok)
	assert.Equal(t, "openrouter", active.ID)
}

func TestMergeOfficialAccountsCreatesProvider(t *testing.T) {
	registry, _, notifier := newTestRegistry(t)

	err := registry.MergeOfficialAccounts(context.Background(), []model.OfficialAccount{
		officialAccount("dev@example.com", "tok-1"),
	})
	require.NoError(t, err)

	provider, ok := registry.Provider(model.OfficialProviderID)
	require.True(t, ok)
	assert.Equal(t, model.ProviderKindOfficial, provider.Kind)
	assert.True(t, provider.UseProxy)
	assert.Equal(t, "dev@example.com", provider.ActiveAccountKey)
	require.Len(t, provider.Accounts, 1)
	assert.True(t, notifier.published(driven.TopicProvidersUpdated))
	assert.True(t, notifier.published(driven.TopicActiveAccountChanged))
}

func TestMergeOfficialAccountsRetainsCredentialForEmptyIncoming(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("dev@example.com", "tok-original"),
	}))

	// A re-detection usually carries no credential; the stored one survives.
	incoming := officialAccount("dev@example.com", "")
	incoming.WorkspaceRole = "admin"
	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{incoming}))

	provider, ok := registry.Provider(model.OfficialProviderID)
	require.True(t, ok)
	require.Len(t, provider.Accounts, 1)
	got := provider.Accounts[0].Official
	require.NotNil(t, got)
	assert.Equal(t, "tok-original", got.CredentialToken)
	assert.Equal(t, "admin", got.WorkspaceRole)
}

func TestMergeOfficialAccountsReplacesCredentialWhenIncomingHasOne(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("dev@example.com", "tok-old"),
	}))
	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("dev@example.com", "tok-new"),
	}))

	provider, _ := registry.Provider(model.OfficialProviderID)
	require.Len(t, provider.Accounts, 1)
	assert.Equal(t, "tok-new", provider.Accounts[0].Official.CredentialToken)
}

func TestMergeOfficialAccountsRetainsAbsentAccounts(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("old@example.com", "tok-old"),
		officialAccount("new@example.com", "tok-new"),
	}))
	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("new@example.com", ""),
	}))

	provider, _ := registry.Provider(model.OfficialProviderID)
	require.Len(t, provider.Accounts, 2)

	_, ok := provider.AccountByKey("old@example.com")
	assert.True(t, ok, "accounts absent from incoming must be retained")
}

func TestMergeOfficialAccountsRederivesActiveKeyFromIncoming(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("first@example.com", "tok-1"),
	}))

	// The retained account no longer appears in incoming, so the active key
	// moves to the first incoming entry even though first@ is still stored.
	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("second@example.com", "tok-2"),
	}))

	provider, _ := registry.Provider(model.OfficialProviderID)
	assert.Equal(t, "second@example.com", provider.ActiveAccountKey)

	// The active key stays put while it keeps appearing in incoming.
	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("first@example.com", ""),
		officialAccount("second@example.com", ""),
	}))
	provider, _ = registry.Provider(model.OfficialProviderID)
	assert.Equal(t, "second@example.com", provider.ActiveAccountKey)
}

func TestMergeOfficialAccountsEmptyIncomingClearsActiveKey(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("dev@example.com", "tok-1"),
	}))
	require.NoError(t, registry.MergeOfficialAccounts(ctx, nil))

	provider, _ := registry.Provider(model.OfficialProviderID)
	assert.Empty(t, provider.ActiveAccountKey)
	require.Len(t, provider.Accounts, 1, "clearing the key must not delete accounts")
}

func TestMergeOfficialAccountsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	incoming := []model.OfficialAccount{
		officialAccount("a@example.com", "tok-a"),
		officialAccount("b@example.com", "tok-b"),
	}
	require.NoError(t, registry.MergeOfficialAccounts(ctx, incoming))
	first := registry.ListProviders()

	require.NoError(t, registry.MergeOfficialAccounts(ctx, incoming))
	assert.Equal(t, first, registry.ListProviders())
}

func TestUpsertProviderReplacesByID(t *testing.T) {
	ctx := context.Background()
	registry, _, notifier := newTestRegistry(t)

	provider := model.ServiceProvider{
		ID: "openrouter", Kind: model.ProviderKindThirdParty, Name: "OpenRouter",
	}
	require.NoError(t, registry.UpsertProvider(ctx, provider))

	provider.Name = "OpenRouter (renamed)"
	require.NoError(t, registry.UpsertProvider(ctx, provider))

	providers := registry.ListProviders()
	require.Len(t, providers, 1, "same id must replace, not duplicate")
	assert.Equal(t, "OpenRouter (renamed)", providers[0].Name)
	assert.True(t, notifier.published(driven.TopicProvidersUpdated))

	require.NoError(t, registry.UpsertProvider(ctx, model.ServiceProvider{
		ID: "relay", Kind: model.ProviderKindThirdParty, Name: "Relay",
	}))
	assert.Len(t, registry.ListProviders(), 2)
}

func TestRemoveProviderClearsActivePointer(t *testing.T) {
	ctx := context.Background()
	registry, _, notifier := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("dev@example.com", "tok-1"),
	}))
	require.NoError(t, registry.SetActiveProvider(ctx, model.OfficialProviderID))

	require.NoError(t, registry.RemoveProvider(ctx, model.OfficialProviderID))

	_, ok := registry.ActiveProvider()
	assert.False(t, ok, "active provider must resolve to absent after removal")
	assert.Empty(t, registry.ListProviders())
	assert.True(t, notifier.published(driven.TopicActiveProviderChanged))
}

func TestRemoveProviderUnknownIDIsNoOp(t *testing.T) {
	ctx := context.Background()
	registry, _, notifier := newTestRegistry(t)

	require.NoError(t, registry.RemoveProvider(ctx, "nope"))
	assert.Empty(t, notifier.topics)
}

func TestSetActiveProviderAllowsDanglingID(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	require.NoError(t, registry.SetActiveProvider(ctx, "not-registered"))

	_, ok := registry.ActiveProvider()
	assert.False(t, ok)
	assert.True(t, registry.ShouldUseProxy(), "dangling active id falls back to proxy on")
}

func TestSetActiveAccountPromotesProvider(t *testing.T) {
	ctx := context.Background()
	registry, _, notifier := newTestRegistry(t)

	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", model.ThirdPartyAccount{
		ID: "or-1", Name: "OpenRouter", APIKey: "sk-1", BaseURL: "https://openrouter.ai/api",
	}))
	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", model.ThirdPartyAccount{
		ID: "or-2", Name: "OpenRouter EU", APIKey: "sk-2", BaseURL: "https://eu.openrouter.ai/api",
	}))

	require.NoError(t, registry.SetActiveAccount(ctx, "openrouter", "or-2"))

	provider, account, ok := registry.ActiveAccount()
	require.True(t, ok)
	assert.Equal(t, "openrouter", provider.ID)
	assert.Equal(t, "or-2", account.NaturalKey())
	assert.True(t, notifier.published(driven.TopicActiveAccountChanged))
	assert.True(t, notifier.published(driven.TopicActiveProviderChanged))
}

func TestSetActiveAccountUnknownKeyIsNoOp(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", model.ThirdPartyAccount{
		ID: "or-1", Name: "OpenRouter", APIKey: "sk-1", BaseURL: "https://openrouter.ai/api",
	}))

	require.NoError(t, registry.SetActiveAccount(ctx, "openrouter", "missing"))

	provider, _ := registry.Provider("openrouter")
	assert.Equal(t, "or-1", provider.ActiveAccountKey, "active key must stay on an existing account")
}

func TestSetProviderProxyUsage(t *testing.T) {
	ctx := context.Background()
	registry, _, notifier := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("dev@example.com", "tok"),
	}))
	require.NoError(t, registry.SetActiveProvider(ctx, model.OfficialProviderID))
	require.True(t, registry.ShouldUseProxy())

	require.NoError(t, registry.SetProviderProxyUsage(ctx, model.OfficialProviderID, false))

	assert.False(t, registry.ShouldUseProxy())
	assert.True(t, notifier.published(driven.TopicProviderProxyChanged))
}

func TestUpsertThirdPartyAccountIsIdempotent(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	account := model.ThirdPartyAccount{
		ID: "or-1", Name: "OpenRouter", APIKey: "sk-1", BaseURL: "https://openrouter.ai/api",
	}
	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", account))
	first := registry.ListProviders()

	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", account))
	assert.Equal(t, first, registry.ListProviders())
}

func TestUpsertThirdPartyAccountActivatesFirstAccount(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", model.ThirdPartyAccount{
		ID: "or-1", Name: "OpenRouter", APIKey: "sk-1", BaseURL: "https://openrouter.ai/api",
	}))
	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", model.ThirdPartyAccount{
		ID: "or-2", Name: "OpenRouter EU", APIKey: "sk-2", BaseURL: "https://eu.openrouter.ai/api",
	}))

	provider, _ := registry.Provider("openrouter")
	assert.Equal(t, model.ProviderKindThirdParty, provider.Kind)
	assert.False(t, provider.UseProxy)
	assert.Equal(t, "or-1", provider.ActiveAccountKey, "only the first upsert activates")
	assert.Len(t, provider.Accounts, 2)
}

func TestRemoveThirdPartyAccountMovesActiveKey(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", model.ThirdPartyAccount{
		ID: "or-1", Name: "A", APIKey: "sk-1", BaseURL: "https://a.example.com",
	}))
	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", model.ThirdPartyAccount{
		ID: "or-2", Name: "B", APIKey: "sk-2", BaseURL: "https://b.example.com",
	}))

	require.NoError(t, registry.RemoveThirdPartyAccount(ctx, "openrouter", "or-1"))

	provider, _ := registry.Provider("openrouter")
	assert.Equal(t, "or-2", provider.ActiveAccountKey)
	assert.Len(t, provider.Accounts, 1)

	require.NoError(t, registry.RemoveThirdPartyAccount(ctx, "openrouter", "or-2"))
	provider, _ = registry.Provider("openrouter")
	assert.Empty(t, provider.ActiveAccountKey)
	assert.Empty(t, provider.Accounts)
}

func TestRemoveThirdPartyAccountUnknownIDsAreNoOps(t *testing.T) {
	ctx := context.Background()
	registry, _, notifier := newTestRegistry(t)

	require.NoError(t, registry.RemoveThirdPartyAccount(ctx, "nope", "or-1"))

	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", model.ThirdPartyAccount{
		ID: "or-1", Name: "A", APIKey: "sk-1", BaseURL: "https://a.example.com",
	}))
	before := len(notifier.topics)
	require.NoError(t, registry.RemoveThirdPartyAccount(ctx, "openrouter", "missing"))
	assert.Len(t, notifier.topics, before, "a no-op must not publish")
}

func TestUpdateOfficialCredential(t *testing.T) {
	ctx := context.Background()
	registry, _, notifier := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("dev@example.com", "tok-old"),
	}))

	require.NoError(t, registry.UpdateOfficialCredential(ctx, "dev@example.com", "tok-new"))

	got, ok := registry.FindOfficialAccountByCredential("tok-new")
	require.True(t, ok)
	assert.Equal(t, "dev@example.com", got.Email)
	assert.True(t, notifier.published(driven.TopicCredentialUpdated))

	_, ok = registry.FindOfficialAccountByCredential("tok-old")
	assert.False(t, ok)
}

func TestUpdateOfficialCredentialUnknownEmailIsNoOp(t *testing.T) {
	ctx := context.Background()
	registry, _, notifier := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("dev@example.com", "tok"),
	}))
	before := len(notifier.topics)

	require.NoError(t, registry.UpdateOfficialCredential(ctx, "other@example.com", "tok-new"))
	assert.Len(t, notifier.topics, before)
}

func TestFindOfficialAccountByCredentialEmptyTokenNeverMatches(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("dev@example.com", ""),
	}))

	_, ok := registry.FindOfficialAccountByCredential("")
	assert.False(t, ok)
}

func TestMutationFailurePreservesInMemoryState(t *testing.T) {
	ctx := context.Background()
	registry, store, notifier := newTestRegistry(t)

	require.NoError(t, registry.UpsertThirdPartyAccount(ctx, "openrouter", model.ThirdPartyAccount{
		ID: "or-1", Name: "A", APIKey: "sk-1", BaseURL: "https://a.example.com",
	}))
	before := registry.ListProviders()
	publishedBefore := len(notifier.topics)

	store.failSet = true
	err := registry.UpsertThirdPartyAccount(ctx, "openrouter", model.ThirdPartyAccount{
		ID: "or-2", Name: "B", APIKey: "sk-2", BaseURL: "https://b.example.com",
	})
	require.Error(t, err)

	assert.Equal(t, before, registry.ListProviders(), "failed writes must not change state")
	assert.Len(t, notifier.topics, publishedBefore, "failed writes must not publish")
}

func TestListProvidersReturnsIsolatedCopies(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	require.NoError(t, registry.MergeOfficialAccounts(ctx, []model.OfficialAccount{
		officialAccount("dev@example.com", "tok"),
	}))

	snapshot := registry.ListProviders()
	require.Len(t, snapshot, 1)
	snapshot[0].Accounts[0].Official.CredentialToken = "mutated"

	provider, _ := registry.Provider(model.OfficialProviderID)
	assert.Equal(t, "tok", provider.Accounts[0].Official.CredentialToken)
}
