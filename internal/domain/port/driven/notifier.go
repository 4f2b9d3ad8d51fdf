package driven

// Notification topics published after registry and preferences mutations.
// Payloads are advisory snapshots; consumers are expected to re-query state
// rather than trust payload completeness.
const (
	TopicProvidersUpdated      = "providers.updated"
	TopicActiveProviderChanged = "active_provider.changed"
	TopicActiveAccountChanged  = "active_account.changed"
	TopicProviderProxyChanged  = "provider_proxy.changed"
	TopicCredentialUpdated     = "credential.updated"
	TopicProxyConfigUpdated    = "proxy_config.updated"
	TopicSettingsUpdated       = "settings.updated"
	TopicSettingsImported      = "settings.imported"
)

// Notifier announces state changes to the UI layer. Publish is
// fire-and-forget: no delivery guarantee, no backpressure, and it must never
// block the mutation path.
type Notifier interface {
	Publish(topic string, payload any)
}

// NopNotifier discards every event. Useful as a default and in tests.
type NopNotifier struct{}

// Publish implements Notifier.
func (NopNotifier) Publish(string, any) {}
