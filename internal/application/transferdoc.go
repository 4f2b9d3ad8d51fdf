package application

import (
	"encoding/json"
	"fmt"

	"github.com/ericfisherdev/myaipanel/internal/domain/model"
	"github.com/ericfisherdev/myaipanel/internal/obfuscate"
)

// transferDocumentVersion is the only document version this build reads or
// writes. Import rejects any other version instead of guessing at it.
const transferDocumentVersion = 1

// transferDocument is the on-disk shape of an exported settings file. The
// camelCase field names are part of the exchange format and must not drift.
type transferDocument struct {
	Version              int               `json:"version"`
	Timestamp            string            `json:"timestamp,omitempty"`
	IncludeSensitiveData bool              `json:"includeSensitiveData"`
	Settings             *transferSettings `json:"settings"`
}

type transferSettings struct {
	ProxyConfig      *transferProxyConfig   `json:"proxyConfig,omitempty"`
	Terminal         *transferTerminal      `json:"terminal,omitempty"`
	ProjectFilter    *transferProjectFilter `json:"projectFilter,omitempty"`
	ServiceProviders []transferProvider     `json:"serviceProviders,omitempty"`
}

// transferProxyConfig carries the proxy endpoint. Auth is present only in
// documents exported with sensitive data, with both fields obfuscated.
type transferProxyConfig struct {
	Enabled bool               `json:"enabled"`
	URL     string             `json:"url,omitempty"`
	Auth    *transferProxyAuth `json:"auth,omitempty"`
}

type transferProxyAuth struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type transferTerminal struct {
	FontFamily string `json:"fontFamily,omitempty"`
	FontSize   int    `json:"fontSize,omitempty"`
}

type transferProjectFilter struct {
	Enabled  bool     `json:"enabled"`
	Patterns []string `json:"patterns,omitempty"`
}

// transferProvider is one registry entry in the document. Account entries
// are flat JSON objects whose shape follows the provider's type, so they are
// kept raw here and decoded per kind.
type transferProvider struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Name            string            `json:"name"`
	UseProxy        bool              `json:"useProxy"`
	ActiveAccountID string            `json:"activeAccountId,omitempty"`
	Accounts        []json.RawMessage `json:"accounts,omitempty"`
}

type transferOfficialAccount struct {
	AccountID        string `json:"accountId,omitempty"`
	EmailAddress     string `json:"emailAddress"`
	OrganizationRole string `json:"organizationRole,omitempty"`
	WorkspaceRole    string `json:"workspaceRole,omitempty"`
	CredentialToken  string `json:"credentialToken,omitempty"`
}

type transferThirdPartyAccount struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	APIKey      string `json:"apiKey,omitempty"`
	BaseURL     string `json:"baseUrl"`
	Description string `json:"description,omitempty"`
}

// exportProvider converts a registry provider into its document form.
// Sensitive fields (credential tokens, API keys) are obfuscated and included
// only when includeSensitive is set; public fields are always carried.
func exportProvider(p model.ServiceProvider, includeSensitive bool) (transferProvider, error) {
	out := transferProvider{
		ID:              p.ID,
		Type:            string(p.Kind),
		Name:            p.Name,
		UseProxy:        p.UseProxy,
		ActiveAccountID: p.ActiveAccountKey,
	}

	for _, account := range p.Accounts {
		var entry any
		switch {
		case account.Official != nil:
			doc := transferOfficialAccount{
				AccountID:        account.Official.AccountID,
				EmailAddress:     account.Official.Email,
				OrganizationRole: account.Official.OrganizationRole,
				WorkspaceRole:    account.Official.WorkspaceRole,
			}
			if includeSensitive && account.Official.CredentialToken != "" {
				doc.CredentialToken = obfuscate.Encode(account.Official.CredentialToken)
			}
			entry = doc
		case account.ThirdParty != nil:
			doc := transferThirdPartyAccount{
				ID:          account.ThirdParty.ID,
				DisplayName: account.ThirdParty.Name,
				BaseURL:     account.ThirdParty.BaseURL,
				Description: account.ThirdParty.Description,
			}
			if includeSensitive && account.ThirdParty.APIKey != "" {
				doc.APIKey = obfuscate.Encode(account.ThirdParty.APIKey)
			}
			entry = doc
		default:
			continue
		}

		raw, err := json.Marshal(entry)
		if err != nil {
			return transferProvider{}, fmt.Errorf("encode account entry: %w", err)
		}
		out.Accounts = append(out.Accounts, raw)
	}

	return out, nil
}
