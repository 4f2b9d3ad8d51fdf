package model

import (
	validation "github.com/go-ozzo/ozzo-validation"
)

// ProviderKind discriminates the two account families a ServiceProvider
// can hold. Accounts within one provider are homogeneous: all official or
// all third-party.
type ProviderKind string

const (
	ProviderKindOfficial   ProviderKind = "official"
	ProviderKindThirdParty ProviderKind = "third_party"
)

// OfficialProviderID is the fixed registry id of the single official-kind
// provider. It is created lazily on first account registration.
const OfficialProviderID = "claude_official"

// OfficialProviderName is the display name given to the lazily created
// official provider.
const OfficialProviderName = "Claude Official"

// OfficialAccount is an identity discovered from the official account pool.
// Email is the natural key. CredentialToken is obtained out-of-band and only
// stored here, never generated.
type OfficialAccount struct {
	AccountID        string `json:"account_id"`
	Email            string `json:"email"`
	OrganizationRole string `json:"organization_role,omitempty"`
	WorkspaceRole    string `json:"workspace_role,omitempty"`
	CredentialToken  string `json:"credential_token,omitempty"`
}

// ThirdPartyAccount is a caller-supplied credential set for an
// API-compatible endpoint. ID is the natural key.
type ThirdPartyAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	APIKey      string `json:"api_key,omitempty"`
	BaseURL     string `json:"base_url"`
	Description string `json:"description,omitempty"`
}

// Validate enforces the minimum shape a third-party account must have before
// it may enter the registry: id, name, and base URL all non-empty. Anything
// beyond that (URL syntax, key format) is left to the endpoint to reject.
func (a ThirdPartyAccount) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.ID, validation.Required),
		validation.Field(&a.Name, validation.Required),
		validation.Field(&a.BaseURL, validation.Required),
	)
}

// Account is the tagged variant over the two account families. Exactly one
// of Official or ThirdParty is non-nil, matching the owning provider's kind.
// Field access must go through the tag check; NaturalKey dispatches on it.
type Account struct {
	Official   *OfficialAccount   `json:"official,omitempty"`
	ThirdParty *ThirdPartyAccount `json:"third_party,omitempty"`
}

// NaturalKey returns the identity the owning provider keys this account by:
// the email for official accounts, the id for third-party accounts. Returns
// "" for a zero Account.
func (a Account) NaturalKey() string {
	switch {
	case a.Official != nil:
		return a.Official.Email
	case a.ThirdParty != nil:
		return a.ThirdParty.ID
	default:
		return ""
	}
}

// IsZero reports whether neither variant is set.
func (a Account) IsZero() bool {
	return a.Official == nil && a.ThirdParty == nil
}

// clone returns a deep copy so registry snapshots never alias caller state.
func (a Account) clone() Account {
	var out Account
	if a.Official != nil {
		official := *a.Official
		out.Official = &official
	}
	if a.ThirdParty != nil {
		thirdParty := *a.ThirdParty
		out.ThirdParty = &thirdParty
	}
	return out
}

// ServiceProvider is one named source of assistant access: the official
// vendor pool or a third-party-compatible endpoint. ActiveAccountKey is ""
// or the natural key of an account present in Accounts.
type ServiceProvider struct {
	ID               string       `json:"id"`
	Kind             ProviderKind `json:"kind"`
	Name             string       `json:"name"`
	UseProxy         bool         `json:"use_proxy"`
	ActiveAccountKey string       `json:"active_account_key,omitempty"`
	Accounts         []Account    `json:"accounts"`
}

// AccountByKey finds an account by its natural key.
func (p ServiceProvider) AccountByKey(key string) (Account, bool) {
	if key == "" {
		return Account{}, false
	}
	for _, a := range p.Accounts {
		if a.NaturalKey() == key {
			return a, true
		}
	}
	return Account{}, false
}

// ActiveAccount resolves ActiveAccountKey against Accounts. A broken or
// empty key resolves to absent, never an error.
func (p ServiceProvider) ActiveAccount() (Account, bool) {
	return p.AccountByKey(p.ActiveAccountKey)
}

// Clone returns a deep copy of the provider including its accounts.
func (p ServiceProvider) Clone() ServiceProvider {
	out := p
	out.Accounts = make([]Account, 0, len(p.Accounts))
	for _, a := range p.Accounts {
		out.Accounts = append(out.Accounts, a.clone())
	}
	return out
}
