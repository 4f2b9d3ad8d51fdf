package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountNaturalKey(t *testing.T) {
	official := Account{Official: &OfficialAccount{AccountID: "acc-1", Email: "a@x.com"}}
	assert.Equal(t, "a@x.com", official.NaturalKey())

	thirdParty := Account{ThirdParty: &ThirdPartyAccount{ID: "relay-1", Name: "Relay"}}
	assert.Equal(t, "relay-1", thirdParty.NaturalKey())

	assert.Equal(t, "", Account{}.NaturalKey())
	assert.True(t, Account{}.IsZero())
}

func TestProviderAccountByKey(t *testing.T) {
	p := ServiceProvider{
		ID:   OfficialProviderID,
		Kind: ProviderKindOfficial,
		Accounts: []Account{
			{Official: &OfficialAccount{Email: "a@x.com"}},
			{Official: &OfficialAccount{Email: "b@x.com"}},
		},
	}

	got, ok := p.AccountByKey("b@x.com")
	require.True(t, ok)
	assert.Equal(t, "b@x.com", got.Official.Email)

	_, ok = p.AccountByKey("missing@x.com")
	assert.False(t, ok)

	_, ok = p.AccountByKey("")
	assert.False(t, ok, "empty key must resolve to absent, not match a zero account")
}

func TestProviderActiveAccount(t *testing.T) {
	p := ServiceProvider{
		Kind:             ProviderKindThirdParty,
		ActiveAccountKey: "relay-1",
		Accounts: []Account{
			{ThirdParty: &ThirdPartyAccount{ID: "relay-1", Name: "Relay", BaseURL: "https://relay.example.com"}},
		},
	}

	got, ok := p.ActiveAccount()
	require.True(t, ok)
	assert.Equal(t, "relay-1", got.ThirdParty.ID)

	p.ActiveAccountKey = "gone"
	_, ok = p.ActiveAccount()
	assert.False(t, ok, "dangling active key resolves to absent")

	p.ActiveAccountKey = ""
	_, ok = p.ActiveAccount()
	assert.False(t, ok)
}

func TestProviderCloneIsDeep(t *testing.T) {
	p := ServiceProvider{
		ID:   "relay",
		Kind: ProviderKindThirdParty,
		Accounts: []Account{
			{ThirdParty: &ThirdPartyAccount{ID: "relay-1", APIKey: "sk-original"}},
		},
	}

	c := p.Clone()
	c.Accounts[0].ThirdParty.APIKey = "sk-mutated"

	assert.Equal(t, "sk-original", p.Accounts[0].ThirdParty.APIKey)
}

func TestThirdPartyAccountValidate(t *testing.T) {
	valid := ThirdPartyAccount{ID: "relay-1", Name: "Relay", BaseURL: "https://relay.example.com"}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		account ThirdPartyAccount
	}{
		{"missing id", ThirdPartyAccount{Name: "Relay", BaseURL: "https://relay.example.com"}},
		{"missing name", ThirdPartyAccount{ID: "relay-1", BaseURL: "https://relay.example.com"}},
		{"missing base url", ThirdPartyAccount{ID: "relay-1", Name: "Relay"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.account.Validate())
		})
	}
}
