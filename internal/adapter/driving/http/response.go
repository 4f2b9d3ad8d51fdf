package httphandler

import (
	"encoding/json"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/ericfisherdev/myaipanel/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// maskSecret hides all but the last four characters of a secret. Full
// credential values never leave over a read endpoint.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// ProviderResponse is the JSON representation of a service provider.
type ProviderResponse struct {
	ID               string            `json:"id"`
	Kind             string            `json:"kind"`
	Name             string            `json:"name"`
	UseProxy         bool              `json:"use_proxy"`
	ActiveAccountKey string            `json:"active_account_key,omitempty"`
	Accounts         []AccountResponse `json:"accounts"`
}

// AccountResponse is the JSON representation of one account. Kind selects
// which field group is populated; credential material is masked.
type AccountResponse struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`

	// Official account fields.
	AccountID        string `json:"account_id,omitempty"`
	Email            string `json:"email,omitempty"`
	OrganizationRole string `json:"organization_role,omitempty"`
	WorkspaceRole    string `json:"workspace_role,omitempty"`
	CredentialToken  string `json:"credential_token,omitempty"`

	// Third-party account fields.
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	BaseURL     string `json:"base_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// ActiveAccountResponse pairs the active account with its provider.
type ActiveAccountResponse struct {
	Provider ProviderResponse `json:"provider"`
	Account  AccountResponse  `json:"account"`
}

// ProxyConfigResponse is the JSON representation of the proxy settings.
// The password is masked; the stored value never leaves over GET.
type ProxyConfigResponse struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// TerminalSettingsResponse is the JSON representation of terminal settings.
type TerminalSettingsResponse struct {
	FontFamily string `json:"font_family,omitempty"`
	FontSize   int    `json:"font_size,omitempty"`
}

// ProjectFilterResponse is the JSON representation of the project filter.
type ProjectFilterResponse struct {
	Enabled  bool     `json:"enabled"`
	Patterns []string `json:"patterns"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// TransferResultResponse is the structured outcome of an export or import.
type TransferResultResponse struct {
	Success  bool     `json:"success"`
	Imported []string `json:"imported,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// SetActiveProviderRequest is the JSON body for the set-active-provider endpoint.
type SetActiveProviderRequest struct {
	ProviderID string `json:"provider_id"`
}

// SetActiveAccountRequest is the JSON body for the set-active-account endpoint.
type SetActiveAccountRequest struct {
	AccountKey string `json:"account_key"`
}

// SetProxyUsageRequest is the JSON body for the per-provider proxy toggle.
type SetProxyUsageRequest struct {
	UseProxy bool `json:"use_proxy"`
}

// UpsertAccountRequest is the JSON body for the third-party account upsert.
type UpsertAccountRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	APIKey      string `json:"api_key"`
	BaseURL     string `json:"base_url"`
	Description string `json:"description"`
}

// Validate rejects requests that would produce an unusable account. The API
// is stricter than the registry itself: the base URL must parse as a URL so
// typos surface here instead of at request time.
func (r UpsertAccountRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.BaseURL, validation.Required, is.URL),
	)
}

// UpdateCredentialRequest is the JSON body for the official credential update.
type UpdateCredentialRequest struct {
	Email           string `json:"email"`
	CredentialToken string `json:"credential_token"`
}

// LookupRequest is the JSON body for the credential lookup endpoint. The
// token travels in a POST body so it never lands in request logs.
type LookupRequest struct {
	CredentialToken string `json:"credential_token"`
}

// ProxyConfigRequest is the JSON body for the proxy settings update.
type ProxyConfigRequest struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// TerminalSettingsRequest is the JSON body for the terminal settings update.
type TerminalSettingsRequest struct {
	FontFamily string `json:"font_family"`
	FontSize   int    `json:"font_size"`
}

// ProjectFilterRequest is the JSON body for the project filter update.
type ProjectFilterRequest struct {
	Enabled  bool     `json:"enabled"`
	Patterns []string `json:"patterns"`
}

// ExportRequest is the JSON body for the settings export endpoint.
type ExportRequest struct {
	Destination      string `json:"destination"`
	IncludeSensitive bool   `json:"include_sensitive"`
}

// ImportRequest is the JSON body for the settings import endpoint.
type ImportRequest struct {
	Source string `json:"source"`
}

// toProviderResponse converts a domain ServiceProvider to its JSON
// representation with credential material masked.
func toProviderResponse(p model.ServiceProvider) ProviderResponse {
	accounts := make([]AccountResponse, 0, len(p.Accounts))
	for _, a := range p.Accounts {
		accounts = append(accounts, toAccountResponse(a))
	}

	return ProviderResponse{
		ID:               p.ID,
		Kind:             string(p.Kind),
		Name:             p.Name,
		UseProxy:         p.UseProxy,
		ActiveAccountKey: p.ActiveAccountKey,
		Accounts:         accounts,
	}
}

// toAccountResponse converts a domain Account to its JSON representation.
func toAccountResponse(a model.Account) AccountResponse {
	switch {
	case a.Official != nil:
		return AccountResponse{
			Kind:             string(model.ProviderKindOfficial),
			Key:              a.Official.Email,
			AccountID:        a.Official.AccountID,
			Email:            a.Official.Email,
			OrganizationRole: a.Official.OrganizationRole,
			WorkspaceRole:    a.Official.WorkspaceRole,
			CredentialToken:  maskSecret(a.Official.CredentialToken),
		}
	case a.ThirdParty != nil:
		return AccountResponse{
			Kind:        string(model.ProviderKindThirdParty),
			Key:         a.ThirdParty.ID,
			ID:          a.ThirdParty.ID,
			Name:        a.ThirdParty.Name,
			APIKey:      maskSecret(a.ThirdParty.APIKey),
			BaseURL:     a.ThirdParty.BaseURL,
			Description: a.ThirdParty.Description,
		}
	default:
		return AccountResponse{}
	}
}

// toProxyConfigResponse converts proxy settings to their JSON representation.
func toProxyConfigResponse(cfg model.ProxyConfig) ProxyConfigResponse {
	return ProxyConfigResponse{
		Enabled:  cfg.Enabled,
		URL:      cfg.URL,
		Username: cfg.Username,
		Password: maskSecret(cfg.Password),
	}
}

// toProjectFilterResponse converts the project filter to its JSON
// representation with a non-nil patterns list.
func toProjectFilterResponse(filter model.ProjectFilter) ProjectFilterResponse {
	patterns := filter.Patterns
	if patterns == nil {
		patterns = []string{}
	}
	return ProjectFilterResponse{Enabled: filter.Enabled, Patterns: patterns}
}
