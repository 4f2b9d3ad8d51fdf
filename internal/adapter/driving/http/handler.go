package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/myaipanel/internal/application"
	"github.com/ericfisherdev/myaipanel/internal/domain/model"
)

// Handler is the HTTP driving adapter that serves the loopback JSON API the
// desktop shell talks to.
type Handler struct {
	registry *application.Registry
	prefs    *application.Preferences
	transfer *application.Transfer
	refresh  *application.RefreshService
	hub      *EventHub
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. refresh may
// be nil when the refresh loop is not running; the manual refresh endpoint
// then reports unavailable.
func NewHandler(
	registry *application.Registry,
	prefs *application.Preferences,
	transfer *application.Transfer,
	refresh *application.RefreshService,
	hub *EventHub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		registry: registry,
		prefs:    prefs,
		transfer: transfer,
		refresh:  refresh,
		hub:      hub,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/providers", h.ListProviders)
	mux.HandleFunc("GET /api/v1/providers/active", h.GetActiveProvider)
	mux.HandleFunc("PUT /api/v1/providers/active", h.SetActiveProvider)
	mux.HandleFunc("GET /api/v1/providers/{id}", h.GetProvider)
	mux.HandleFunc("DELETE /api/v1/providers/{id}", h.RemoveProvider)
	mux.HandleFunc("PUT /api/v1/providers/{id}/proxy", h.SetProviderProxyUsage)
	mux.HandleFunc("PUT /api/v1/providers/{id}/accounts/active", h.SetActiveAccount)
	mux.HandleFunc("POST /api/v1/providers/{id}/accounts", h.UpsertThirdPartyAccount)
	mux.HandleFunc("DELETE /api/v1/providers/{id}/accounts/{accountID}", h.RemoveThirdPartyAccount)

	mux.HandleFunc("GET /api/v1/accounts/active", h.GetActiveAccount)
	mux.HandleFunc("POST /api/v1/accounts/official/refresh", h.RefreshOfficialAccounts)
	mux.HandleFunc("PUT /api/v1/accounts/official/credential", h.UpdateOfficialCredential)
	mux.HandleFunc("POST /api/v1/accounts/official/lookup", h.LookupOfficialAccount)

	mux.HandleFunc("GET /api/v1/settings/proxy", h.GetProxyConfig)
	mux.HandleFunc("PUT /api/v1/settings/proxy", h.UpdateProxyConfig)
	mux.HandleFunc("GET /api/v1/settings/terminal", h.GetTerminalSettings)
	mux.HandleFunc("PUT /api/v1/settings/terminal", h.UpdateTerminalSettings)
	mux.HandleFunc("GET /api/v1/settings/project-filter", h.GetProjectFilter)
	mux.HandleFunc("PUT /api/v1/settings/project-filter", h.UpdateProjectFilter)

	mux.HandleFunc("POST /api/v1/transfer/export", h.ExportSettings)
	mux.HandleFunc("POST /api/v1/transfer/import", h.ImportSettings)

	mux.HandleFunc("GET /api/v1/health", h.Health)

	if h.hub != nil {
		mux.HandleFunc("GET /api/v1/events", h.hub.HandleEvents)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListProviders returns all registered providers.
func (h *Handler) ListProviders(w http.ResponseWriter, _ *http.Request) {
	providers := h.registry.ListProviders()

	resp := make([]ProviderResponse, 0, len(providers))
	for _, p := range providers {
		resp = append(resp, toProviderResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetProvider returns a single provider by id.
func (h *Handler) GetProvider(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.registry.Provider(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}

	writeJSON(w, http.StatusOK, toProviderResponse(provider))
}

// RemoveProvider deletes a provider. Removing an unknown id succeeds; the
// registry treats it as a no-op.
func (h *Handler) RemoveProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.registry.RemoveProvider(r.Context(), id); err != nil {
		h.logger.Error("failed to remove provider", "provider_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetActiveProvider returns the provider the active pointer resolves to.
func (h *Handler) GetActiveProvider(w http.ResponseWriter, _ *http.Request) {
	provider, ok := h.registry.ActiveProvider()
	if !ok {
		writeError(w, http.StatusNotFound, "no active provider")
		return
	}

	writeJSON(w, http.StatusOK, toProviderResponse(provider))
}

// SetActiveProvider sets the active provider pointer. The registry accepts
// any id; a dangling pointer resolves to absent on read.
func (h *Handler) SetActiveProvider(w http.ResponseWriter, r *http.Request) {
	var req SetActiveProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.registry.SetActiveProvider(r.Context(), req.ProviderID); err != nil {
		h.logger.Error("failed to set active provider", "provider_id", req.ProviderID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetProviderProxyUsage updates one provider's proxy preference.
func (h *Handler) SetProviderProxyUsage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req SetProxyUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.registry.SetProviderProxyUsage(r.Context(), id, req.UseProxy); err != nil {
		h.logger.Error("failed to set proxy usage", "provider_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetActiveAccount marks an account active and promotes its provider.
func (h *Handler) SetActiveAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req SetActiveAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.registry.SetActiveAccount(r.Context(), id, req.AccountKey); err != nil {
		h.logger.Error("failed to set active account",
			"provider_id", id, "account_key", req.AccountKey, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpsertThirdPartyAccount stores a third-party account under the provider,
// creating the provider on first use.
func (h *Handler) UpsertThirdPartyAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req UpsertAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account := model.ThirdPartyAccount{
		ID:          req.ID,
		Name:        req.Name,
		APIKey:      req.APIKey,
		BaseURL:     req.BaseURL,
		Description: req.Description,
	}

	if err := h.registry.UpsertThirdPartyAccount(r.Context(), id, account); err != nil {
		h.logger.Error("failed to upsert account", "provider_id", id, "account_id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(model.Account{ThirdParty: &account}))
}

// RemoveThirdPartyAccount removes one account from a provider.
func (h *Handler) RemoveThirdPartyAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	accountID := r.PathValue("accountID")

	if err := h.registry.RemoveThirdPartyAccount(r.Context(), id, accountID); err != nil {
		h.logger.Error("failed to remove account", "provider_id", id, "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetActiveAccount returns the active account together with its provider.
func (h *Handler) GetActiveAccount(w http.ResponseWriter, _ *http.Request) {
	provider, account, ok := h.registry.ActiveAccount()
	if !ok {
		writeError(w, http.StatusNotFound, "no active account")
		return
	}

	writeJSON(w, http.StatusOK, ActiveAccountResponse{
		Provider: toProviderResponse(provider),
		Account:  toAccountResponse(account),
	})
}

// RefreshOfficialAccounts triggers a credential-source read outside the
// polling interval and waits for the merge to complete.
func (h *Handler) RefreshOfficialAccounts(w http.ResponseWriter, r *http.Request) {
	if h.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh service not running")
		return
	}

	if err := h.refresh.RefreshNow(r.Context()); err != nil {
		h.logger.Error("manual refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateOfficialCredential overwrites the stored credential for one official
// account. Unknown emails are a silent no-op.
func (h *Handler) UpdateOfficialCredential(w http.ResponseWriter, r *http.Request) {
	var req UpdateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.registry.UpdateOfficialCredential(r.Context(), req.Email, req.CredentialToken); err != nil {
		h.logger.Error("failed to update credential", "email", req.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LookupOfficialAccount maps a credential token back to the account it
// belongs to. The token arrives in the body so it stays out of access logs.
func (h *Handler) LookupOfficialAccount(w http.ResponseWriter, r *http.Request) {
	var req LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, ok := h.registry.FindOfficialAccountByCredential(req.CredentialToken)
	if !ok {
		writeError(w, http.StatusNotFound, "no account matches the credential")
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(model.Account{Official: &account}))
}

// GetProxyConfig returns the proxy settings with the password masked.
func (h *Handler) GetProxyConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toProxyConfigResponse(h.prefs.ProxyConfig()))
}

// UpdateProxyConfig replaces the proxy settings wholesale.
func (h *Handler) UpdateProxyConfig(w http.ResponseWriter, r *http.Request) {
	var req ProxyConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := model.ProxyConfig{
		Enabled:  req.Enabled,
		URL:      req.URL,
		Username: req.Username,
		Password: req.Password,
	}
	if err := h.prefs.UpdateProxyConfig(r.Context(), cfg); err != nil {
		h.logger.Error("failed to update proxy config", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetTerminalSettings returns the terminal appearance settings.
func (h *Handler) GetTerminalSettings(w http.ResponseWriter, _ *http.Request) {
	settings := h.prefs.TerminalSettings()
	writeJSON(w, http.StatusOK, TerminalSettingsResponse{
		FontFamily: settings.FontFamily,
		FontSize:   settings.FontSize,
	})
}

// UpdateTerminalSettings replaces the terminal appearance settings.
func (h *Handler) UpdateTerminalSettings(w http.ResponseWriter, r *http.Request) {
	var req TerminalSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings := model.TerminalSettings{FontFamily: req.FontFamily, FontSize: req.FontSize}
	if err := h.prefs.UpdateTerminalSettings(r.Context(), settings); err != nil {
		h.logger.Error("failed to update terminal settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetProjectFilter returns the project filter.
func (h *Handler) GetProjectFilter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toProjectFilterResponse(h.prefs.ProjectFilter()))
}

// UpdateProjectFilter replaces the project filter.
func (h *Handler) UpdateProjectFilter(w http.ResponseWriter, r *http.Request) {
	var req ProjectFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	filter := model.ProjectFilter{Enabled: req.Enabled, Patterns: req.Patterns}
	if err := h.prefs.UpdateProjectFilter(r.Context(), filter); err != nil {
		h.logger.Error("failed to update project filter", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExportSettings writes the settings document to the destination the shell's
// file picker chose. The outcome is a structured result either way.
func (h *Handler) ExportSettings(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Destination == "" {
		writeError(w, http.StatusBadRequest, "destination is required")
		return
	}

	if err := h.transfer.Export(r.Context(), req.Destination, req.IncludeSensitive); err != nil {
		h.logger.Error("export failed", "destination", req.Destination, "error", err)
		writeJSON(w, http.StatusInternalServerError, TransferResultResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, TransferResultResponse{Success: true})
}

// ImportSettings applies a settings document. Parse and version failures
// come back as a structured result with the registry untouched.
func (h *Handler) ImportSettings(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	imported, err := h.transfer.Import(r.Context(), req.Source)
	if err != nil {
		h.logger.Error("import failed", "source", req.Source, "error", err)
		writeJSON(w, http.StatusBadRequest, TransferResultResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, TransferResultResponse{Success: true, Imported: imported})
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
