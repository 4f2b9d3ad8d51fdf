// Package clifile reads account identity from the state file the wrapped
// CLI tool maintains in the user's home directory.
package clifile

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/myaipanel/internal/domain/model"
	"github.com/ericfisherdev/myaipanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialSource = (*Source)(nil)

// Source is the CredentialSource adapter over the CLI's identity file. The
// file is owned and rewritten by the CLI itself, so its shape is treated as
// untrusted: fields are extracted tolerantly and every failure mode reads as
// "no accounts discovered".
type Source struct {
	path   string
	logger *slog.Logger
}

// NewSource creates a Source reading the identity file at path.
func NewSource(path string, logger *slog.Logger) *Source {
	return &Source{path: path, logger: logger}
}

// ReadAccounts returns the zero-or-one account recorded in the identity
// file. A missing file, unreadable file, malformed JSON, or absent identity
// section all yield an empty slice; the underlying fault never propagates.
func (s *Source) ReadAccounts(ctx context.Context) []model.OfficialAccount {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("identity file unreadable", "path", s.path, "error", err)
		}
		return nil
	}

	if !gjson.ValidBytes(data) {
		s.logger.Warn("identity file is not valid JSON", "path", s.path)
		return nil
	}

	account := gjson.GetBytes(data, "oauthAccount")
	if !account.Exists() {
		return nil
	}

	email := account.Get("emailAddress").String()
	if email == "" {
		s.logger.Warn("identity file has no email address", "path", s.path)
		return nil
	}

	return []model.OfficialAccount{{
		AccountID:        account.Get("accountUuid").String(),
		Email:            email,
		OrganizationRole: account.Get("organizationRole").String(),
		WorkspaceRole:    account.Get("workspaceRole").String(),
	}}
}
