package driven

import (
	"context"

	"github.com/ericfisherdev/myaipanel/internal/domain/model"
)

// CredentialSource reads externally-discovered official accounts, typically
// from the identity file the wrapped CLI tool maintains on disk. In practice
// a read yields zero or one account. Implementations must swallow read and
// parse failures and return an empty slice; the fault never propagates to
// the registry.
type CredentialSource interface {
	ReadAccounts(ctx context.Context) []model.OfficialAccount
}
