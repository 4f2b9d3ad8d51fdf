package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/myaipanel/internal/domain/port/driven"
)

// refreshRequest represents a manual credential refresh trigger.
type refreshRequest struct {
	done chan error
}

// RefreshService keeps the official provider in step with the identity file
// the wrapped CLI maintains on disk. Each cycle reads the credential source
// and merges whatever it hands over; the service itself never touches the
// network or launches anything.
type RefreshService struct {
	source    driven.CredentialSource
	registry  *Registry
	interval  time.Duration
	refreshCh chan refreshRequest
}

// NewRefreshService creates a RefreshService polling on the given interval.
func NewRefreshService(source driven.CredentialSource, registry *Registry, interval time.Duration) *RefreshService {
	return &RefreshService{
		source:    source,
		registry:  registry,
		interval:  interval,
		refreshCh: make(chan refreshRequest),
	}
}

// Start begins the refresh loop. It runs an immediate refresh, then refreshes
// on the configured interval, and listens for manual triggers in between.
// Start blocks until the context is canceled.
func (s *RefreshService) Start(ctx context.Context) {
	if err := s.refresh(ctx); err != nil {
		slog.Error("initial credential refresh failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh service stopped")
			return
		case <-ticker.C:
			if err := s.refresh(ctx); err != nil {
				slog.Error("credential refresh failed", "error", err)
			}
		case req := <-s.refreshCh:
			req.done <- s.refresh(ctx)
		}
	}
}

// RefreshNow triggers a refresh cycle outside the polling interval. It
// blocks until the refresh completes or the context is canceled.
func (s *RefreshService) RefreshNow(ctx context.Context) error {
	done := make(chan error, 1)

	select {
	case s.refreshCh <- refreshRequest{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresh reads the credential source and merges what it finds. The source
// returns an empty list when the identity file is missing or unreadable;
// merging that would clear the active account, so the cycle is skipped.
func (s *RefreshService) refresh(ctx context.Context) error {
	accounts := s.source.ReadAccounts(ctx)
	if len(accounts) == 0 {
		slog.Debug("credential source returned no accounts, skipping merge")
		return nil
	}

	if err := s.registry.MergeOfficialAccounts(ctx, accounts); err != nil {
		return fmt.Errorf("merge detected accounts: %w", err)
	}

	slog.Info("official accounts refreshed", "detected", len(accounts))
	return nil
}
