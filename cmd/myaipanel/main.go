package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/joho/godotenv"

	clifileadapter "github.com/ericfisherdev/myaipanel/internal/adapter/driven/clifile"
	sqliteadapter "github.com/ericfisherdev/myaipanel/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/myaipanel/internal/adapter/driving/http"
	"github.com/ericfisherdev/myaipanel/internal/application"
	"github.com/ericfisherdev/myaipanel/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (.env for local development, then environment).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"identity_file", cfg.IdentityFile,
		"refresh_interval", cfg.RefreshInterval,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters and the event hub.
	settingsStore := sqliteadapter.NewSettingsRepo(db)
	identitySource := clifileadapter.NewSource(cfg.IdentityFile, slog.Default())
	hub := httphandler.NewEventHub(slog.Default())

	// 6. Create application services over the store.
	registry, err := application.NewRegistry(ctx, settingsStore, hub, slog.Default())
	if err != nil {
		return err
	}
	prefs, err := application.NewPreferences(ctx, settingsStore, hub, slog.Default())
	if err != nil {
		return err
	}
	transfer := application.NewTransfer(registry, prefs, hub, slog.Default())

	// 7. Create and start the credential refresh service.
	refreshSvc := application.NewRefreshService(identitySource, registry, cfg.RefreshInterval)
	go refreshSvc.Start(ctx)

	// 8. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(registry, prefs, transfer, refreshSvc, hub, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// 9. Log startup complete.
	slog.Info("myaipanel started",
		"listen_addr", cfg.ListenAddr,
		"refresh_interval", cfg.RefreshInterval,
	)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 11. Graceful shutdown with 10s timeout to drain open connections.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
