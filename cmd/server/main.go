package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollcall/internal/adapters/email"
	web "rollcall/internal/adapters/http"
	"rollcall/internal/adapters/metrics"
	"rollcall/internal/adapters/storage"
	accountStore "rollcall/internal/adapters/storage/account"
	auditStore "rollcall/internal/adapters/storage/audit"
	memberStore "rollcall/internal/adapters/storage/member"
	transitionStore "rollcall/internal/adapters/storage/transition"
	"rollcall/internal/adapters/terrain"
	"rollcall/internal/application/orchestrators"
	"rollcall/internal/config"
	"rollcall/internal/domain/rostersync"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server_failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(config.NewLogger(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New(nil)
	timedDB := storage.NewTimedDB(db, m, cfg.SlowQuery)
	stores := web.Stores{
		Accounts:    accountStore.NewSQLiteStore(timedDB),
		Members:     memberStore.NewSQLiteStore(timedDB),
		Transitions: transitionStore.NewSQLiteStore(timedDB),
		Audit:       auditStore.NewSQLiteStore(timedDB),
	}

	seedDeps := orchestrators.CreateAccountDeps{AccountStore: stores.Accounts}
	if err := orchestrators.ExecuteSeedAdmin(ctx, seedDeps, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return err
	}

	source, err := terrain.NewSource(ctx, cfg.RosterFile, terrain.ClientConfig{
		BaseURL:           cfg.TerrainURL,
		Token:             cfg.TerrainToken,
		ClientID:          cfg.TerrainClientID,
		ClientSecret:      cfg.TerrainClientSecret,
		TokenURL:          cfg.TerrainTokenURL,
		RequestsPerSecond: cfg.TerrainRPS,
	})
	if err != nil {
		return err
	}

	if cfg.ResendKey == "" {
		if cfg.IsProduction() {
			slog.Warn("email_disabled", "hint", "ROLLCALL_RESEND_KEY is not set; sync reports will not be delivered")
		} else {
			slog.Info("email_noop", "hint", "set ROLLCALL_RESEND_KEY for real delivery")
		}
	}

	csrfKey, err := cfg.CSRFSecret()
	if err != nil {
		return err
	}
	srv, err := web.NewServer(web.Options{
		Secure:            cfg.IsProduction(),
		CSRFKey:           csrfKey,
		TrustedOrigins:    cfg.TrustedOrigins,
		RequestsPerSecond: cfg.HTTPRPS,
		LoginPerMinute:    cfg.LoginPerMinute,
		SlowRequest:       cfg.SlowRequest,
		ReportRecipients:  cfg.ReportRecipients,
		EmailFrom:         cfg.EmailFrom,
		ReplyTo:           cfg.ReplyTo,
	}, web.Deps{
		Stores:     stores,
		Source:     source,
		Reconciler: rostersync.New(cfg.Ranks),
		Metrics:    m,
		Sender:     email.NewSender(cfg.ResendKey, cfg.EmailFrom),
		DB:         timedDB,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// roster fetches can page through a slow api
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_starting",
			"version", version,
			"addr", cfg.Addr,
			"env", cfg.Env,
			"schema", storage.LatestSchemaVersion(),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = httpServer.Shutdown(shutdownCtx)
	srv.Sessions().Clear()
	return err
}
