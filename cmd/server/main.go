package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nvoice/backend/internal/account"
	"nvoice/backend/internal/catalog"
	"nvoice/backend/internal/config"
	"nvoice/backend/internal/httpapi"
	"nvoice/backend/internal/kvstore"
	"nvoice/backend/internal/logging"
	"nvoice/backend/internal/receipt"
	"nvoice/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	api, closers, err := buildAPI(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("POS backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", "error", err)
		}
	}

	logger.Info("server stopped")
}

// buildAPI opens storage and wires every component behind the HTTP API. The
// returned closers release storage connections.
func buildAPI(ctx context.Context, cfg config.Config, logger *slog.Logger) (*httpapi.API, []func() error, error) {
	store, err := kvstore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{store.Close}

	svc := service.New(store, catalog.Default(), logger, service.Options{
		DefaultStock:      cfg.DefaultStock,
		LowStockThreshold: cfg.LowStockThreshold,
	})
	if err := svc.Bootstrap(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("seed inventory: %w", err)
	}

	users := account.NewUserStore(store, logger)
	sessions := account.NewSessionStore(store, logger, time.Duration(cfg.SessionTTLHours)*time.Hour)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, users, sessions, logger)
	if cfg.SeedDemoUser {
		if err := auth.SeedDemoUser(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("seed demo user: %w", err)
		}
	}

	var logo []byte
	if cfg.LogoPath != "" {
		logo, err = os.ReadFile(cfg.LogoPath)
		if err != nil {
			// receipts still print without a logo
			logger.Warn("receipt logo unavailable", "path", cfg.LogoPath, "error", err)
		}
	}
	receipts, err := receipt.NewRenderer(receipt.Options{
		StoreName: cfg.StoreName,
		Phone:     cfg.StorePhone,
		Currency:  cfg.Currency,
		Logo:      logo,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	api := httpapi.New(svc, auth, receipts, logger, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		CookieSecure:  cfg.CookieSecure,
	})
	return api, closers, nil
}

var weakSecrets = []string{"dev-change-me", "change-me", "changeme", "secret", "password"}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	lower := strings.ToLower(cfg.AuthSecret)
	for _, weak := range weakSecrets {
		if strings.Contains(lower, weak) {
			return fmt.Errorf("AUTH_SECRET must not contain %q", weak)
		}
	}
	if strings.Count(cfg.AuthSecret, cfg.AuthSecret[:1]) == len(cfg.AuthSecret) {
		return fmt.Errorf("AUTH_SECRET must not repeat a single character")
	}
	return nil
}
