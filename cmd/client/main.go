package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hvalfangst/heroes-oauth/app"
	"github.com/hvalfangst/heroes-oauth/auth"
	"github.com/hvalfangst/heroes-oauth/config"
	"github.com/hvalfangst/heroes-oauth/internal/observability"
	"github.com/hvalfangst/heroes-oauth/routes"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewClient(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	deps, err := app.NewClientDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize dependencies", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      routes.SetupClientRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("client listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if cfg.OpenBrowser {
		target := loginURL(cfg.Server)
		if err := auth.OpenBrowser(target); err != nil {
			logger.Warn("could not open browser, visit the login URL manually",
				zap.String("url", target), zap.Error(err))
		}
	}

	select {
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

// loginURL is where the browser starts the authorization code flow
func loginURL(cfg config.ServerConfig) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d/auth/login", host, cfg.Port)
}
