package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ospins/ghauth"
)

const (
	sessionSweepInterval = time.Hour
	shutdownTimeout      = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Starts the HTTP server for the GitHub login flow.

Required environment:
  GITHUB_CLIENT_ID, GITHUB_CLIENT_SECRET, GITHUB_CALLBACK_URL,
  SESSION_SECRET (32+ characters), APP_URL

Optional environment:
  APP_ENV=production enables Secure cookies
  HTTP_ADDR, LOG_LEVEL, OTEL_EXPORTER_OTLP_ENDPOINT,
  GITHUB_AUTH_URL, GITHUB_TOKEN_URL, GITHUB_API_URL`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ghauth.ConfigFromEnv()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg ghauth.Config) error {
	logger := ghauth.NewLogger(os.Stdout, ghauth.ParseLevel(cfg.LogLevel))

	// Fail fast: a half-configured server would only produce error redirects.
	if err := cfg.Validate(); err != nil {
		logger.Error("config.invalid", "refusing to start", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := ghauth.SetupTracing(ctx, "ghauth", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing.shutdown_failed", "could not flush spans", "error", err)
		}
	}()

	limiter := ghauth.NewRateLimiter(ghauth.DefaultRateWindow, ghauth.DefaultRateLimit)
	defer limiter.Stop()

	auth := ghauth.New(cfg, ghauth.Deps{Limiter: limiter, Logger: logger})
	defer auth.Close()
	go sweepSessions(ctx, auth.Sessions(), logger)

	mux := http.NewServeMux()
	mux.Handle("/auth/", auth.Routes())
	mux.Handle("GET /me", auth.RequireAuth(http.HandlerFunc(meHandler)))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Slog().Handler(), slog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.started", "listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("server.stopping", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sweepSessions(ctx context.Context, sessions *ghauth.Sessions, logger *ghauth.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := sessions.Sweep(ctx)
			if err != nil {
				logger.Error("auth.session.sweep_failed", "could not sweep expired sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("auth.session.swept", "removed expired sessions", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func meHandler(w http.ResponseWriter, r *http.Request) {
	u := ghauth.CurrentUser(r)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":         u.ID,
		"username":   u.Username,
		"avatar_url": u.AvatarURL,
		"email":      u.Email,
	})
}
