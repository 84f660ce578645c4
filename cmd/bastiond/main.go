// Command bastiond runs the SSH bastion: it terminates inbound client
// connections, authenticates and authorizes them against the Identity
// Store and policy engine, and bridges authorized sessions to backend
// targets.
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

	"github.com/ashureev/sshbastion/internal/bastion"
	"github.com/ashureev/sshbastion/internal/config"
	"github.com/ashureev/sshbastion/internal/ops"
	"github.com/ashureev/sshbastion/internal/policy"
	"github.com/ashureev/sshbastion/internal/ratelimit"
	"github.com/ashureev/sshbastion/internal/store"
	"github.com/ashureev/sshbastion/internal/targetconn"
	"github.com/ashureev/sshbastion/internal/vault"
)

func main() {
	cfgPath := "bastion.toml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel.SlogLevel()}))
	slog.SetDefault(logger)

	repo, err := store.NewSQLite(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize identity store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := repo.Close(); cerr != nil {
			logger.Error("failed to close identity store", "error", cerr)
		}
	}()

	vlt, err := vault.NewFromBase64(cfg.SecretKey)
	if err != nil {
		logger.Error("failed to initialize secret vault", "error", err)
		os.Exit(1)
	}

	engine := policy.New(policy.Full, repo, repo)
	if err := engine.Reload(context.Background()); err != nil {
		logger.Error("failed to load initial policy set", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxIPAttempts:   cfg.MaxIPAttempts,
		MaxUserAttempts: cfg.MaxUserAttempts,
		UnbanDuration:   cfg.UnbanDuration.Duration(),
	}, logger)

	targetCacheTTL := targetconn.DefaultTTL
	if !cfg.ReuseTargetConnection {
		targetCacheTTL = 0
	} else if cfg.TargetCacheDuration.Duration() > 0 {
		targetCacheTTL = cfg.TargetCacheDuration.Duration()
	}
	targets := targetconn.New(repo, targetCacheTTL, logger)

	reserved := bastion.NewReservedNames()

	srv, err := bastion.New(bastion.Deps{
		Config:   cfg,
		Repo:     repo,
		Vault:    vlt,
		Engine:   engine,
		Limiter:  limiter,
		Targets:  targets,
		Reserved: reserved,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to construct bastion server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opsHTTP := ops.Serve(":9090", ops.NewRouter(srv.Metrics()))
	go func() {
		logger.Info("ops http listening", "addr", opsHTTP.Addr)
		if err := opsHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops http server failed", "error", err)
		}
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			logger.Info("reloading policy set")
			if err := engine.Reload(context.Background()); err != nil {
				logger.Error("policy reload failed", "error", err)
			}
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("bastion server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsHTTP.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops http shutdown failed", "error", err)
	}
}
