package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitpress/gitpress/internal/app/migrate"
	"github.com/gitpress/gitpress/internal/auth"
	"github.com/gitpress/gitpress/internal/command"
	"github.com/gitpress/gitpress/internal/config"
	"github.com/gitpress/gitpress/internal/content"
	"github.com/gitpress/gitpress/internal/dbedit"
	"github.com/gitpress/gitpress/internal/deploy"
	"github.com/gitpress/gitpress/internal/gitx"
	httpx "github.com/gitpress/gitpress/internal/http"
	"github.com/gitpress/gitpress/internal/logger"
	"github.com/gitpress/gitpress/internal/repository/postgres"
	"github.com/gitpress/gitpress/internal/site"
	"github.com/gitpress/gitpress/internal/ws"
)

func main() {
	cfg := config.Load()
	log := logger.New("gitpress", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()

	syncer := gitx.NewSynchronizer(cfg.DefaultBranch, cfg.GitTimeout, log)
	registry := deploy.NewRegistry()
	go registry.RunSweeper(ctx, cfg.TaskSweepEvery, cfg.TaskRetention)

	publisher, err := deploy.NewFilePublisher(cfg.PublishRoot)
	if err != nil {
		log.Error("failed to prepare publish root", "error", err)
		os.Exit(1)
	}

	cmdRunner := command.NewRunner(log)
	deploySvc := deploy.New(registry, syncer, cmdRunner, publisher, hub, log, cfg.BuildTimeout, cfg.ValidateTimeout, cfg.MaxConcurrentTasks)
	contentSvc := content.New(syncer, log)
	tableSvc := dbedit.New(contentSvc, loadTablePolicies(cfg.TablePolicyFile, log), log)
	siteSvc := site.New(repo, syncer, log, cfg.PATEncryptionKey, cfg.WorkspaceRoot)
	authSvc := auth.New(repo, log, cfg.JWTSecret, cfg.AccessTokenTTL)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, siteSvc, deploySvc, contentSvc, tableSvc, syncer, hub, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("gitpress server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("gitpress server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// loadTablePolicies reads the table editor allowlist. A missing file means no
// tables are editable.
func loadTablePolicies(path string, log *slog.Logger) map[string]dbedit.ColumnPolicy {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("table policy file unreadable; table editing disabled", "path", path, "error", err)
		return nil
	}
	var policies map[string]dbedit.ColumnPolicy
	if err := json.Unmarshal(data, &policies); err != nil {
		log.Warn("table policy file invalid; table editing disabled", "path", path, "error", err)
		return nil
	}
	return policies
}
