// Command coordd runs the distributed coordination server: named locks
// with leases and session presence tracking over Redis, exposed as MCP
// tools.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devflow-tools/mcp-coordination/internal/config"
	"github.com/devflow-tools/mcp-coordination/internal/coordination"
	"github.com/devflow-tools/mcp-coordination/internal/health"
	"github.com/devflow-tools/mcp-coordination/internal/kv"
	xlog "github.com/devflow-tools/mcp-coordination/internal/log"
	"github.com/devflow-tools/mcp-coordination/internal/mcpserver"
	"github.com/devflow-tools/mcp-coordination/internal/version"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	xlog.Configure(xlog.Config{Level: "info", Service: "coordd"})
	logger := xlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: cfg.ServerName})

	logger.Info().
		Str("version", version.Version).
		Str("redis", maskURL(cfg.RedisURL)).
		Int("port", cfg.ServerPort).
		Msg("starting coordination server")

	store, err := kv.NewRedisStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot reach backing store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing store")
		}
	}()

	sess := coordination.NewSessionContext(cfg)
	logger.Info().
		Str("session_id", sess.SessionID).
		Str("worktree", sess.Worktree).
		Msg("session identity derived")

	healthMgr := health.NewManager(version.Version)
	healthMgr.RegisterChecker(health.StoreChecker{Store: store})

	handler := mcpserver.NewHandler(store, sess, cfg)
	srv := mcpserver.New(cfg, handler, healthMgr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("coordination server stopped")
}
