package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ccrouter/ccrouter/internal/config"
	"github.com/ccrouter/ccrouter/internal/httpapi"
	"github.com/ccrouter/ccrouter/internal/pidfile"
	"github.com/ccrouter/ccrouter/internal/provider"
	"github.com/ccrouter/ccrouter/internal/registry"
	"github.com/ccrouter/ccrouter/internal/state"
	"github.com/ccrouter/ccrouter/internal/tokenizer"
	"github.com/ccrouter/ccrouter/internal/tokenstore"
)

var pidFilePath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ccrouter HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&pidFilePath, "pidfile", defaultPidfilePath(), "path to write the server's PID file")
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tokenStore, err := buildTokenStore(cfg.Server)
	if err != nil {
		return fmt.Errorf("building token store: %w", err)
	}

	deps := registry.Deps{
		HTTPClient: provider.NewHTTPClient(),
		TokenStore: tokenStore,
		Estimator:  tokenizer.New(nil),
	}

	snap, err := state.Build(cfg, deps)
	if err != nil {
		return fmt.Errorf("building initial snapshot: %w", err)
	}
	cell := state.NewCell(snap)

	pf := pidfile.New(pidFilePath)
	if err := pf.Write(); err != nil {
		return fmt.Errorf("writing pidfile: %w", err)
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			slog.Warn("failed to remove pidfile", "error", err)
		}
	}()

	srv := httpapi.New(cell, configPath, deps)
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port)),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("ccrouter listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-serveErr
}

// buildTokenStore wires the tokenstore.Store backend named by
// cfg.Server.TokenStore: "file" (default, on-disk JSON at
// $HOME/.ccrouter/tokens.json)
// or "redis" (shared across a multi-instance deployment).
func buildTokenStore(cfg config.ServerConfig) (tokenstore.Store, error) {
	switch cfg.TokenStore {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return tokenstore.NewRedisStore(client, "ccrouter:tokens:"), nil
	default:
		return tokenstore.NewFileStore(defaultTokenStorePath())
	}
}
