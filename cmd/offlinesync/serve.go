package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/offlinesync/internal/assetwatch"
	"github.com/agentworkforce/offlinesync/internal/config"
	"github.com/agentworkforce/offlinesync/internal/httpapi"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent in front of the application",
		Long: `Start the agent. It precaches the application shell, activates the current
cache generation and then proxies every request through the cache tiers.
The control API is served under /_offline.

Example:
  offlinesync serve --config ./offlinesync.yaml
  OFFLINESYNC_ORIGIN=http://127.0.0.1:3000 offlinesync serve --addr :8787`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	logger := log.Default()

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.agent.Install(ctx); err != nil {
		logger.Printf("starting without a fresh shell precache: %v", err)
	}
	// Seed the monitor so its first poll does not start a second startup sync.
	rt.monitor.Check(ctx)
	if err := rt.agent.Activate(ctx); err != nil {
		logger.Printf("activation incomplete: %v", err)
	}
	go rt.monitor.Run(ctx)

	if cfg.ReleaseManifest != "" {
		watcher, err := assetwatch.New(assetwatch.Options{
			Path:     cfg.ReleaseManifest,
			Current:  cfg.Version,
			OnChange: rt.agent.Upgrade,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Printf("release watcher stopped: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewServerWithConfig(rt.agent, httpapi.ServerConfig{
			RateLimitMax:    cfg.RateLimitMax,
			RateLimitWindow: cfg.RateLimitWindow,
			MaxBodyBytes:    cfg.MaxBodyBytes,
			SyncOnCapture:   true,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Printf("offlinesync %s listening on %s, proxying %s (probe %s)", cfg.Version, cfg.Addr, cfg.Origin, cfg.ProbeTarget())

	select {
	case <-ctx.Done():
		logger.Printf("offlinesync stopping: %v", ctx.Err())
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
