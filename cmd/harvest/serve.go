package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/api"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/scraper"
)

// shutdownGrace is how long in-flight requests get to finish.
const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := slog.Default()
		log.Info("harvest starting",
			"addr", cfg.Addr(),
			"mode", cfg.Server.Mode,
			"max_browsers", cfg.Browser.MaxBrowsers,
			"max_pages_per_browser", cfg.Browser.MaxPagesPerBrowser,
			"session_backend", cfg.Session.Backend,
		)

		sc, err := scraper.Open(cfg, engine.NewRodLauncher(cfg.Browser, log), log)
		if err != nil {
			return err
		}
		// Runs after the HTTP server drained: closes the pool and kills Chrome.
		defer sc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           api.NewRouter(ctx, sc, cfg, log),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			log.Info("HTTP server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
			log.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server forced shutdown", "error", err)
		} else {
			log.Info("HTTP server drained gracefully")
		}
		return nil
	},
}
