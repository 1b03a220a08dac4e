package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/studiosync/internal/api"
	"github.com/hyperengineering/studiosync/internal/remote"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference remote store",
	Long:  "Serve the realtime protocol on /ws and the collection REST API on /api/v1.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := remote.NewHub(slog.Default())
	handler := api.NewHandler(hub, reg, cfg.Server.AuthToken, Version, cfg.Server.WriteTimeout.Std())
	router := api.NewRouter(handler)
	if cfg.Server.AuthToken == "" {
		slog.Warn("server running without authentication", "component", "server")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout.Std(),
		// WebSocket connections are long-lived; per-message deadlines are
		// set on the connection instead.
		WriteTimeout: 0,
	}

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	handler.Close()

	slog.Info("shutdown complete")
	return nil
}
