package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/studiosync/internal/engine"
	"github.com/hyperengineering/studiosync/internal/types"
	"github.com/hyperengineering/studiosync/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep the local cache in sync with the remote",
	Long:  "Start the sync engine and log every record state change until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sc, err := startEngine(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	slog.Info("sync engine started", "remote", cfg.Remote.URL)

	var wg sync.WaitGroup
	for _, c := range types.AllCollections() {
		startWorker(ctx, &wg, "observer-"+string(c), func(ctx context.Context) {
			logNotifications(ctx, sc.engine, c)
		})
	}
	sweeper := worker.NewRetrySweeper(sc.engine, cfg.Sync.RetrySweepInterval.Std(), cfg.Sync.RetryFailed)
	startWorker(ctx, &wg, "retry-sweeper", sweeper.Run)

	if cfg.Backup.Interval > 0 {
		backups, err := newBackupCoordinator(cfg, sc.store)
		if err != nil {
			slog.Error("backup disabled", "error", err)
		} else {
			startWorker(ctx, &wg, "backup-coordinator", backups.Run)
		}
	}

	<-ctx.Done()
	slog.Info("shutdown initiated")
	wg.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := sc.close(closeCtx); err != nil {
		slog.Error("engine close error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}

// logNotifications logs every state change of a collection.
func logNotifications(ctx context.Context, e *engine.Engine, c types.Collection) {
	for n := range e.ObserveCollection(ctx, c) {
		attrs := []any{
			"component", "observer",
			"collection", c,
			"record_id", n.Record.ID,
			"state", n.State,
			"version", n.Record.Version,
			"removed", n.Removed,
		}
		if n.Err != nil {
			slog.Warn("record sync issue", append(attrs, "error", n.Err)...)
			continue
		}
		slog.Debug("record state", attrs...)
	}
}
