package worker

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hyperengineering/studiosync/internal/snapshot"
)

// BackupStore is a cache that can write a consistent copy of itself.
// This interface allows testing with mock implementations.
type BackupStore interface {
	Backup(ctx context.Context, path string) error
}

// BackupCoordinator periodically copies the local cache to disk and, when
// storage is configured, uploads the copy.
type BackupCoordinator struct {
	store    BackupStore
	uploader snapshot.Uploader
	dir      string
	clientID string
	interval time.Duration
}

// NewBackupCoordinator creates a coordinator that writes backups of store
// into dir. The uploader parameter is optional; if nil, backups stay local.
func NewBackupCoordinator(
	store BackupStore,
	dir string,
	clientID string,
	interval time.Duration,
	uploader snapshot.Uploader,
) *BackupCoordinator {
	return &BackupCoordinator{
		store:    store,
		uploader: uploader,
		dir:      dir,
		clientID: clientID,
		interval: interval,
	}
}

// Path returns where backups are written.
func (c *BackupCoordinator) Path() string {
	return filepath.Join(c.dir, c.clientID+".db")
}

// Run starts the coordinator loop. A backup is taken immediately, then once
// per interval until ctx is canceled.
func (c *BackupCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup-coordinator",
		"action", "worker_started",
		"interval", c.interval,
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

func (c *BackupCoordinator) runOnce(ctx context.Context) {
	path, err := c.BackupNow(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return // shutting down
		}
		slog.Warn("cache backup failed",
			"component", "worker",
			"worker", "backup-coordinator",
			"action", "backup_failed",
			"error", err,
		)
		return
	}
	slog.Info("cache backup completed",
		"component", "worker",
		"worker", "backup-coordinator",
		"action", "backup_complete",
		"path", path,
	)
}

// BackupNow writes a backup and uploads it. Upload failures are logged but
// not returned; the local copy is still valid.
func (c *BackupCoordinator) BackupNow(ctx context.Context) (string, error) {
	path := c.Path()
	if err := c.store.Backup(ctx, path); err != nil {
		return "", errors.Wrap(err, "backup cache")
	}

	if c.uploader != nil {
		c.upload(ctx, path)
	}
	return path, nil
}

func (c *BackupCoordinator) upload(ctx context.Context, path string) {
	if err := c.uploader.Upload(ctx, c.clientID, path); err != nil {
		slog.Warn("backup upload failed",
			"component", "worker",
			"worker", "backup-coordinator",
			"action", "backup_upload_failed",
			"client_id", c.clientID,
			"error", err,
		)
		return
	}

	slog.Info("backup uploaded",
		"component", "worker",
		"worker", "backup-coordinator",
		"action", "backup_uploaded",
		"client_id", c.clientID,
	)
}
