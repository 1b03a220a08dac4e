package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/studiosync/internal/config"
	"github.com/hyperengineering/studiosync/internal/snapshot"
	"github.com/hyperengineering/studiosync/internal/worker"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a backup of the local cache",
	Long: `Copy the local cache into the backup directory and, when a bucket is
configured, upload it and print a pre-signed download URL.`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

type backupResult struct {
	Path      string     `json:"path"`
	URL       string     `json:"url,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		return err
	}
	coord := worker.NewBackupCoordinator(st, cfg.Backup.Dir, cfg.Backup.ClientID, cfg.Backup.Interval.Std(), uploader)

	path, err := coord.BackupNow(ctx)
	if err != nil {
		return err
	}
	result := backupResult{Path: path}

	url, expiry, err := uploader.PresignedURL(ctx, cfg.Backup.ClientID)
	switch {
	case errors.Is(err, snapshot.ErrNotConfigured):
	case err != nil:
		return err
	default:
		result.URL = url
		result.ExpiresAt = &expiry
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", result.Path)
	if result.URL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Download: %s\nExpires:  %s\n", result.URL, expiry.Format(time.RFC3339))
	}
	return nil
}

// newBackupCoordinator builds the periodic backup worker for a running client.
func newBackupCoordinator(cfg *config.Config, st worker.BackupStore) (*worker.BackupCoordinator, error) {
	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		return nil, err
	}
	return worker.NewBackupCoordinator(st, cfg.Backup.Dir, cfg.Backup.ClientID, cfg.Backup.Interval.Std(), uploader), nil
}
