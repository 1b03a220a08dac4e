package main

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var resetConfirm bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Empty the local cache",
	Long: `Drop every cached record, queued edit and tombstone. Edits the remote has
not acknowledged are lost. The next run repopulates the cache from the remote.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetConfirm, "yes", false, "Confirm that unsynced edits may be discarded")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetConfirm {
		return errors.WithHint(errors.New("reset discards unsynced local edits"), "pass --yes to confirm")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Reset(context.Background()); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"reset": true, "path": cfg.Cache.Path})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cache %s reset; run `studiosync run` to resync.\n", cfg.Cache.Path)
	return nil
}
